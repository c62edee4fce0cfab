package graph

import (
	"fmt"
	"sort"
)

// Graph is the in-memory property graph. It is a plain data structure
// with no locking: the MemoryStore serializes mutation and hands out
// superseded copies as consistent read views.
type Graph struct {
	nodes map[string]*Node
	edges map[EdgeKey]*Edge

	// Adjacency and secondary indexes, rebuilt incrementally on mutation.
	out    map[string]map[EdgeKey]*Edge
	in     map[string]map[EdgeKey]*Edge
	byKind map[NodeKind]map[string]*Node
	byName map[string]map[string]*Node // name -> id -> node
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:  make(map[string]*Node),
		edges:  make(map[EdgeKey]*Edge),
		out:    make(map[string]map[EdgeKey]*Edge),
		in:     make(map[string]map[EdgeKey]*Edge),
		byKind: make(map[NodeKind]map[string]*Node),
		byName: make(map[string]map[string]*Node),
	}
}

// PutNode upserts a node, keeping the name and kind indexes in sync.
// The Changed flag of an existing node survives a property update.
func (g *Graph) PutNode(n *Node) {
	if n == nil {
		return
	}
	if old, ok := g.nodes[n.ID]; ok {
		n.Changed = n.Changed || old.Changed
		g.unindexNode(old)
	}
	g.nodes[n.ID] = n
	g.indexNode(n)
}

// DeleteNode removes a node and every edge incident to it.
func (g *Graph) DeleteNode(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for key := range g.out[id] {
		g.DeleteEdge(key)
	}
	for key := range g.in[id] {
		g.DeleteEdge(key)
	}
	g.unindexNode(n)
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
}

// PutEdge upserts an edge. Both endpoints must already exist.
func (g *Graph) PutEdge(e *Edge) error {
	if _, ok := g.nodes[e.From]; !ok {
		return fmt.Errorf("%w: edge source %s", ErrNodeNotFound, e.From)
	}
	if _, ok := g.nodes[e.To]; !ok {
		return fmt.Errorf("%w: edge target %s", ErrNodeNotFound, e.To)
	}
	key := e.Key()
	g.edges[key] = e
	if g.out[e.From] == nil {
		g.out[e.From] = make(map[EdgeKey]*Edge)
	}
	if g.in[e.To] == nil {
		g.in[e.To] = make(map[EdgeKey]*Edge)
	}
	g.out[e.From][key] = e
	g.in[e.To][key] = e
	return nil
}

// DeleteEdge removes an edge by its identity tuple.
func (g *Graph) DeleteEdge(key EdgeKey) {
	if _, ok := g.edges[key]; !ok {
		return
	}
	delete(g.edges, key)
	delete(g.out[key.From], key)
	delete(g.in[key.To], key)
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns the edge with the given identity tuple.
func (g *Graph) Edge(key EdgeKey) (*Edge, bool) {
	e, ok := g.edges[key]
	return e, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns all nodes sorted by id for deterministic iteration.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesByKind returns all nodes of the given kind, sorted by id.
func (g *Graph) NodesByKind(kind NodeKind) []*Node {
	byID := g.byKind[kind]
	out := make([]*Node, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesByName returns all nodes carrying the given name property.
func (g *Graph) NodesByName(name string) []*Node {
	byID := g.byName[name]
	out := make([]*Node, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges sorted by key for deterministic iteration.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// EdgesFrom returns edges whose source is id, optionally filtered by kind.
func (g *Graph) EdgesFrom(id string, kinds ...EdgeKind) []*Edge {
	return filterEdges(g.out[id], kinds)
}

// EdgesTo returns edges whose target is id, optionally filtered by kind.
func (g *Graph) EdgesTo(id string, kinds ...EdgeKind) []*Edge {
	return filterEdges(g.in[id], kinds)
}

// EdgesByKind returns all edges of the given kind.
func (g *Graph) EdgesByKind(kind EdgeKind) []*Edge {
	var out []*Edge
	for key, e := range g.edges {
		if key.Kind == kind {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// ChangedIDs returns the ids of all nodes with the changed flag set.
func (g *Graph) ChangedIDs() []string {
	var out []string
	for id, n := range g.nodes {
		if n.Changed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy. Used for copy-on-write commits and for
// snapshot capture, so a view handed out earlier is never mutated.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	for _, n := range g.nodes {
		c.PutNode(n.Clone())
	}
	for _, e := range g.edges {
		// Endpoints exist by construction.
		_ = c.PutEdge(e.Clone())
	}
	return c
}

func (g *Graph) indexNode(n *Node) {
	if g.byKind[n.Kind] == nil {
		g.byKind[n.Kind] = make(map[string]*Node)
	}
	g.byKind[n.Kind][n.ID] = n
	if name := n.StringProp(PropName); name != "" {
		if g.byName[name] == nil {
			g.byName[name] = make(map[string]*Node)
		}
		g.byName[name][n.ID] = n
	}
}

func (g *Graph) unindexNode(n *Node) {
	delete(g.byKind[n.Kind], n.ID)
	if name := n.StringProp(PropName); name != "" {
		delete(g.byName[name], n.ID)
		if len(g.byName[name]) == 0 {
			delete(g.byName, name)
		}
	}
}

func filterEdges(set map[EdgeKey]*Edge, kinds []EdgeKind) []*Edge {
	var out []*Edge
	for key, e := range set {
		if len(kinds) == 0 {
			out = append(out, e)
			continue
		}
		for _, k := range kinds {
			if key.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.To < b.To
	})
}

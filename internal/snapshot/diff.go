package snapshot

import (
	"reflect"
	"sort"

	"lawgraph/internal/graph"
)

// PropChange records one property's value on each side of a diff. A nil
// Before means the property was added, a nil After means removed.
type PropChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// NodeChange describes a node present on both sides with differing
// content.
type NodeChange struct {
	ID    string                `json:"id"`
	Props map[string]PropChange `json:"props"`
}

// EdgeChange describes an edge present on both sides with differing
// properties. Edge identity is (from, kind, to), so an endpoint change
// is an add plus a remove, never a modification.
type EdgeChange struct {
	Key   graph.EdgeKey         `json:"key"`
	Props map[string]PropChange `json:"props"`
}

// DiffResult partitions both snapshots' contents. The modified set is
// symmetric: Diff(a, b) and Diff(b, a) name the same nodes and edges as
// modified, with before/after swapped.
type DiffResult struct {
	NodesAdded     []*graph.Node   `json:"nodes_added"`
	NodesRemoved   []*graph.Node   `json:"nodes_removed"`
	NodesModified  []NodeChange    `json:"nodes_modified"`
	NodesUnchanged []string        `json:"nodes_unchanged"`
	EdgesAdded     []graph.EdgeKey `json:"edges_added"`
	EdgesRemoved   []graph.EdgeKey `json:"edges_removed"`
	EdgesModified  []EdgeChange    `json:"edges_modified"`
	EdgesUnchanged []graph.EdgeKey `json:"edges_unchanged"`
}

// Empty reports whether the two snapshots have identical content.
func (d *DiffResult) Empty() bool {
	return len(d.NodesAdded) == 0 && len(d.NodesRemoved) == 0 && len(d.NodesModified) == 0 &&
		len(d.EdgesAdded) == 0 && len(d.EdgesRemoved) == 0 && len(d.EdgesModified) == 0
}

// Diff computes the structural difference between two snapshots. The
// changed flag is operational state and never participates: two graphs
// differing only in changed flags diff as identical.
func Diff(oldSnap, newSnap *Snapshot) *DiffResult {
	d := &DiffResult{}

	oldNodes := make(map[string]*graph.Node, len(oldSnap.Nodes))
	for _, n := range oldSnap.Nodes {
		oldNodes[n.ID] = n
	}
	newNodes := make(map[string]*graph.Node, len(newSnap.Nodes))
	for _, n := range newSnap.Nodes {
		newNodes[n.ID] = n
	}

	for _, n := range newSnap.Nodes {
		before, ok := oldNodes[n.ID]
		if !ok {
			d.NodesAdded = append(d.NodesAdded, n)
			continue
		}
		changes := nodeChanges(before, n)
		if len(changes) == 0 {
			d.NodesUnchanged = append(d.NodesUnchanged, n.ID)
		} else {
			d.NodesModified = append(d.NodesModified, NodeChange{ID: n.ID, Props: changes})
		}
	}
	for _, n := range oldSnap.Nodes {
		if _, ok := newNodes[n.ID]; !ok {
			d.NodesRemoved = append(d.NodesRemoved, n)
		}
	}

	oldEdges := make(map[graph.EdgeKey]*graph.Edge, len(oldSnap.Edges))
	for _, e := range oldSnap.Edges {
		oldEdges[e.Key()] = e
	}
	newEdges := make(map[graph.EdgeKey]*graph.Edge, len(newSnap.Edges))
	for _, e := range newSnap.Edges {
		newEdges[e.Key()] = e
	}

	for _, e := range newSnap.Edges {
		before, ok := oldEdges[e.Key()]
		if !ok {
			d.EdgesAdded = append(d.EdgesAdded, e.Key())
			continue
		}
		changes := propChanges(before.Props, e.Props)
		if len(changes) == 0 {
			d.EdgesUnchanged = append(d.EdgesUnchanged, e.Key())
		} else {
			d.EdgesModified = append(d.EdgesModified, EdgeChange{Key: e.Key(), Props: changes})
		}
	}
	for _, e := range oldSnap.Edges {
		if _, ok := newEdges[e.Key()]; !ok {
			d.EdgesRemoved = append(d.EdgesRemoved, e.Key())
		}
	}

	d.sortAll()
	return d
}

// nodeChanges compares two versions of a node. Kind is reported like a
// property under the "kind" key; the changed flag is skipped.
func nodeChanges(before, after *graph.Node) map[string]PropChange {
	changes := propChanges(before.Props, after.Props)
	if before.Kind != after.Kind {
		if changes == nil {
			changes = make(map[string]PropChange, 1)
		}
		changes["kind"] = PropChange{Before: string(before.Kind), After: string(after.Kind)}
	}
	return changes
}

func propChanges(before, after map[string]any) map[string]PropChange {
	var changes map[string]PropChange
	record := func(key string, b, a any) {
		if changes == nil {
			changes = make(map[string]PropChange)
		}
		changes[key] = PropChange{Before: b, After: a}
	}

	for key, bv := range before {
		av, ok := after[key]
		if !ok {
			record(key, bv, nil)
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			record(key, bv, av)
		}
	}
	for key, av := range after {
		if _, ok := before[key]; !ok {
			record(key, nil, av)
		}
	}
	return changes
}

func (d *DiffResult) sortAll() {
	byID := func(nodes []*graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	}
	byID(d.NodesAdded)
	byID(d.NodesRemoved)
	sort.Slice(d.NodesModified, func(i, j int) bool { return d.NodesModified[i].ID < d.NodesModified[j].ID })
	sort.Strings(d.NodesUnchanged)

	byKey := func(keys []graph.EdgeKey) {
		sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	}
	byKey(d.EdgesAdded)
	byKey(d.EdgesRemoved)
	byKey(d.EdgesUnchanged)
	sort.Slice(d.EdgesModified, func(i, j int) bool { return lessKey(d.EdgesModified[i].Key, d.EdgesModified[j].Key) })
}

func lessKey(a, b graph.EdgeKey) bool {
	if a.From != b.From {
		return a.From < b.From
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.To < b.To
}

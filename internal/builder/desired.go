package builder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"lawgraph/internal/extract"
	"lawgraph/internal/graph"
)

// relationship kinds whose target may live outside the module. Targets
// are matched by qualified name against the current graph; misses are
// recorded on the source node and retried by Reresolve.
var externalRels = map[string]graph.EdgeKind{
	extract.RelInherits:     graph.EdgeInherits,
	extract.RelImports:      graph.EdgeImports,
	extract.RelReferences:   graph.EdgeReferences,
	extract.RelAssignsTo:    graph.EdgeAssignsTo,
	extract.RelReadsFrom:    graph.EdgeReadsFrom,
	extract.RelHasType:      graph.EdgeHasType,
	extract.RelReturnsType:  graph.EdgeReturnsType,
	extract.RelIsSubtypeOf:  graph.EdgeIsSubtypeOf,
	extract.RelHasDecorator: graph.EdgeHasDecorator,
}

var entityKinds = map[string]graph.NodeKind{
	extract.KindClass:     graph.NodeClass,
	extract.KindFunction:  graph.NodeFunction,
	extract.KindVariable:  graph.NodeVariable,
	extract.KindParameter: graph.NodeParameter,
	extract.KindType:      graph.NodeType,
	extract.KindCallSite:  graph.NodeCallSite,
}

// buildDesired computes the target graph state for one module: its node
// set and every edge owned by those nodes. Resolution state on existing
// call sites is carried over so an unchanged payload diffs to nothing;
// new call sites start unresolved and are picked up by Reresolve.
func buildDesired(ctx context.Context, view graph.Reader, ex *extract.Extraction) (*state, error) {
	st := newState()
	moduleID := extract.ModuleID(ex.Module)

	qnames, err := qualifiedNameIndex(ctx, view)
	if err != nil {
		return nil, err
	}

	// Local entity ids to graph ids.
	ids := make(map[string]string, len(ex.Entities)+1)
	ids[ex.Module] = moduleID

	moduleNode := &graph.Node{
		ID:   moduleID,
		Kind: graph.NodeModule,
		Props: map[string]any{
			graph.PropName:          ex.Module,
			graph.PropQualifiedName: ex.Module,
			graph.PropModule:        ex.Module,
		},
	}
	st.nodes[moduleID] = moduleNode

	for _, e := range ex.Entities {
		id := extract.NodeID(ex.Module, e)
		ids[e.ID] = id
		st.nodes[id] = entityNode(ex.Module, id, e)
	}

	owners := make(map[string]string) // graph id -> owning graph id
	var imports []string              // "alias=target" module import table
	var pendings = make(map[string][]string)

	addEdge := func(from string, kind graph.EdgeKind, to string, props map[string]any) {
		e := &graph.Edge{From: from, Kind: kind, To: to, Props: props}
		st.edges[e.Key()] = e
	}

	for _, r := range ex.Relationships {
		from := ids[r.From]

		// Local target first; fall back to a qualified-name match
		// against the rest of the graph.
		to, local := ids[r.To]

		switch r.Kind {
		case extract.RelDeclares:
			if local {
				owners[to] = from
			}
		case extract.RelHasParameter:
			addEdge(from, graph.EdgeHasParameter, to, nil)
			owners[to] = from
		case extract.RelHasCallSite:
			addEdge(from, graph.EdgeHasCallSite, to, nil)
			owners[to] = from
		case extract.RelCalls:
			cs := st.nodes[from]
			cs.Props[graph.PropCallee] = r.To
			cs.Props[graph.PropArgCount] = r.ArgCount
		case extract.RelImports:
			alias := r.Alias
			if alias == "" {
				parts := strings.Split(r.To, ".")
				alias = parts[len(parts)-1]
			}
			imports = append(imports, alias+"="+r.To)
			if target, ok := resolveExternal(qnames, st, ids, r.To); ok {
				addEdge(from, graph.EdgeImports, target, map[string]any{"alias": alias})
			} else {
				pendings[from] = append(pendings[from], pendingRef(graph.EdgeImports, r.To))
			}
		default:
			kind, ok := externalRels[r.Kind]
			if !ok {
				continue
			}
			var props map[string]any
			if r.AccessKind != "" {
				props = map[string]any{"access_kind": r.AccessKind}
			}
			if local {
				addEdge(from, kind, to, props)
			} else if target, found := resolveExternal(qnames, st, ids, r.To); found {
				addEdge(from, kind, target, props)
			} else {
				pendings[from] = append(pendings[from], pendingRef(kind, r.To))
			}
		}
	}

	// Every non-module node must be reachable from its module through
	// DECLARES. Owners come from explicit declares/has_parameter/
	// has_callsite relationships; anything unowned hangs off the module.
	for id := range st.nodes {
		if id == moduleID {
			continue
		}
		owner, ok := owners[id]
		if !ok {
			owner = moduleID
		}
		addEdge(owner, graph.EdgeDeclares, id, nil)
	}

	if len(imports) > 0 {
		sort.Strings(imports)
		moduleNode.Props[graph.PropImports] = imports
	}

	for id, refs := range pendings {
		sort.Strings(refs)
		st.nodes[id].Props[graph.PropUnresolvedRefs] = refs
	}

	// Carry over resolution state for call sites that already exist so
	// an unchanged extraction stays a no-op.
	for id, n := range st.nodes {
		if n.Kind != graph.NodeCallSite {
			continue
		}
		cur, ok, err := view.Node(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && cur.Kind == graph.NodeCallSite && sameCallShape(cur, n) {
			n.Props[graph.PropResolution] = cur.StringProp(graph.PropResolution)
			if cands := cur.StringsProp(graph.PropCandidates); len(cands) > 0 {
				n.Props[graph.PropCandidates] = cands
			}
			// The RESOLVES_TO edge, if any, is owned by the resolver
			// pass and survives the diff untouched.
		} else {
			n.Props[graph.PropResolution] = string(graph.ResolutionUnresolved)
		}
	}

	return st, nil
}

func entityNode(module, id string, e extract.RawEntity) *graph.Node {
	qname := e.QualifiedName
	if qname == "" {
		qname = module + "." + e.Name
	}
	visibility := e.Visibility
	if visibility == "" {
		visibility = "public"
	}

	props := map[string]any{
		graph.PropName:          e.Name,
		graph.PropQualifiedName: qname,
		graph.PropModule:        module,
		graph.PropVisibility:    visibility,
	}
	if e.Location.File != "" {
		props[graph.PropFile] = e.Location.File
		props[graph.PropStartLine] = e.Location.StartLine
		props[graph.PropEndLine] = e.Location.EndLine
	}
	if e.TypeAnnotation != "" {
		props[graph.PropType] = e.TypeAnnotation
	}
	if e.ReturnAnnotation != "" {
		props[graph.PropReturnType] = e.ReturnAnnotation
	}
	if len(e.Decorators) > 0 {
		decorators := make([]string, len(e.Decorators))
		copy(decorators, e.Decorators)
		sort.Strings(decorators)
		props[graph.PropDecorators] = decorators
	}
	if e.Kind == extract.KindParameter {
		props[graph.PropPosition] = e.Position
		props[graph.PropHasDefault] = e.HasDefault
		props[graph.PropVariadic] = e.Variadic
	}

	return &graph.Node{ID: id, Kind: entityKinds[e.Kind], Props: props}
}

// qualifiedNameIndex maps qualified names to node ids across the whole
// graph, for linking cross-module relationship targets.
func qualifiedNameIndex(ctx context.Context, view graph.Reader) (map[string][]string, error) {
	nodes, err := view.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string][]string)
	for _, n := range nodes {
		if qn := n.StringProp(graph.PropQualifiedName); qn != "" {
			idx[qn] = append(idx[qn], n.ID)
		}
	}
	return idx, nil
}

// resolveExternal matches a textual target against local entities'
// qualified names first, then the rest of the graph. Ambiguous matches
// stay pending; the builder never guesses.
func resolveExternal(qnames map[string][]string, st *state, ids map[string]string, target string) (string, bool) {
	for _, n := range st.nodes {
		if n.StringProp(graph.PropQualifiedName) == target {
			return n.ID, true
		}
	}
	if matches := qnames[target]; len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}

func pendingRef(kind graph.EdgeKind, target string) string {
	return fmt.Sprintf("%s:%s", kind, target)
}

// sameCallShape reports whether a call site's callee text and argument
// count are unchanged, in which case its resolution remains valid until
// the next resolver pass says otherwise.
func sameCallShape(cur, want *graph.Node) bool {
	return cur.StringProp(graph.PropCallee) == want.StringProp(graph.PropCallee) &&
		cur.IntProp(graph.PropArgCount) == want.IntProp(graph.PropArgCount)
}

// Package builder turns extractor payloads into graph mutations. It is
// the only component that writes to the graph store.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"lawgraph/internal/extract"
	"lawgraph/internal/graph"
)

// ErrMalformedExtraction marks payloads rejected before any mutation.
var ErrMalformedExtraction = errors.New("builder: malformed extraction")

// BuildError reports a malformed extraction. It is fatal to that module's
// update only; other modules are unaffected.
type BuildError struct {
	Module   string
	Problems []string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("module %s: %s", e.Module, strings.Join(e.Problems, "; "))
}

func (e *BuildError) Unwrap() error { return ErrMalformedExtraction }

// ApplyResult summarizes one committed extraction.
type ApplyResult struct {
	ModuleID     string
	NodesAdded   int
	NodesUpdated int
	NodesDeleted int
	EdgesAdded   int
	EdgesDeleted int
}

// NoOp reports whether the extraction produced zero mutations.
func (r ApplyResult) NoOp() bool {
	return r.NodesAdded == 0 && r.NodesUpdated == 0 && r.NodesDeleted == 0 &&
		r.EdgesAdded == 0 && r.EdgesDeleted == 0
}

// Builder owns all graph mutation. Reads go through store views so a
// concurrent validator never observes a half-applied module.
type Builder struct {
	store graph.Store
	log   *slog.Logger
}

// New creates a builder over the given store.
func New(store graph.Store, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{store: store, log: log}
}

// ApplyExtraction ingests one module's extraction. It is idempotent:
// an unchanged payload yields zero mutations. A changed payload commits
// the minimal add/update/delete set relative to the module's prior state,
// atomically. Call sites of the module are resolved in the same pass;
// cross-module fallout is picked up by Reresolve.
func (b *Builder) ApplyExtraction(ctx context.Context, ex *extract.Extraction) (ApplyResult, error) {
	moduleID := extract.ModuleID(ex.Module)
	res := ApplyResult{ModuleID: moduleID}

	if problems := validateExtraction(ex); len(problems) > 0 {
		return res, &BuildError{Module: ex.Module, Problems: problems}
	}

	view, err := b.store.View(ctx)
	if err != nil {
		return res, err
	}

	desired, err := buildDesired(ctx, view, ex)
	if err != nil {
		return res, err
	}

	current, err := moduleState(ctx, view, ex.Module)
	if err != nil {
		return res, err
	}

	m := diffStates(current, desired)
	res.NodesAdded, res.NodesUpdated, res.NodesDeleted = m.nodesAdded, m.nodesUpdated, m.nodesDeleted
	res.EdgesAdded, res.EdgesDeleted = len(m.set.UpsertEdges), len(m.set.DeleteEdges)

	if m.set.Empty() {
		b.log.Debug("extraction unchanged", "module", ex.Module)
		return res, nil
	}

	if err := b.store.Apply(ctx, m.set); err != nil {
		return res, fmt.Errorf("commit module %s: %w", ex.Module, err)
	}
	b.log.Info("extraction applied",
		"module", ex.Module,
		"added", res.NodesAdded, "updated", res.NodesUpdated, "deleted", res.NodesDeleted)
	return res, nil
}

// validateExtraction checks structural well-formedness before any graph
// work: duplicate ids, parameter position gaps, multiple parameter
// owners, relationships naming unknown local entities.
func validateExtraction(ex *extract.Extraction) []string {
	var problems []string

	local := make(map[string]extract.RawEntity, len(ex.Entities))
	for _, e := range ex.Entities {
		if e.Kind == extract.KindModule {
			problems = append(problems, fmt.Sprintf("entity %s: module entities are implicit, use the payload module field", e.ID))
			continue
		}
		if _, dup := local[e.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate entity id %s", e.ID))
			continue
		}
		local[e.ID] = e
	}

	isLocalOrModule := func(id string) bool {
		if id == ex.Module {
			return true
		}
		_, ok := local[id]
		return ok
	}

	paramOwner := make(map[string]string)   // parameter id -> owner id
	paramsByFn := make(map[string][]int)    // owner id -> positions
	for _, r := range ex.Relationships {
		if !isLocalOrModule(r.From) {
			problems = append(problems, fmt.Sprintf("relationship %s: unknown source entity %s", r.Kind, r.From))
			continue
		}
		switch r.Kind {
		case extract.RelHasParameter:
			p, ok := local[r.To]
			if !ok || p.Kind != extract.KindParameter {
				problems = append(problems, fmt.Sprintf("has_parameter target %s is not a local parameter", r.To))
				continue
			}
			if owner, seen := paramOwner[r.To]; seen && owner != r.From {
				problems = append(problems, fmt.Sprintf("parameter %s owned by both %s and %s", r.To, owner, r.From))
				continue
			}
			paramOwner[r.To] = r.From
			paramsByFn[r.From] = append(paramsByFn[r.From], p.Position)
		case extract.RelCalls:
			cs, ok := local[r.From]
			if !ok || cs.Kind != extract.KindCallSite {
				problems = append(problems, fmt.Sprintf("calls source %s is not a local callsite", r.From))
			}
		case extract.RelHasCallSite:
			cs, ok := local[r.To]
			if !ok || cs.Kind != extract.KindCallSite {
				problems = append(problems, fmt.Sprintf("has_callsite target %s is not a local callsite", r.To))
			}
		}
	}

	for _, e := range ex.Entities {
		if e.Kind == extract.KindParameter {
			if _, ok := paramOwner[e.ID]; !ok {
				problems = append(problems, fmt.Sprintf("parameter %s has no owning function", e.ID))
			}
		}
	}

	for fn, positions := range paramsByFn {
		sort.Ints(positions)
		for i, pos := range positions {
			if pos != i {
				problems = append(problems, fmt.Sprintf("function %s: parameter positions not contiguous from zero: %v", fn, positions))
				break
			}
		}
	}

	sort.Strings(problems)
	return problems
}

// moduleState reads the nodes and edges currently owned by a module.
// RESOLVES_TO edges are resolution state, owned by the resolver pass, and
// are excluded so re-applying an unchanged module never churns them.
func moduleState(ctx context.Context, view graph.Reader, module string) (*state, error) {
	st := newState()
	nodes, err := view.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.StringProp(graph.PropModule) == module {
			st.nodes[n.ID] = n
		}
	}
	for id := range st.nodes {
		edges, err := view.EdgesFrom(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if e.Kind == graph.EdgeResolvesTo {
				continue
			}
			st.edges[e.Key()] = e
		}
	}
	return st, nil
}

type state struct {
	nodes map[string]*graph.Node
	edges map[graph.EdgeKey]*graph.Edge
}

func newState() *state {
	return &state{
		nodes: make(map[string]*graph.Node),
		edges: make(map[graph.EdgeKey]*graph.Edge),
	}
}

type moduleDiff struct {
	set          graph.MutationSet
	nodesAdded   int
	nodesUpdated int
	nodesDeleted int
}

// diffStates computes the minimal mutation set turning current into
// desired. Added and updated nodes come out flagged changed.
func diffStates(current, desired *state) moduleDiff {
	var d moduleDiff

	var upserts []*graph.Node
	for id, want := range desired.nodes {
		cur, ok := current.nodes[id]
		if !ok {
			want.Changed = true
			upserts = append(upserts, want)
			d.nodesAdded++
			continue
		}
		if cur.Kind != want.Kind || !propsEqual(cur.Props, want.Props) {
			want.Changed = true
			upserts = append(upserts, want)
			d.nodesUpdated++
		}
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].ID < upserts[j].ID })
	d.set.UpsertNodes = upserts

	for id := range current.nodes {
		if _, ok := desired.nodes[id]; !ok {
			d.set.DeleteNodes = append(d.set.DeleteNodes, id)
			d.nodesDeleted++
		}
	}
	sort.Strings(d.set.DeleteNodes)

	var edgeUpserts []*graph.Edge
	for key, want := range desired.edges {
		cur, ok := current.edges[key]
		if !ok || !propsEqual(cur.Props, want.Props) {
			edgeUpserts = append(edgeUpserts, want)
		}
	}
	sortEdgePtrs(edgeUpserts)
	d.set.UpsertEdges = edgeUpserts

	deleted := make(map[string]bool, len(d.set.DeleteNodes))
	for _, id := range d.set.DeleteNodes {
		deleted[id] = true
	}
	for key := range current.edges {
		if _, ok := desired.edges[key]; ok {
			continue
		}
		// Edges incident to deleted nodes go away with the node.
		if deleted[key.From] || deleted[key.To] {
			continue
		}
		d.set.DeleteEdges = append(d.set.DeleteEdges, key)
	}
	sort.Slice(d.set.DeleteEdges, func(i, j int) bool {
		a, b := d.set.DeleteEdges[i], d.set.DeleteEdges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.To < b.To
	})

	return d
}

func propsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func sortEdgePtrs(edges []*graph.Edge) {
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

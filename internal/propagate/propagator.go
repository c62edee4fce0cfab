// Package propagate maintains the changed flag: edits mark nodes, and
// marks ripple to dependents so incremental validation sees everything a
// change can invalidate.
package propagate

import (
	"context"
	"log/slog"
	"sort"

	"lawgraph/internal/graph"
)

// Propagator spreads changed flags along dependency edges. It is
// idempotent: propagating an already-propagated graph adds nothing.
type Propagator struct {
	store graph.Store
	log   *slog.Logger
}

func New(store graph.Store, log *slog.Logger) *Propagator {
	if log == nil {
		log = slog.Default()
	}
	return &Propagator{store: store, log: log}
}

// MarkChanged flags every node located in one of the given files.
func (p *Propagator) MarkChanged(ctx context.Context, files []string) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}
	fileSet := make(map[string]bool, len(files))
	for _, f := range files {
		fileSet[f] = true
	}

	view, err := p.store.View(ctx)
	if err != nil {
		return 0, err
	}
	nodes, err := view.Nodes(ctx)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, n := range nodes {
		if fileSet[n.StringProp(graph.PropFile)] {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := p.store.SetChanged(ctx, ids, true); err != nil {
		return 0, err
	}
	p.log.Debug("marked changed by file", "files", len(files), "nodes", len(ids))
	return len(ids), nil
}

// MarkChangedNodes flags the given nodes directly.
func (p *Propagator) MarkChangedNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.store.SetChanged(ctx, ids, true)
}

// Propagate spreads the changed flag to dependents until nothing new is
// reached: callers of changed functions, importers of changed modules,
// subclasses of changed classes. The visited set makes cycles safe and
// the flag update is a set union, so re-running is harmless.
func (p *Propagator) Propagate(ctx context.Context) (int, error) {
	view, err := p.store.View(ctx)
	if err != nil {
		return 0, err
	}

	frontier, err := view.ChangedIDs(ctx)
	if err != nil {
		return 0, err
	}
	visited := make(map[string]bool, len(frontier))
	for _, id := range frontier {
		visited[id] = true
	}

	var reached []string
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var next []string
		for _, id := range frontier {
			deps, err := p.dependentsOf(ctx, view, id)
			if err != nil {
				return 0, err
			}
			for _, dep := range deps {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				reached = append(reached, dep)
				next = append(next, dep)
			}
		}
		frontier = next
	}

	if len(reached) == 0 {
		return 0, nil
	}
	sort.Strings(reached)
	if err := p.store.SetChanged(ctx, reached, true); err != nil {
		return 0, err
	}
	p.log.Debug("propagated changed flags", "reached", len(reached))
	return len(reached), nil
}

// dependentsOf lists the nodes one hop downstream of a change: call
// sites resolving to it (and their owning functions), modules importing
// it, classes inheriting from it.
func (p *Propagator) dependentsOf(ctx context.Context, view graph.Reader, id string) ([]string, error) {
	var out []string

	resolvers, err := view.EdgesTo(ctx, id, graph.EdgeResolvesTo)
	if err != nil {
		return nil, err
	}
	for _, e := range resolvers {
		out = append(out, e.From)
		// The call site's enclosing function changed behavior too.
		owners, err := view.EdgesTo(ctx, e.From, graph.EdgeHasCallSite)
		if err != nil {
			return nil, err
		}
		for _, o := range owners {
			out = append(out, o.From)
		}
	}

	importers, err := view.EdgesTo(ctx, id, graph.EdgeImports)
	if err != nil {
		return nil, err
	}
	for _, e := range importers {
		out = append(out, e.From)
	}

	subclasses, err := view.EdgesTo(ctx, id, graph.EdgeInherits)
	if err != nil {
		return nil, err
	}
	for _, e := range subclasses {
		out = append(out, e.From)
	}

	return out, nil
}

// ClearChanged resets every changed flag, typically after a validation
// run has consumed them.
func (p *Propagator) ClearChanged(ctx context.Context) error {
	return p.store.ClearChanged(ctx)
}

// Changed returns the ids currently flagged, sorted.
func (p *Propagator) Changed(ctx context.Context) ([]string, error) {
	view, err := p.store.View(ctx)
	if err != nil {
		return nil, err
	}
	return view.ChangedIDs(ctx)
}

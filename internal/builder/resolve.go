package builder

import (
	"context"
	"sort"
	"strings"

	"lawgraph/internal/graph"
)

// ResolveStats summarizes one resolver pass.
type ResolveStats struct {
	CallSites  int
	Resolved   int
	Ambiguous  int
	Unresolved int
	Relinked   int // pending cross-module references that found a target
	Updated    int // call sites whose resolution outcome changed
}

type resolution struct {
	state      graph.ResolutionState
	target     string
	candidates []string
}

// Reresolve recomputes resolution for every call site and retries pending
// cross-module references, committing only actual changes. It runs after
// any module changes: new targets get picked up, disappeared targets
// revert their call sites to unresolved. The pass is idempotent.
func (b *Builder) Reresolve(ctx context.Context) (ResolveStats, error) {
	var stats ResolveStats

	view, err := b.store.View(ctx)
	if err != nil {
		return stats, err
	}

	env, err := newResolveEnv(ctx, view)
	if err != nil {
		return stats, err
	}

	var set graph.MutationSet
	// Node upserts are staged per id: a call site can take both a
	// resolution update and a pending-reference relink in one pass, and
	// both edits must land on the same clone.
	staged := make(map[string]*graph.Node)

	callSites, err := view.NodesByKind(ctx, graph.NodeCallSite)
	if err != nil {
		return stats, err
	}
	stats.CallSites = len(callSites)

	for _, cs := range callSites {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		out := env.resolveCallSite(cs)

		switch out.state {
		case graph.ResolutionResolved:
			stats.Resolved++
		case graph.ResolutionAmbiguous:
			stats.Ambiguous++
		default:
			stats.Unresolved++
		}

		curState := graph.ResolutionState(cs.StringProp(graph.PropResolution))
		curCandidates := cs.StringsProp(graph.PropCandidates)
		curTarget := ""
		existing, err := view.EdgesFrom(ctx, cs.ID, graph.EdgeResolvesTo)
		if err != nil {
			return stats, err
		}
		if len(existing) > 0 {
			curTarget = existing[0].To
		}

		if out.state == curState && out.target == curTarget && equalStrings(out.candidates, curCandidates) {
			continue
		}
		stats.Updated++

		next := cs.Clone()
		next.Changed = true
		next.Props[graph.PropResolution] = string(out.state)
		delete(next.Props, graph.PropCandidates)
		if out.state == graph.ResolutionAmbiguous {
			next.Props[graph.PropCandidates] = out.candidates
		}
		staged[cs.ID] = next

		for _, e := range existing {
			if out.state != graph.ResolutionResolved || e.To != out.target {
				set.DeleteEdges = append(set.DeleteEdges, e.Key())
			}
		}
		if out.state == graph.ResolutionResolved && out.target != curTarget {
			set.UpsertEdges = append(set.UpsertEdges, &graph.Edge{
				From: cs.ID, Kind: graph.EdgeResolvesTo, To: out.target,
			})
		}
	}

	relinked, err := b.relinkPending(ctx, view, env, &set, staged)
	if err != nil {
		return stats, err
	}
	stats.Relinked = relinked

	ids := make([]string, 0, len(staged))
	for id := range staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		set.UpsertNodes = append(set.UpsertNodes, staged[id])
	}

	if set.Empty() {
		return stats, nil
	}
	if err := b.store.Apply(ctx, set); err != nil {
		return stats, err
	}
	b.log.Debug("resolution pass committed",
		"callsites", stats.CallSites, "updated", stats.Updated, "relinked", stats.Relinked)
	return stats, nil
}

// relinkPending retries cross-module relationship targets recorded at
// build time. A target that now exists uniquely gets its edge; anything
// else stays pending rather than guessed. Prop edits go onto the node's
// staged clone when the resolution pass already produced one.
func (b *Builder) relinkPending(ctx context.Context, view graph.Reader, env *resolveEnv, set *graph.MutationSet, staged map[string]*graph.Node) (int, error) {
	nodes, err := view.Nodes(ctx)
	if err != nil {
		return 0, err
	}

	relinked := 0
	for _, n := range nodes {
		refs := n.StringsProp(graph.PropUnresolvedRefs)
		if len(refs) == 0 {
			continue
		}

		var remaining []string
		for _, ref := range refs {
			kind, target, ok := strings.Cut(ref, ":")
			if !ok {
				continue
			}
			matches := env.byQName[target]
			if len(matches) != 1 {
				remaining = append(remaining, ref)
				continue
			}
			set.UpsertEdges = append(set.UpsertEdges, &graph.Edge{
				From: n.ID, Kind: graph.EdgeKind(kind), To: matches[0],
			})
			relinked++
		}
		if len(remaining) == len(refs) {
			continue
		}

		next, ok := staged[n.ID]
		if !ok {
			next = n.Clone()
		}
		next.Changed = true
		if len(remaining) > 0 {
			next.Props[graph.PropUnresolvedRefs] = remaining
		} else {
			delete(next.Props, graph.PropUnresolvedRefs)
		}
		staged[n.ID] = next
	}
	return relinked, nil
}

// resolveEnv is a per-pass snapshot of the lookup structures the
// resolution walk needs.
type resolveEnv struct {
	nodes      map[string]*graph.Node
	byQName    map[string][]string            // qualified name -> node ids
	fnByQName  map[string][]*graph.Node       // qualified name -> function nodes
	moduleByQN map[string]*graph.Node         // module qualified name -> node
	declared   map[string][]*graph.Node       // owner id -> declared nodes
	ownerOf    map[string]string              // node id -> declaring owner id
}

func newResolveEnv(ctx context.Context, view graph.Reader) (*resolveEnv, error) {
	env := &resolveEnv{
		nodes:      make(map[string]*graph.Node),
		byQName:    make(map[string][]string),
		fnByQName:  make(map[string][]*graph.Node),
		moduleByQN: make(map[string]*graph.Node),
		declared:   make(map[string][]*graph.Node),
		ownerOf:    make(map[string]string),
	}

	nodes, err := view.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		env.nodes[n.ID] = n
		qn := n.StringProp(graph.PropQualifiedName)
		if qn == "" {
			continue
		}
		env.byQName[qn] = append(env.byQName[qn], n.ID)
		switch n.Kind {
		case graph.NodeFunction:
			env.fnByQName[qn] = append(env.fnByQName[qn], n)
		case graph.NodeModule:
			env.moduleByQN[qn] = n
		}
	}

	declares, err := view.EdgesByKind(ctx, graph.EdgeDeclares)
	if err != nil {
		return nil, err
	}
	for _, e := range declares {
		if child, ok := env.nodes[e.To]; ok {
			env.declared[e.From] = append(env.declared[e.From], child)
			env.ownerOf[e.To] = e.From
		}
	}

	callsiteOwners, err := view.EdgesByKind(ctx, graph.EdgeHasCallSite)
	if err != nil {
		return nil, err
	}
	for _, e := range callsiteOwners {
		env.ownerOf[e.To] = e.From
	}

	return env, nil
}

// resolveCallSite attempts, in order: exact qualified-name match via the
// module's import/alias table, then a bare-name walk of the lexical scope
// chain preferring the innermost scope. More than one surviving candidate
// means Ambiguous with the candidate set recorded, never a guess.
func (env *resolveEnv) resolveCallSite(cs *graph.Node) resolution {
	callee := cs.StringProp(graph.PropCallee)
	if callee == "" {
		return resolution{state: graph.ResolutionUnresolved}
	}

	moduleName := cs.StringProp(graph.PropModule)
	imports := env.importTable(moduleName)

	// Stage 1: qualified names through the import/alias table, then the
	// callee taken as an already-qualified name.
	if alias, rest, ok := strings.Cut(callee, "."); ok {
		if target, found := imports[alias]; found {
			if r, done := env.matchQualified(target + "." + rest); done {
				return r
			}
		}
	} else if target, found := imports[callee]; found {
		// "from x import f as g": the alias names the function itself.
		if r, done := env.matchQualified(target); done {
			return r
		}
	}
	if r, done := env.matchQualified(callee); done {
		return r
	}
	if strings.Contains(callee, ".") {
		// Qualified but unmatched: attribute and method calls on values
		// are out of reach of static lookup.
		return resolution{state: graph.ResolutionUnresolved}
	}

	// Stage 2: bare name, innermost scope first.
	for _, scope := range env.scopeChain(cs, moduleName) {
		candidates := env.functionsNamed(scope, callee)
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return resolution{state: graph.ResolutionResolved, target: candidates[0]}
		default:
			sort.Strings(candidates)
			return resolution{state: graph.ResolutionAmbiguous, candidates: candidates}
		}
	}

	// Stage 3: imported modules, all at equal depth.
	var candidates []string
	for _, target := range imports {
		for _, fn := range env.fnByQName[target+"."+callee] {
			candidates = append(candidates, fn.ID)
		}
	}
	switch len(candidates) {
	case 0:
		return resolution{state: graph.ResolutionUnresolved}
	case 1:
		return resolution{state: graph.ResolutionResolved, target: candidates[0]}
	default:
		sort.Strings(candidates)
		return resolution{state: graph.ResolutionAmbiguous, candidates: dedupe(candidates)}
	}
}

func (env *resolveEnv) matchQualified(qname string) (resolution, bool) {
	fns := env.fnByQName[qname]
	switch len(fns) {
	case 0:
		return resolution{}, false
	case 1:
		return resolution{state: graph.ResolutionResolved, target: fns[0].ID}, true
	default:
		ids := make([]string, len(fns))
		for i, fn := range fns {
			ids[i] = fn.ID
		}
		sort.Strings(ids)
		return resolution{state: graph.ResolutionAmbiguous, candidates: ids}, true
	}
}

// scopeChain walks owner links outward from the call site: enclosing
// function, then its enclosing class if any, then the module.
func (env *resolveEnv) scopeChain(cs *graph.Node, moduleName string) []string {
	var chain []string
	owner := env.ownerOf[cs.ID]
	for owner != "" {
		chain = append(chain, owner)
		owner = env.ownerOf[owner]
	}
	if mod, ok := env.moduleByQN[moduleName]; ok {
		if len(chain) == 0 || chain[len(chain)-1] != mod.ID {
			chain = append(chain, mod.ID)
		}
	}
	return chain
}

func (env *resolveEnv) functionsNamed(scopeID, name string) []string {
	var out []string
	for _, n := range env.declared[scopeID] {
		if n.Kind == graph.NodeFunction && n.StringProp(graph.PropName) == name {
			out = append(out, n.ID)
		}
	}
	return out
}

func (env *resolveEnv) importTable(moduleName string) map[string]string {
	mod, ok := env.moduleByQN[moduleName]
	if !ok {
		return nil
	}
	entries := mod.StringsProp(graph.PropImports)
	if len(entries) == 0 {
		return nil
	}
	table := make(map[string]string, len(entries))
	for _, entry := range entries {
		if alias, target, ok := strings.Cut(entry, "="); ok {
			table[alias] = target
		}
	}
	return table
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

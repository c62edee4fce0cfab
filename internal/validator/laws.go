package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"lawgraph/internal/graph"
)

// run holds the per-pass state shared by the four law checks.
type run struct {
	view       graph.Reader
	scope      map[string]bool
	policy     Policy
	violations []Violation

	nodes     map[string]*graph.Node
	callSites []*graph.Node
	functions []*graph.Node
	classes   []*graph.Node

	paramsOf   map[string][]*graph.Node // function id -> parameters
	paramOwner map[string][]string      // parameter id -> owning functions
	declares   map[string][]string      // owner id -> declared ids
	inherits   map[string][]string      // class id -> base class ids
}

func newRun(ctx context.Context, view graph.Reader, scope map[string]bool, policy Policy) (*run, error) {
	r := &run{
		view:       view,
		scope:      scope,
		policy:     policy,
		nodes:      make(map[string]*graph.Node),
		paramsOf:   make(map[string][]*graph.Node),
		paramOwner: make(map[string][]string),
		declares:   make(map[string][]string),
		inherits:   make(map[string][]string),
	}

	nodes, err := view.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		r.nodes[n.ID] = n
		switch n.Kind {
		case graph.NodeCallSite:
			r.callSites = append(r.callSites, n)
		case graph.NodeFunction:
			r.functions = append(r.functions, n)
		case graph.NodeClass:
			r.classes = append(r.classes, n)
		}
	}

	params, err := view.EdgesByKind(ctx, graph.EdgeHasParameter)
	if err != nil {
		return nil, err
	}
	for _, e := range params {
		if p, ok := r.nodes[e.To]; ok {
			r.paramsOf[e.From] = append(r.paramsOf[e.From], p)
			r.paramOwner[e.To] = append(r.paramOwner[e.To], e.From)
		}
	}
	for _, ps := range r.paramsOf {
		sort.Slice(ps, func(i, j int) bool {
			return ps[i].IntProp(graph.PropPosition) < ps[j].IntProp(graph.PropPosition)
		})
	}

	declares, err := view.EdgesByKind(ctx, graph.EdgeDeclares)
	if err != nil {
		return nil, err
	}
	for _, e := range declares {
		r.declares[e.From] = append(r.declares[e.From], e.To)
	}

	inherits, err := view.EdgesByKind(ctx, graph.EdgeInherits)
	if err != nil {
		return nil, err
	}
	for _, e := range inherits {
		r.inherits[e.From] = append(r.inherits[e.From], e.To)
	}

	return r, nil
}

func (r *run) inScope(id string) bool {
	return r.scope == nil || r.scope[id]
}

func (r *run) add(v Violation) {
	r.violations = append(r.violations, v)
}

func label(n *graph.Node) string {
	if qn := n.StringProp(graph.PropQualifiedName); qn != "" {
		return qn
	}
	return n.ID
}

// checkSignatures enforces law 1: every resolved call site passes an
// argument count the target can accept, and private callees are only
// called from their own module.
func (r *run) checkSignatures(ctx context.Context) error {
	for _, cs := range r.callSites {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.inScope(cs.ID) {
			continue
		}
		if graph.ResolutionState(cs.StringProp(graph.PropResolution)) != graph.ResolutionResolved {
			continue
		}
		edges, err := r.view.EdgesFrom(ctx, cs.ID, graph.EdgeResolvesTo)
		if err != nil {
			return err
		}
		if len(edges) == 0 {
			continue
		}
		target, ok := r.nodes[edges[0].To]
		if !ok {
			continue
		}

		required, total, variadic := signatureOf(r.paramsOf[target.ID])
		args := cs.IntProp(graph.PropArgCount)
		if args < required || (!variadic && args > total) {
			max := fmt.Sprintf("%d", total)
			if variadic {
				max = "unbounded"
			}
			r.add(Violation{
				Law: LawSignature, Type: TypeSignatureMismatch, Severity: SeverityError,
				EntityIDs: []string{cs.ID, target.ID},
				Message: fmt.Sprintf("call to %s passes %d argument(s), accepted range is %d to %s",
					label(target), args, required, max),
				Location:     cs.Location(),
				SuggestedFix: fmt.Sprintf("adjust the call to pass between %d and %s argument(s)", required, max),
			})
		}

		if target.StringProp(graph.PropVisibility) == "private" &&
			cs.StringProp(graph.PropModule) != target.StringProp(graph.PropModule) {
			r.add(Violation{
				Law: LawSignature, Type: TypeVisibility, Severity: SeverityError,
				EntityIDs: []string{cs.ID, target.ID},
				Message: fmt.Sprintf("private function %s called from module %s",
					label(target), cs.StringProp(graph.PropModule)),
				Location: cs.Location(),
			})
		}
	}
	return nil
}

// signatureOf computes the accepted argument range of a parameter list.
// Required counts parameters with neither default nor variadic marker;
// total excludes the variadic parameter, which lifts the upper bound.
func signatureOf(params []*graph.Node) (required, total int, variadic bool) {
	for _, p := range params {
		if p.BoolProp(graph.PropVariadic) {
			variadic = true
			continue
		}
		total++
		if !p.BoolProp(graph.PropHasDefault) {
			required++
		}
	}
	return required, total, variadic
}

// danglingKinds are the edge kinds law 2 demands an existing target for.
var danglingKinds = map[string]bool{
	string(graph.EdgeReferences): true,
	string(graph.EdgeAssignsTo):  true,
	string(graph.EdgeReadsFrom):  true,
	string(graph.EdgeImports):    true,
}

// checkReferences enforces law 2: no dangling references, no orphan
// nodes, every call site accounted for.
func (r *run) checkReferences(ctx context.Context) error {
	// Targets that never materialized are recorded on their source node
	// by the builder; the store itself refuses half-dangling edges.
	for _, n := range r.nodes {
		if !r.inScope(n.ID) {
			continue
		}
		for _, ref := range n.StringsProp(graph.PropUnresolvedRefs) {
			kind, target, ok := strings.Cut(ref, ":")
			if !ok || !danglingKinds[kind] {
				continue
			}
			r.add(Violation{
				Law: LawReference, Type: TypeDanglingReference, Severity: SeverityError,
				EntityIDs: []string{n.ID},
				Message:   fmt.Sprintf("%s references %s via %s, but no such entity exists", label(n), target, kind),
				Location:  n.Location(),
			})
		}
	}

	reachable := r.declarationReachable()
	for _, n := range r.nodes {
		if n.Kind == graph.NodeModule || reachable[n.ID] || !r.inScope(n.ID) {
			continue
		}
		r.add(Violation{
			Law: LawReference, Type: TypeOrphanNode, Severity: SeverityError,
			EntityIDs: []string{n.ID},
			Message:   fmt.Sprintf("%s is not reachable from any module through declarations", label(n)),
			Location:  n.Location(),
		})
	}

	for _, cs := range r.callSites {
		if !r.inScope(cs.ID) || cs.StringProp(graph.PropCallee) == "" {
			continue
		}
		switch graph.ResolutionState(cs.StringProp(graph.PropResolution)) {
		case graph.ResolutionUnresolved:
			r.add(Violation{
				Law: LawReference, Type: TypeUnresolvedReference, Severity: r.policy.UnresolvedSeverity,
				EntityIDs: []string{cs.ID},
				Message:   fmt.Sprintf("call to %s could not be resolved to a declaration", cs.StringProp(graph.PropCallee)),
				Location:  cs.Location(),
			})
		case graph.ResolutionAmbiguous:
			candidates := cs.StringsProp(graph.PropCandidates)
			r.add(Violation{
				Law: LawReference, Type: TypeAmbiguousReference, Severity: SeverityError,
				EntityIDs: append([]string{cs.ID}, candidates...),
				Message: fmt.Sprintf("call to %s matches %d declarations: %s",
					cs.StringProp(graph.PropCallee), len(candidates), strings.Join(candidates, ", ")),
				Location:     cs.Location(),
				SuggestedFix: "qualify the callee so exactly one declaration matches",
			})
		}
	}
	return nil
}

// declarationReachable walks DECLARES from every module node.
func (r *run) declarationReachable() map[string]bool {
	reachable := make(map[string]bool)
	var stack []string
	for id, n := range r.nodes {
		if n.Kind == graph.NodeModule {
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range r.declares[id] {
			if !reachable[child] {
				reachable[child] = true
				stack = append(stack, child)
			}
		}
	}
	return reachable
}

// checkDataFlow enforces law 3: annotated endpoints of assignment and
// reference edges carry compatible types, and public functions are fully
// annotated. Unannotated endpoints are skipped, never guessed at.
func (r *run) checkDataFlow(ctx context.Context) error {
	for _, kind := range []graph.EdgeKind{graph.EdgeAssignsTo, graph.EdgeReferences} {
		edges, err := r.view.EdgesByKind(ctx, kind)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if !r.inScope(e.From) {
				continue
			}
			from, okF := r.nodes[e.From]
			to, okT := r.nodes[e.To]
			if !okF || !okT {
				continue
			}
			ft := from.StringProp(graph.PropType)
			tt := to.StringProp(graph.PropType)
			if ft == "" || tt == "" {
				continue
			}
			if !compatible(ft, tt, r.policy.TypeCompatibility) {
				r.add(Violation{
					Law: LawDataFlow, Type: TypeTypeMismatch, Severity: SeverityError,
					EntityIDs: []string{e.From, e.To},
					Message: fmt.Sprintf("%s has type %s but flows into %s of type %s",
						label(from), ft, label(to), tt),
					Location: from.Location(),
				})
			}
		}
	}

	for _, fn := range r.functions {
		if !r.inScope(fn.ID) || fn.StringProp(graph.PropVisibility) != "public" {
			continue
		}
		var missing []string
		if fn.StringProp(graph.PropReturnType) == "" {
			missing = append(missing, "return type")
		}
		for _, p := range r.paramsOf[fn.ID] {
			if p.StringProp(graph.PropType) == "" {
				missing = append(missing, "parameter "+p.StringProp(graph.PropName))
			}
		}
		if len(missing) > 0 {
			r.add(Violation{
				Law: LawDataFlow, Type: TypeMissingAnnotation, Severity: SeverityWarning,
				EntityIDs: []string{fn.ID},
				Message: fmt.Sprintf("public function %s is missing annotations: %s",
					label(fn), strings.Join(missing, ", ")),
				Location:     fn.Location(),
				SuggestedFix: "annotate all parameters and the return type of public functions",
			})
		}
	}
	return nil
}

var lenientWildcards = map[string]bool{
	"any": true, "Any": true, "object": true, "unknown": true,
}

func compatible(a, b string, rule TypeCompatibility) bool {
	if a == b {
		return true
	}
	if rule != CompatLenient {
		return false
	}
	if lenientWildcards[a] || lenientWildcards[b] {
		return true
	}
	// Lenient mode compares generic types by their base: list[int]
	// flows into list.
	return genericBase(a) == genericBase(b)
}

func genericBase(t string) string {
	if i := strings.IndexByte(t, '['); i > 0 {
		return t[:i]
	}
	return t
}

// checkStructure enforces law 4: contiguous single-owner parameters and
// an acyclic inheritance relation.
func (r *run) checkStructure(ctx context.Context) error {
	for _, fn := range r.functions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.inScope(fn.ID) {
			continue
		}
		params := r.paramsOf[fn.ID]
		for i, p := range params {
			if pos := p.IntProp(graph.PropPosition); pos != i {
				positions := make([]int, len(params))
				for j, q := range params {
					positions[j] = q.IntProp(graph.PropPosition)
				}
				r.add(Violation{
					Law: LawStructure, Type: TypeParameterGap, Severity: SeverityError,
					EntityIDs: []string{fn.ID},
					Message: fmt.Sprintf("parameters of %s are not contiguous from zero: %v",
						label(fn), positions),
					Location: fn.Location(),
				})
				break
			}
		}
	}

	for id, owners := range r.paramOwner {
		if len(owners) < 2 || !r.inScope(id) {
			continue
		}
		p := r.nodes[id]
		sorted := append([]string(nil), owners...)
		sort.Strings(sorted)
		r.add(Violation{
			Law: LawStructure, Type: TypeParameterConflict, Severity: SeverityError,
			EntityIDs: append([]string{id}, sorted...),
			Message:   fmt.Sprintf("parameter %s is owned by %d functions", label(p), len(owners)),
			Location:  p.Location(),
		})
	}

	for _, cycle := range r.inheritanceCycles() {
		inScope := false
		for _, id := range cycle {
			if r.inScope(id) {
				inScope = true
				break
			}
		}
		if !inScope {
			continue
		}
		names := make([]string, 0, len(cycle)+1)
		for _, id := range cycle {
			names = append(names, label(r.nodes[id]))
		}
		names = append(names, names[0])
		r.add(Violation{
			Law: LawStructure, Type: TypeCircularInheritance, Severity: SeverityError,
			EntityIDs: cycle,
			Message:   "inheritance cycle: " + strings.Join(names, " -> "),
			Location:  r.nodes[cycle[0]].Location(),
		})
	}
	return nil
}

// inheritanceCycles finds cycles in the INHERITS relation by DFS with a
// recursion stack. Each cycle is rotated so its smallest id leads, which
// both names the full cycle and deduplicates rediscoveries.
func (r *run) inheritanceCycles() [][]string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(r.nodes))
	seen := make(map[string]bool)
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, base := range r.inherits[id] {
			switch color[base] {
			case white:
				visit(base)
			case grey:
				start := len(stack) - 1
				for start >= 0 && stack[start] != base {
					start--
				}
				cycle := canonicalCycle(stack[start:])
				key := strings.Join(cycle, "|")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(r.classes))
	for _, c := range r.classes {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// canonicalCycle rotates a cycle so its lexicographically smallest
// member comes first.
func canonicalCycle(cycle []string) []string {
	min := 0
	for i := 1; i < len(cycle); i++ {
		if cycle[i] < cycle[min] {
			min = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[min:]...)
	out = append(out, cycle[:min]...)
	return out
}

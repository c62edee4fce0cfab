// Package validator checks the conservation laws over the graph.
// Violations are data, never errors: a finding comes back in the report,
// an error return means the pass itself could not run.
package validator

import (
	"context"
	"log/slog"
	"sort"

	"lawgraph/internal/graph"
)

// Severity grades a violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Law names which conservation law a violation breaks.
type Law string

const (
	LawSignature Law = "signature_conservation"
	LawReference Law = "reference_integrity"
	LawDataFlow  Law = "data_flow_consistency"
	LawStructure Law = "structural_integrity"
)

// Violation type identifiers.
const (
	TypeSignatureMismatch   = "signature_mismatch"
	TypeVisibility          = "visibility_violation"
	TypeDanglingReference   = "dangling_reference"
	TypeOrphanNode          = "orphan_node"
	TypeUnresolvedReference = "unresolved_reference"
	TypeAmbiguousReference  = "ambiguous_reference"
	TypeTypeMismatch        = "type_mismatch"
	TypeMissingAnnotation   = "missing_annotation"
	TypeParameterGap        = "parameter_gap"
	TypeParameterConflict   = "parameter_conflict"
	TypeCircularInheritance = "circular_inheritance"
)

// Violation is one law breach, anchored on the entities involved.
type Violation struct {
	Law          Law            `json:"law"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	EntityIDs    []string       `json:"entity_ids"`
	Message      string         `json:"message"`
	Location     graph.Location `json:"location"`
	SuggestedFix string         `json:"suggested_fix,omitempty"`
}

// TypeCompatibility selects the data-flow comparison rule.
type TypeCompatibility string

const (
	CompatExact   TypeCompatibility = "exact"
	CompatLenient TypeCompatibility = "lenient"
)

// Policy holds the configurable validation knobs.
type Policy struct {
	// UnresolvedSeverity grades unresolved call sites. Ambiguous sites
	// are always errors.
	UnresolvedSeverity Severity

	// TypeCompatibility selects exact or lenient type comparison.
	TypeCompatibility TypeCompatibility

	// ValidationHops bounds how far the incremental scope expands from
	// the changed set.
	ValidationHops int
}

// DefaultPolicy matches the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		UnresolvedSeverity: SeverityWarning,
		TypeCompatibility:  CompatExact,
		ValidationHops:     1,
	}
}

// Validator runs the laws over store views. It never mutates the graph.
type Validator struct {
	store  graph.Store
	policy Policy
	log    *slog.Logger
}

func New(store graph.Store, policy Policy, log *slog.Logger) *Validator {
	if policy.UnresolvedSeverity == "" {
		policy.UnresolvedSeverity = SeverityWarning
	}
	if policy.TypeCompatibility == "" {
		policy.TypeCompatibility = CompatExact
	}
	if policy.ValidationHops < 0 {
		policy.ValidationHops = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Validator{store: store, policy: policy, log: log}
}

// ValidateFull checks every node.
func (v *Validator) ValidateFull(ctx context.Context) ([]Violation, error) {
	view, err := v.store.View(ctx)
	if err != nil {
		return nil, err
	}
	return v.validate(ctx, view, nil)
}

// ValidateIncremental checks the changed nodes plus their neighborhood
// out to the policy's hop bound. For any scope S the result equals the
// full run restricted to violations anchored in S.
func (v *Validator) ValidateIncremental(ctx context.Context) ([]Violation, error) {
	view, err := v.store.View(ctx)
	if err != nil {
		return nil, err
	}
	changed, err := view.ChangedIDs(ctx)
	if err != nil {
		return nil, err
	}
	scope, err := expandScope(ctx, view, changed, v.policy.ValidationHops)
	if err != nil {
		return nil, err
	}
	return v.validate(ctx, view, scope)
}

// ValidateScope checks exactly the given node set.
func (v *Validator) ValidateScope(ctx context.Context, ids []string) ([]Violation, error) {
	view, err := v.store.View(ctx)
	if err != nil {
		return nil, err
	}
	scope := make(map[string]bool, len(ids))
	for _, id := range ids {
		scope[id] = true
	}
	return v.validate(ctx, view, scope)
}

// validate is the one algorithm behind full and incremental runs. A nil
// scope means every node is in scope; otherwise a violation is reported
// only when its anchor node is in the scope set.
func (v *Validator) validate(ctx context.Context, view graph.Reader, scope map[string]bool) ([]Violation, error) {
	run, err := newRun(ctx, view, scope, v.policy)
	if err != nil {
		return nil, err
	}

	checks := []func(context.Context) error{
		run.checkSignatures,
		run.checkReferences,
		run.checkDataFlow,
		run.checkStructure,
	}
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := check(ctx); err != nil {
			return nil, err
		}
	}

	sortViolations(run.violations)
	v.log.Debug("validation pass finished",
		"scoped", scope != nil, "violations", len(run.violations))
	return run.violations, nil
}

// expandScope grows the seed set by hops along edges in both directions.
func expandScope(ctx context.Context, view graph.Reader, seed []string, hops int) (map[string]bool, error) {
	scope := make(map[string]bool, len(seed))
	frontier := make([]string, 0, len(seed))
	for _, id := range seed {
		scope[id] = true
		frontier = append(frontier, id)
	}

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := view.EdgesFrom(ctx, id)
			if err != nil {
				return nil, err
			}
			in, err := view.EdgesTo(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, e := range out {
				if !scope[e.To] {
					scope[e.To] = true
					next = append(next, e.To)
				}
			}
			for _, e := range in {
				if !scope[e.From] {
					scope[e.From] = true
					next = append(next, e.From)
				}
			}
		}
		frontier = next
	}
	return scope, nil
}

func sortViolations(vs []Violation) {
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Law != b.Law {
			return a.Law < b.Law
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		ak, bk := firstEntity(a), firstEntity(b)
		if ak != bk {
			return ak < bk
		}
		return a.Message < b.Message
	})
}

func firstEntity(v Violation) string {
	if len(v.EntityIDs) == 0 {
		return ""
	}
	return v.EntityIDs[0]
}

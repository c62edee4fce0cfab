package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawgraph/internal/graph"
)

func node(id string, kind graph.NodeKind, props map[string]any) *graph.Node {
	if props == nil {
		props = map[string]any{}
	}
	return &graph.Node{ID: id, Kind: kind, Props: props}
}

func edge(from string, kind graph.EdgeKind, to string) *graph.Edge {
	return &graph.Edge{From: from, Kind: kind, To: to}
}

func buildStore(t *testing.T, nodes []*graph.Node, edges []*graph.Edge) *graph.MemoryStore {
	t.Helper()
	s := graph.NewMemoryStore()
	require.NoError(t, s.Apply(context.Background(), graph.MutationSet{
		UpsertNodes: nodes,
		UpsertEdges: edges,
	}))
	return s
}

func violationTypes(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Type
	}
	return out
}

// callWorld builds a module with a two-parameter function (one required,
// one defaulted) and a resolved call site passing args arguments.
func callWorld(t *testing.T, args int, calleeVisibility, callerModule string) *graph.MemoryStore {
	nodes := []*graph.Node{
		node("mod", graph.NodeModule, map[string]any{
			graph.PropName: "app", graph.PropQualifiedName: "app", graph.PropModule: "app"}),
		node("fn", graph.NodeFunction, map[string]any{
			graph.PropName: "g", graph.PropQualifiedName: "app.g", graph.PropModule: "app",
			graph.PropVisibility: calleeVisibility, graph.PropReturnType: "int"}),
		node("p0", graph.NodeParameter, map[string]any{
			graph.PropName: "a", graph.PropModule: "app", graph.PropPosition: 0,
			graph.PropHasDefault: false, graph.PropVariadic: false, graph.PropType: "int"}),
		node("p1", graph.NodeParameter, map[string]any{
			graph.PropName: "b", graph.PropModule: "app", graph.PropPosition: 1,
			graph.PropHasDefault: true, graph.PropVariadic: false, graph.PropType: "str"}),
		node("cs", graph.NodeCallSite, map[string]any{
			graph.PropName: "g", graph.PropModule: callerModule, graph.PropCallee: "g",
			graph.PropArgCount: args, graph.PropResolution: string(graph.ResolutionResolved)}),
	}
	edges := []*graph.Edge{
		edge("mod", graph.EdgeDeclares, "fn"),
		edge("mod", graph.EdgeDeclares, "cs"),
		edge("fn", graph.EdgeHasParameter, "p0"),
		edge("fn", graph.EdgeHasParameter, "p1"),
		edge("fn", graph.EdgeDeclares, "p0"),
		edge("fn", graph.EdgeDeclares, "p1"),
		edge("cs", graph.EdgeResolvesTo, "fn"),
	}
	return buildStore(t, nodes, edges)
}

func TestSignatureConservation(t *testing.T) {
	ctx := context.Background()

	t.Run("arg count within range passes", func(t *testing.T) {
		for _, args := range []int{1, 2} {
			s := callWorld(t, args, "public", "app")
			vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
			require.NoError(t, err)
			assert.NotContains(t, violationTypes(vs), TypeSignatureMismatch, "args=%d", args)
		}
	})

	t.Run("arg count outside range flagged", func(t *testing.T) {
		for _, args := range []int{0, 3} {
			s := callWorld(t, args, "public", "app")
			vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
			require.NoError(t, err)
			assert.Contains(t, violationTypes(vs), TypeSignatureMismatch, "args=%d", args)
		}
	})

	t.Run("variadic lifts the upper bound", func(t *testing.T) {
		s := callWorld(t, 9, "public", "app")
		vararg := node("pv", graph.NodeParameter, map[string]any{
			graph.PropName: "rest", graph.PropModule: "app", graph.PropPosition: 2,
			graph.PropVariadic: true})
		require.NoError(t, s.Apply(ctx, graph.MutationSet{
			UpsertNodes: []*graph.Node{vararg},
			UpsertEdges: []*graph.Edge{
				edge("fn", graph.EdgeHasParameter, "pv"),
				edge("fn", graph.EdgeDeclares, "pv"),
			},
		}))
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.NotContains(t, violationTypes(vs), TypeSignatureMismatch)
	})

	t.Run("private callee outside its module", func(t *testing.T) {
		s := callWorld(t, 1, "private", "other")
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.Contains(t, violationTypes(vs), TypeVisibility)

		same := callWorld(t, 1, "private", "app")
		vs, err = New(same, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.NotContains(t, violationTypes(vs), TypeVisibility)
	})
}

func TestReferenceIntegrity(t *testing.T) {
	ctx := context.Background()

	t.Run("dangling reference", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("v", graph.NodeVariable, map[string]any{
					graph.PropName: "x",
					graph.PropUnresolvedRefs: []string{"READS_FROM:app.gone"}}),
			},
			[]*graph.Edge{edge("mod", graph.EdgeDeclares, "v")})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.Contains(t, violationTypes(vs), TypeDanglingReference)
	})

	t.Run("orphan node", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("stray", graph.NodeVariable, map[string]any{graph.PropName: "x"}),
			}, nil)
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		require.Contains(t, violationTypes(vs), TypeOrphanNode)
	})

	t.Run("unresolved severity follows policy", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("cs", graph.NodeCallSite, map[string]any{
					graph.PropName: "f", graph.PropCallee: "f",
					graph.PropResolution: string(graph.ResolutionUnresolved)}),
			},
			[]*graph.Edge{edge("mod", graph.EdgeDeclares, "cs")})

		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		require.Contains(t, violationTypes(vs), TypeUnresolvedReference)
		for _, v := range vs {
			if v.Type == TypeUnresolvedReference {
				assert.Equal(t, SeverityWarning, v.Severity)
			}
		}

		strict := DefaultPolicy()
		strict.UnresolvedSeverity = SeverityError
		vs, err = New(s, strict, nil).ValidateFull(ctx)
		require.NoError(t, err)
		for _, v := range vs {
			if v.Type == TypeUnresolvedReference {
				assert.Equal(t, SeverityError, v.Severity)
			}
		}
	})

	t.Run("ambiguous is always an error", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("cs", graph.NodeCallSite, map[string]any{
					graph.PropName: "f", graph.PropCallee: "f",
					graph.PropResolution: string(graph.ResolutionAmbiguous),
					graph.PropCandidates: []string{"a.f", "b.f"}}),
			},
			[]*graph.Edge{edge("mod", graph.EdgeDeclares, "cs")})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		found := false
		for _, v := range vs {
			if v.Type == TypeAmbiguousReference {
				found = true
				assert.Equal(t, SeverityError, v.Severity)
				assert.Contains(t, v.Message, "a.f")
			}
		}
		assert.True(t, found)
	})
}

func TestDataFlowConsistency(t *testing.T) {
	ctx := context.Background()

	flowStore := func(t *testing.T, fromType, toType string) *graph.MemoryStore {
		return buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("src", graph.NodeVariable, map[string]any{
					graph.PropName: "a", graph.PropType: fromType}),
				node("dst", graph.NodeVariable, map[string]any{
					graph.PropName: "b", graph.PropType: toType}),
			},
			[]*graph.Edge{
				edge("mod", graph.EdgeDeclares, "src"),
				edge("mod", graph.EdgeDeclares, "dst"),
				edge("src", graph.EdgeAssignsTo, "dst"),
			})
	}

	t.Run("exact mismatch flagged", func(t *testing.T) {
		s := flowStore(t, "int", "str")
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.Contains(t, violationTypes(vs), TypeTypeMismatch)
	})

	t.Run("unannotated end skipped", func(t *testing.T) {
		s := flowStore(t, "int", "")
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.NotContains(t, violationTypes(vs), TypeTypeMismatch)
	})

	t.Run("lenient accepts generic base and wildcards", func(t *testing.T) {
		lenient := DefaultPolicy()
		lenient.TypeCompatibility = CompatLenient

		s := flowStore(t, "list[int]", "list")
		vs, err := New(s, lenient, nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.NotContains(t, violationTypes(vs), TypeTypeMismatch)

		s = flowStore(t, "int", "Any")
		vs, err = New(s, lenient, nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.NotContains(t, violationTypes(vs), TypeTypeMismatch)

		s = flowStore(t, "int", "str")
		vs, err = New(s, lenient, nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.Contains(t, violationTypes(vs), TypeTypeMismatch, "lenient still rejects plain mismatches")
	})

	t.Run("public function missing annotations warns", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("fn", graph.NodeFunction, map[string]any{
					graph.PropName: "g", graph.PropVisibility: "public"}),
				node("p0", graph.NodeParameter, map[string]any{
					graph.PropName: "a", graph.PropPosition: 0}),
			},
			[]*graph.Edge{
				edge("mod", graph.EdgeDeclares, "fn"),
				edge("fn", graph.EdgeDeclares, "p0"),
				edge("fn", graph.EdgeHasParameter, "p0"),
			})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		found := false
		for _, v := range vs {
			if v.Type == TypeMissingAnnotation {
				found = true
				assert.Equal(t, SeverityWarning, v.Severity)
			}
		}
		assert.True(t, found)
	})
}

func TestStructuralIntegrity(t *testing.T) {
	ctx := context.Background()

	t.Run("parameter gap", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("fn", graph.NodeFunction, map[string]any{
					graph.PropName: "g", graph.PropVisibility: "private"}),
				node("p0", graph.NodeParameter, map[string]any{graph.PropName: "a", graph.PropPosition: 0}),
				node("p2", graph.NodeParameter, map[string]any{graph.PropName: "b", graph.PropPosition: 2}),
			},
			[]*graph.Edge{
				edge("mod", graph.EdgeDeclares, "fn"),
				edge("fn", graph.EdgeDeclares, "p0"),
				edge("fn", graph.EdgeDeclares, "p2"),
				edge("fn", graph.EdgeHasParameter, "p0"),
				edge("fn", graph.EdgeHasParameter, "p2"),
			})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.Contains(t, violationTypes(vs), TypeParameterGap)
	})

	t.Run("parameter conflict", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("f1", graph.NodeFunction, map[string]any{
					graph.PropName: "g", graph.PropVisibility: "private"}),
				node("f2", graph.NodeFunction, map[string]any{
					graph.PropName: "h", graph.PropVisibility: "private"}),
				node("p", graph.NodeParameter, map[string]any{graph.PropName: "a", graph.PropPosition: 0}),
			},
			[]*graph.Edge{
				edge("mod", graph.EdgeDeclares, "f1"),
				edge("mod", graph.EdgeDeclares, "f2"),
				edge("f1", graph.EdgeDeclares, "p"),
				edge("f1", graph.EdgeHasParameter, "p"),
				edge("f2", graph.EdgeHasParameter, "p"),
			})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.Contains(t, violationTypes(vs), TypeParameterConflict)
	})

	t.Run("circular inheritance names the full cycle", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("A", graph.NodeClass, map[string]any{graph.PropName: "A", graph.PropQualifiedName: "app.A"}),
				node("B", graph.NodeClass, map[string]any{graph.PropName: "B", graph.PropQualifiedName: "app.B"}),
				node("C", graph.NodeClass, map[string]any{graph.PropName: "C", graph.PropQualifiedName: "app.C"}),
			},
			[]*graph.Edge{
				edge("mod", graph.EdgeDeclares, "A"),
				edge("mod", graph.EdgeDeclares, "B"),
				edge("mod", graph.EdgeDeclares, "C"),
				edge("A", graph.EdgeInherits, "B"),
				edge("B", graph.EdgeInherits, "C"),
				edge("C", graph.EdgeInherits, "A"),
			})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)

		var cycles []Violation
		for _, v := range vs {
			if v.Type == TypeCircularInheritance {
				cycles = append(cycles, v)
			}
		}
		require.Len(t, cycles, 1, "one cycle reported once")
		msg := cycles[0].Message
		assert.Contains(t, msg, "app.A")
		assert.Contains(t, msg, "app.B")
		assert.Contains(t, msg, "app.C")
	})

	t.Run("acyclic inheritance passes", func(t *testing.T) {
		s := buildStore(t,
			[]*graph.Node{
				node("mod", graph.NodeModule, map[string]any{graph.PropName: "app"}),
				node("A", graph.NodeClass, map[string]any{graph.PropName: "A"}),
				node("B", graph.NodeClass, map[string]any{graph.PropName: "B"}),
			},
			[]*graph.Edge{
				edge("mod", graph.EdgeDeclares, "A"),
				edge("mod", graph.EdgeDeclares, "B"),
				edge("A", graph.EdgeInherits, "B"),
			})
		vs, err := New(s, DefaultPolicy(), nil).ValidateFull(ctx)
		require.NoError(t, err)
		assert.NotContains(t, violationTypes(vs), TypeCircularInheritance)
	})
}

func TestIncrementalEqualsFull(t *testing.T) {
	ctx := context.Background()

	// A graph with several violation kinds at once.
	s := callWorld(t, 5, "private", "other")
	require.NoError(t, s.Apply(ctx, graph.MutationSet{
		UpsertNodes: []*graph.Node{
			node("stray", graph.NodeVariable, map[string]any{graph.PropName: "x"}),
		},
	}))

	v := New(s, DefaultPolicy(), nil)

	full, err := v.ValidateFull(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, full)

	t.Run("all nodes changed reproduces the full run", func(t *testing.T) {
		nodes, err := s.Nodes(ctx)
		require.NoError(t, err)
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		require.NoError(t, s.SetChanged(ctx, ids, true))

		incremental, err := v.ValidateIncremental(ctx)
		require.NoError(t, err)
		assert.Equal(t, full, incremental)
	})

	t.Run("scope restricts to anchored violations", func(t *testing.T) {
		scoped, err := v.ValidateScope(ctx, []string{"stray"})
		require.NoError(t, err)
		require.Len(t, scoped, 1)
		assert.Equal(t, TypeOrphanNode, scoped[0].Type)
		assert.Equal(t, []string{"stray"}, scoped[0].EntityIDs)
	})
}

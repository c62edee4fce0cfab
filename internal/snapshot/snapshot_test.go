package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawgraph/internal/builder"
	"lawgraph/internal/extract"
	"lawgraph/internal/graph"
)

func seedStore(t *testing.T) *graph.MemoryStore {
	t.Helper()
	s := graph.NewMemoryStore()
	require.NoError(t, s.Apply(context.Background(), graph.MutationSet{
		UpsertNodes: []*graph.Node{
			{ID: "mod", Kind: graph.NodeModule, Props: map[string]any{graph.PropName: "app"}},
			{ID: "fn", Kind: graph.NodeFunction, Props: map[string]any{
				graph.PropName: "run", graph.PropReturnType: "int"}},
		},
		UpsertEdges: []*graph.Edge{
			{From: "mod", Kind: graph.EdgeDeclares, To: "fn"},
		},
	}))
	return s
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	engine := NewEngine(store, nil, nil)

	s1, err := engine.Create(ctx, "before")
	require.NoError(t, err)
	assert.NotEmpty(t, s1.ID)
	assert.Equal(t, "before", s1.Label)
	assert.Positive(t, s1.CreatedAt)
	assert.Len(t, s1.Nodes, 2)
	assert.Len(t, s1.Edges, 1)

	s2, err := engine.Create(ctx, "after")
	require.NoError(t, err)

	list, err := engine.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	got, err := engine.Get(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, got.ID)

	require.NoError(t, engine.Delete(ctx, s2.ID))
	_, err = engine.Get(ctx, s2.ID)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshot_Immutable(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	engine := NewEngine(store, nil, nil)

	snap, err := engine.Create(ctx, "frozen")
	require.NoError(t, err)

	// Mutating the graph after capture must not leak into the snapshot.
	require.NoError(t, store.Apply(ctx, graph.MutationSet{DeleteNodes: []string{"fn"}}))

	got, err := engine.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
	assert.Len(t, got.Edges, 1)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	engine := NewEngine(store, nil, nil)

	before, err := engine.Create(ctx, "before")
	require.NoError(t, err)

	t.Run("self diff is empty", func(t *testing.T) {
		d := Diff(before, before)
		assert.True(t, d.Empty())
		assert.Len(t, d.NodesUnchanged, 2)
	})

	// One modification, one addition, one removal.
	require.NoError(t, store.Apply(ctx, graph.MutationSet{
		UpsertNodes: []*graph.Node{
			{ID: "fn", Kind: graph.NodeFunction, Props: map[string]any{
				graph.PropName: "run", graph.PropReturnType: "str"}},
			{ID: "v", Kind: graph.NodeVariable, Props: map[string]any{graph.PropName: "x"}},
		},
		UpsertEdges: []*graph.Edge{
			{From: "mod", Kind: graph.EdgeDeclares, To: "v"},
		},
	}))

	after, err := engine.Create(ctx, "after")
	require.NoError(t, err)
	d := Diff(before, after)

	t.Run("partitions", func(t *testing.T) {
		require.Len(t, d.NodesAdded, 1)
		assert.Equal(t, "v", d.NodesAdded[0].ID)
		assert.Empty(t, d.NodesRemoved)
		require.Len(t, d.NodesModified, 1)
		assert.Equal(t, "fn", d.NodesModified[0].ID)
		assert.Equal(t, []string{"mod"}, d.NodesUnchanged)
		require.Len(t, d.EdgesAdded, 1)
		assert.Len(t, d.EdgesUnchanged, 1)
	})

	t.Run("per-property before and after", func(t *testing.T) {
		change, ok := d.NodesModified[0].Props[graph.PropReturnType]
		require.True(t, ok)
		assert.Equal(t, "int", change.Before)
		assert.Equal(t, "str", change.After)
	})

	t.Run("modified set is symmetric", func(t *testing.T) {
		reverse := Diff(after, before)
		require.Len(t, reverse.NodesModified, 1)
		assert.Equal(t, d.NodesModified[0].ID, reverse.NodesModified[0].ID)

		change := reverse.NodesModified[0].Props[graph.PropReturnType]
		assert.Equal(t, "str", change.Before)
		assert.Equal(t, "int", change.After)

		assert.Equal(t, d.NodesAdded[0].ID, reverse.NodesRemoved[0].ID)
	})
}

// A signature edit f(x) -> f(x, y=1) lands through re-extraction; the
// diff between the surrounding snapshots reports the added parameter,
// attributed to f through the HAS_PARAMETER edge key.
func TestDiff_ParameterAddedAcrossReindex(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	b := builder.New(store, nil)
	engine := NewEngine(store, nil, nil)

	base := func() *extract.Extraction {
		return &extract.Extraction{
			Module: "app.api",
			Entities: []extract.RawEntity{
				{ID: "f", Kind: extract.KindFunction, Name: "f", QualifiedName: "app.api.f"},
				{ID: "px", Kind: extract.KindParameter, Name: "x", TypeAnnotation: "int", Position: 0},
			},
			Relationships: []extract.RawRelationship{
				{Kind: extract.RelDeclares, From: "app.api", To: "f"},
				{Kind: extract.RelHasParameter, From: "f", To: "px"},
			},
		}
	}

	_, err := b.ApplyExtraction(ctx, base())
	require.NoError(t, err)
	before, err := engine.Create(ctx, "before")
	require.NoError(t, err)

	edited := base()
	edited.Entities = append(edited.Entities,
		extract.RawEntity{ID: "py", Kind: extract.KindParameter, Name: "y", TypeAnnotation: "int",
			Position: 1, HasDefault: true})
	edited.Relationships = append(edited.Relationships,
		extract.RawRelationship{Kind: extract.RelHasParameter, From: "f", To: "py"})

	_, err = b.ApplyExtraction(ctx, edited)
	require.NoError(t, err)
	after, err := engine.Create(ctx, "after")
	require.NoError(t, err)

	d := Diff(before, after)

	require.Len(t, d.NodesAdded, 1)
	added := d.NodesAdded[0]
	assert.Equal(t, graph.NodeParameter, added.Kind)
	assert.Equal(t, "y", added.StringProp(graph.PropName))
	assert.True(t, added.BoolProp(graph.PropHasDefault))

	fnID := extract.NodeID("app.api", base().Entities[0])
	assert.Contains(t, d.EdgesAdded,
		graph.EdgeKey{From: fnID, Kind: graph.EdgeHasParameter, To: added.ID},
		"the edge key names f as the owner of the new parameter")

	assert.Empty(t, d.NodesRemoved)
	assert.Empty(t, d.NodesModified, "f's own properties did not change")
}

func TestDiff_ChangedFlagExcluded(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	engine := NewEngine(store, nil, nil)

	before, err := engine.Create(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, store.SetChanged(ctx, []string{"fn", "mod"}, true))

	after, err := engine.Create(ctx, "b")
	require.NoError(t, err)

	d := Diff(before, after)
	assert.True(t, d.Empty(), "changed flags are operational state, not content")
}

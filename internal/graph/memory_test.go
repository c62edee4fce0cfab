package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(id string, kind NodeKind, name string) *Node {
	return &Node{ID: id, Kind: kind, Props: map[string]any{PropName: name}}
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	err := s.Apply(context.Background(), MutationSet{
		UpsertNodes: []*Node{
			testNode("m1", NodeModule, "app"),
			testNode("f1", NodeFunction, "run"),
			testNode("f2", NodeFunction, "helper"),
		},
		UpsertEdges: []*Edge{
			{From: "m1", Kind: EdgeDeclares, To: "f1"},
			{From: "m1", Kind: EdgeDeclares, To: "f2"},
		},
	})
	require.NoError(t, err)
	return s
}

func TestMemoryStore_ApplyAtomicity(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	// One valid node plus an edge to a missing endpoint: nothing from
	// the set may survive.
	err := s.Apply(ctx, MutationSet{
		UpsertNodes: []*Node{testNode("v1", NodeVariable, "x")},
		UpsertEdges: []*Edge{{From: "v1", Kind: EdgeReferences, To: "ghost"}},
	})
	require.ErrorIs(t, err, ErrNodeNotFound)

	_, ok, err := s.Node(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok, "failed commit must not leave partial state")
}

func TestMemoryStore_ViewIsolation(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	view, err := s.View(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Apply(ctx, MutationSet{DeleteNodes: []string{"f2"}}))

	// The view predates the delete and must still see f2.
	_, ok, err := view.Node(ctx, "f2")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Node(ctx, "f2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_DeleteNodeCascades(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	require.NoError(t, s.Apply(ctx, MutationSet{DeleteNodes: []string{"f1"}}))

	edges, err := s.EdgesFrom(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "f2", edges[0].To)
}

func TestMemoryStore_ChangedFlag(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	t.Run("set and list", func(t *testing.T) {
		require.NoError(t, s.SetChanged(ctx, []string{"f2", "f1", "unknown"}, true))
		ids, err := s.ChangedIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"f1", "f2"}, ids, "unknown ids ignored, output sorted")
	})

	t.Run("flag survives property update", func(t *testing.T) {
		updated := testNode("f1", NodeFunction, "run")
		updated.Props[PropReturnType] = "int"
		require.NoError(t, s.Apply(ctx, MutationSet{UpsertNodes: []*Node{updated}}))

		n, ok, err := s.Node(ctx, "f1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, n.Changed)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, s.ClearChanged(ctx))
		ids, err := s.ChangedIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestMemoryStore_CheckpointRestore(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	before := s.Checkpoint()
	require.NoError(t, s.Apply(ctx, MutationSet{
		UpsertNodes: []*Node{testNode("v1", NodeVariable, "x")},
	}))

	_, ok, err := s.Node(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)

	s.Restore(before)

	_, ok, err = s.Node(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok, "restore discards commits made after the checkpoint")

	_, ok, err = s.Node(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	fns, err := s.NodesByKind(ctx, NodeFunction)
	require.NoError(t, err)
	assert.Len(t, fns, 2)
	assert.Equal(t, "f1", fns[0].ID, "sorted by id")

	byName, err := s.NodesByName(ctx, "helper")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "f2", byName[0].ID)

	declares, err := s.EdgesByKind(ctx, EdgeDeclares)
	require.NoError(t, err)
	assert.Len(t, declares, 2)
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	require.NoError(t, s.Close())

	err := s.Apply(ctx, MutationSet{UpsertNodes: []*Node{testNode("x", NodeVariable, "x")}})
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.View(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

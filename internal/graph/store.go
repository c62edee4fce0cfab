package graph

import "context"

// MutationSet is one atomic unit of graph change. The builder computes a
// minimal set per module; the store commits it all-or-nothing.
type MutationSet struct {
	UpsertNodes []*Node
	DeleteNodes []string
	UpsertEdges []*Edge
	DeleteEdges []EdgeKey
}

// Empty reports whether the set contains no mutations.
func (m *MutationSet) Empty() bool {
	return len(m.UpsertNodes) == 0 && len(m.DeleteNodes) == 0 &&
		len(m.UpsertEdges) == 0 && len(m.DeleteEdges) == 0
}

// Size returns the total number of individual mutations.
func (m *MutationSet) Size() int {
	return len(m.UpsertNodes) + len(m.DeleteNodes) + len(m.UpsertEdges) + len(m.DeleteEdges)
}

// Reader is the read-only capability handed to the validator, the
// propagator, and the snapshot engine. A Reader is a consistent view:
// concurrent commits never tear it.
type Reader interface {
	Node(ctx context.Context, id string) (*Node, bool, error)
	Nodes(ctx context.Context) ([]*Node, error)
	NodesByKind(ctx context.Context, kind NodeKind) ([]*Node, error)
	NodesByName(ctx context.Context, name string) ([]*Node, error)
	Edges(ctx context.Context) ([]*Edge, error)
	EdgesFrom(ctx context.Context, id string, kinds ...EdgeKind) ([]*Edge, error)
	EdgesTo(ctx context.Context, id string, kinds ...EdgeKind) ([]*Edge, error)
	EdgesByKind(ctx context.Context, kind EdgeKind) ([]*Edge, error)
	ChangedIDs(ctx context.Context) ([]string, error)
}

// Store is the full graph store adapter contract. The builder is the only
// component that calls Apply; everything else reads.
type Store interface {
	Reader

	// Apply commits a mutation set atomically. Either every mutation
	// takes effect or none does.
	Apply(ctx context.Context, m MutationSet) error

	// SetChanged sets the changed flag on the given nodes. Updates are
	// monotonic set-union when changed is true, so at-least-once
	// application is safe. Unknown ids are ignored.
	SetChanged(ctx context.Context, ids []string, changed bool) error

	// ClearChanged resets the changed flag on every node.
	ClearChanged(ctx context.Context) error

	// View returns a consistent read-only view of the current state.
	View(ctx context.Context) (Reader, error)

	Close() error
}

package graph

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the default Store. Commits are copy-on-write: Apply
// clones the current graph, mutates the clone, and swaps it in under the
// lock. Views handed out earlier keep reading the superseded copy, so a
// validator pass always observes one consistent state.
type MemoryStore struct {
	mu     sync.RWMutex
	g      *Graph
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{g: NewGraph()}
}

// Apply commits the mutation set atomically. Deletes run first so an
// upsert within the same set can re-create a deleted identity.
func (s *MemoryStore) Apply(ctx context.Context, m MutationSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	next := s.g.Clone()
	for _, key := range m.DeleteEdges {
		next.DeleteEdge(key)
	}
	for _, id := range m.DeleteNodes {
		next.DeleteNode(id)
	}
	for _, n := range m.UpsertNodes {
		next.PutNode(n.Clone())
	}
	for _, e := range m.UpsertEdges {
		if err := next.PutEdge(e.Clone()); err != nil {
			// Abandon the clone: nothing of the failed set survives.
			return fmt.Errorf("apply mutation set: %w", err)
		}
	}

	s.g = next
	return nil
}

// SetChanged flags the given nodes. Clearing an individual node is
// allowed but the propagator only ever unions.
func (s *MemoryStore) SetChanged(ctx context.Context, ids []string, changed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	next := s.g.Clone()
	for _, id := range ids {
		if n, ok := next.Node(id); ok {
			n.Changed = changed
		}
	}
	s.g = next
	return nil
}

// ClearChanged resets every changed flag.
func (s *MemoryStore) ClearChanged(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	next := s.g.Clone()
	for _, n := range next.Nodes() {
		n.Changed = false
	}
	s.g = next
	return nil
}

// Checkpoint captures the current state for Restore. Commits swap in a
// fresh clone instead of mutating in place, so the captured pointer
// stays stable.
func (s *MemoryStore) Checkpoint() *Graph {
	return s.current()
}

// Restore swaps a checkpointed state back in, discarding every commit
// made since. Write-through stores use it to undo a memory commit whose
// durable write failed.
func (s *MemoryStore) Restore(g *Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.g = g
}

// View returns the current graph as a read-only view. The returned
// reader stays consistent because commits swap in a fresh clone instead
// of mutating in place.
func (s *MemoryStore) View(ctx context.Context) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &graphReader{g: s.g}, nil
}

// Close marks the store closed. Existing views remain readable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) current() *Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g
}

// Reader methods on the store itself read whatever state is current at
// call time; use View for a pass that must not see concurrent commits.

func (s *MemoryStore) Node(ctx context.Context, id string) (*Node, bool, error) {
	return (&graphReader{g: s.current()}).Node(ctx, id)
}

func (s *MemoryStore) Nodes(ctx context.Context) ([]*Node, error) {
	return (&graphReader{g: s.current()}).Nodes(ctx)
}

func (s *MemoryStore) NodesByKind(ctx context.Context, kind NodeKind) ([]*Node, error) {
	return (&graphReader{g: s.current()}).NodesByKind(ctx, kind)
}

func (s *MemoryStore) NodesByName(ctx context.Context, name string) ([]*Node, error) {
	return (&graphReader{g: s.current()}).NodesByName(ctx, name)
}

func (s *MemoryStore) Edges(ctx context.Context) ([]*Edge, error) {
	return (&graphReader{g: s.current()}).Edges(ctx)
}

func (s *MemoryStore) EdgesFrom(ctx context.Context, id string, kinds ...EdgeKind) ([]*Edge, error) {
	return (&graphReader{g: s.current()}).EdgesFrom(ctx, id, kinds...)
}

func (s *MemoryStore) EdgesTo(ctx context.Context, id string, kinds ...EdgeKind) ([]*Edge, error) {
	return (&graphReader{g: s.current()}).EdgesTo(ctx, id, kinds...)
}

func (s *MemoryStore) EdgesByKind(ctx context.Context, kind EdgeKind) ([]*Edge, error) {
	return (&graphReader{g: s.current()}).EdgesByKind(ctx, kind)
}

func (s *MemoryStore) ChangedIDs(ctx context.Context) ([]string, error) {
	return (&graphReader{g: s.current()}).ChangedIDs(ctx)
}

// graphReader adapts an immutable *Graph to the Reader interface.
type graphReader struct {
	g *Graph
}

func (r *graphReader) Node(ctx context.Context, id string) (*Node, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	n, ok := r.g.Node(id)
	return n, ok, nil
}

func (r *graphReader) Nodes(ctx context.Context) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.Nodes(), nil
}

func (r *graphReader) NodesByKind(ctx context.Context, kind NodeKind) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.NodesByKind(kind), nil
}

func (r *graphReader) NodesByName(ctx context.Context, name string) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.NodesByName(name), nil
}

func (r *graphReader) Edges(ctx context.Context) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.Edges(), nil
}

func (r *graphReader) EdgesFrom(ctx context.Context, id string, kinds ...EdgeKind) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.EdgesFrom(id, kinds...), nil
}

func (r *graphReader) EdgesTo(ctx context.Context, id string, kinds ...EdgeKind) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.EdgesTo(id, kinds...), nil
}

func (r *graphReader) EdgesByKind(ctx context.Context, kind EdgeKind) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.EdgesByKind(kind), nil
}

func (r *graphReader) ChangedIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.g.ChangedIDs(), nil
}

// Package snapshot captures immutable labeled copies of the graph and
// computes structural diffs between them.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lawgraph/internal/graph"
)

// ErrSnapshotNotFound marks lookups of unknown snapshot ids.
var ErrSnapshotNotFound = errors.New("snapshot: not found")

// Snapshot is a deep copy of the graph at one instant. Snapshots never
// change after creation.
type Snapshot struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	CreatedAt int64         `json:"created_at"` // epoch milliseconds
	Nodes     []*graph.Node `json:"nodes"`
	Edges     []*graph.Edge `json:"edges"`
}

// Repository persists snapshots. The in-memory implementation below is
// the default; the sqlite store provides a durable one.
type Repository interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	ListSnapshots(ctx context.Context) ([]*Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Engine creates, stores, and diffs snapshots. It reads the graph
// through consistent views and never mutates it.
type Engine struct {
	store graph.Store
	repo  Repository
	log   *slog.Logger
}

func NewEngine(store graph.Store, repo Repository, log *slog.Logger) *Engine {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, repo: repo, log: log}
}

// Create copies the current graph into a new immutable snapshot.
func (e *Engine) Create(ctx context.Context, label string) (*Snapshot, error) {
	view, err := e.store.View(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := view.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := view.Edges(ctx)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		ID:        uuid.NewString(),
		Label:     label,
		CreatedAt: time.Now().UnixMilli(),
		Nodes:     make([]*graph.Node, len(nodes)),
		Edges:     make([]*graph.Edge, len(edges)),
	}
	for i, n := range nodes {
		s.Nodes[i] = n.Clone()
	}
	for i, ed := range edges {
		s.Edges[i] = ed.Clone()
	}

	if err := e.repo.SaveSnapshot(ctx, s); err != nil {
		return nil, err
	}
	e.log.Info("snapshot created", "id", s.ID, "label", label, "nodes", len(s.Nodes), "edges", len(s.Edges))
	return s, nil
}

// List returns all snapshots ordered by creation time.
func (e *Engine) List(ctx context.Context) ([]*Snapshot, error) {
	snaps, err := e.repo.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt != snaps[j].CreatedAt {
			return snaps[i].CreatedAt < snaps[j].CreatedAt
		}
		return snaps[i].ID < snaps[j].ID
	})
	return snaps, nil
}

// Get returns one snapshot by id.
func (e *Engine) Get(ctx context.Context, id string) (*Snapshot, error) {
	return e.repo.GetSnapshot(ctx, id)
}

// Delete removes a snapshot. The graph itself is unaffected.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.repo.DeleteSnapshot(ctx, id)
}

// DiffIDs diffs two stored snapshots by id.
func (e *Engine) DiffIDs(ctx context.Context, oldID, newID string) (*DiffResult, error) {
	oldSnap, err := e.repo.GetSnapshot(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newSnap, err := e.repo.GetSnapshot(ctx, newID)
	if err != nil {
		return nil, err
	}
	return Diff(oldSnap, newSnap), nil
}

// MemoryRepository keeps snapshots in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snaps: make(map[string]*Snapshot)}
}

func (r *MemoryRepository) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[s.ID] = s
	return nil
}

func (r *MemoryRepository) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Snapshot, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryRepository) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snaps[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

func (r *MemoryRepository) DeleteSnapshot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snaps[id]; !ok {
		return ErrSnapshotNotFound
	}
	delete(r.snaps, id)
	return nil
}

// Package storage provides the durable graph store backend. The sqlite
// store keeps the full graph in memory for reads and writes through to
// disk inside a transaction on every commit.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"lawgraph/internal/graph"
	"lawgraph/internal/snapshot"
)

type SQLiteStore struct {
	db  *sql.DB
	mem *graph.MemoryStore
}

// NewSQLiteStore creates or opens a SQLite database and loads the graph
// into memory.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, mem: graph.NewMemoryStore()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if err := s.load(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	s.mem.Close()
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			changed INTEGER NOT NULL DEFAULT 0,
			props JSON
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			from_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			to_id TEXT NOT NULL,
			props JSON,
			PRIMARY KEY (from_id, kind, to_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			label TEXT,
			created_at INTEGER NOT NULL,
			nodes JSON,
			edges JSON
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// load replays the persisted graph into the memory store.
func (s *SQLiteStore) load(ctx context.Context) error {
	var set graph.MutationSet

	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, changed, props FROM nodes")
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var (
			id, kind  string
			isChanged bool
			props     []byte
		)
		if err := rows.Scan(&id, &kind, &isChanged, &props); err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}
		n := &graph.Node{ID: id, Kind: graph.NodeKind(kind)}
		if len(props) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(props, &raw); err != nil {
				return fmt.Errorf("node %s: bad props: %w", id, err)
			}
			n.Props = normalizeProps(raw)
		}
		if isChanged {
			changed = append(changed, id)
		}
		set.UpsertNodes = append(set.UpsertNodes, n)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	edgeRows, err := s.db.QueryContext(ctx, "SELECT from_id, kind, to_id, props FROM edges")
	if err != nil {
		return fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var (
			from, kind, to string
			props          []byte
		)
		if err := edgeRows.Scan(&from, &kind, &to, &props); err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}
		e := &graph.Edge{From: from, Kind: graph.EdgeKind(kind), To: to}
		if len(props) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(props, &raw); err != nil {
				return fmt.Errorf("edge %s-%s->%s: bad props: %w", from, kind, to, err)
			}
			e.Props = normalizeProps(raw)
		}
		set.UpsertEdges = append(set.UpsertEdges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return err
	}

	if !set.Empty() {
		if err := s.mem.Apply(ctx, set); err != nil {
			return err
		}
	}
	if len(changed) > 0 {
		if err := s.mem.SetChanged(ctx, changed, true); err != nil {
			return err
		}
	}
	return nil
}

// Apply commits to the memory store first, which enforces the graph
// invariants, then persists the same set in one transaction. A failed
// transaction rolls the memory store back to its prior state, so a
// failed Apply leaves nothing visible anywhere.
func (s *SQLiteStore) Apply(ctx context.Context, m graph.MutationSet) error {
	before := s.mem.Checkpoint()
	if err := s.mem.Apply(ctx, m); err != nil {
		return err
	}
	if err := s.persist(ctx, m); err != nil {
		s.mem.Restore(before)
		return err
	}
	return nil
}

func (s *SQLiteStore) persist(ctx context.Context, m graph.MutationSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, key := range m.DeleteEdges {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM edges WHERE from_id = ? AND kind = ? AND to_id = ?",
			key.From, string(key.Kind), key.To); err != nil {
			return err
		}
	}
	for _, id := range m.DeleteNodes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE from_id = ? OR to_id = ?", id, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id); err != nil {
			return err
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, kind, changed, props) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			changed=MAX(changed, excluded.changed),
			props=excluded.props
	`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()

	for _, n := range m.UpsertNodes {
		props, err := json.Marshal(n.Props)
		if err != nil {
			return fmt.Errorf("node %s: marshal props: %w", n.ID, err)
		}
		if _, err := nodeStmt.ExecContext(ctx, n.ID, string(n.Kind), n.Changed, props); err != nil {
			return err
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (from_id, kind, to_id, props) VALUES (?, ?, ?, ?)
		ON CONFLICT(from_id, kind, to_id) DO UPDATE SET props=excluded.props
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, e := range m.UpsertEdges {
		props, err := json.Marshal(e.Props)
		if err != nil {
			return fmt.Errorf("edge %s-%s->%s: marshal props: %w", e.From, e.Kind, e.To, err)
		}
		if _, err := edgeStmt.ExecContext(ctx, e.From, string(e.Kind), e.To, props); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) SetChanged(ctx context.Context, ids []string, changed bool) error {
	if len(ids) == 0 {
		return nil
	}
	before := s.mem.Checkpoint()
	if err := s.mem.SetChanged(ctx, ids, changed); err != nil {
		return err
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, changed)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET changed = ? WHERE id IN ("+placeholders+")", args...); err != nil {
		s.mem.Restore(before)
		return err
	}
	return nil
}

func (s *SQLiteStore) ClearChanged(ctx context.Context) error {
	before := s.mem.Checkpoint()
	if err := s.mem.ClearChanged(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE nodes SET changed = 0"); err != nil {
		s.mem.Restore(before)
		return err
	}
	return nil
}

func (s *SQLiteStore) View(ctx context.Context) (graph.Reader, error) {
	return s.mem.View(ctx)
}

// Reader delegation: the memory store always mirrors disk.

func (s *SQLiteStore) Node(ctx context.Context, id string) (*graph.Node, bool, error) {
	return s.mem.Node(ctx, id)
}

func (s *SQLiteStore) Nodes(ctx context.Context) ([]*graph.Node, error) {
	return s.mem.Nodes(ctx)
}

func (s *SQLiteStore) NodesByKind(ctx context.Context, kind graph.NodeKind) ([]*graph.Node, error) {
	return s.mem.NodesByKind(ctx, kind)
}

func (s *SQLiteStore) NodesByName(ctx context.Context, name string) ([]*graph.Node, error) {
	return s.mem.NodesByName(ctx, name)
}

func (s *SQLiteStore) Edges(ctx context.Context) ([]*graph.Edge, error) {
	return s.mem.Edges(ctx)
}

func (s *SQLiteStore) EdgesFrom(ctx context.Context, id string, kinds ...graph.EdgeKind) ([]*graph.Edge, error) {
	return s.mem.EdgesFrom(ctx, id, kinds...)
}

func (s *SQLiteStore) EdgesTo(ctx context.Context, id string, kinds ...graph.EdgeKind) ([]*graph.Edge, error) {
	return s.mem.EdgesTo(ctx, id, kinds...)
}

func (s *SQLiteStore) EdgesByKind(ctx context.Context, kind graph.EdgeKind) ([]*graph.Edge, error) {
	return s.mem.EdgesByKind(ctx, kind)
}

func (s *SQLiteStore) ChangedIDs(ctx context.Context) ([]string, error) {
	return s.mem.ChangedIDs(ctx)
}

// --- snapshot.Repository implementation ---

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	nodes, err := json.Marshal(snap.Nodes)
	if err != nil {
		return err
	}
	edges, err := json.Marshal(snap.Edges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, label, created_at, nodes, edges) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, snap.ID, snap.Label, snap.CreatedAt, nodes, edges)
	return err
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]*snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, label, created_at, nodes, edges FROM snapshots ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, label, created_at, nodes, edges FROM snapshots WHERE id = ?", id)
	snap, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, snapshot.ErrSnapshotNotFound
	}
	return snap, err
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return snapshot.ErrSnapshotNotFound
	}
	return nil
}

func scanSnapshot(scan func(dest ...any) error) (*snapshot.Snapshot, error) {
	var (
		snap         snapshot.Snapshot
		nodes, edges []byte
	)
	if err := scan(&snap.ID, &snap.Label, &snap.CreatedAt, &nodes, &edges); err != nil {
		return nil, err
	}
	if len(nodes) > 0 {
		if err := json.Unmarshal(nodes, &snap.Nodes); err != nil {
			return nil, fmt.Errorf("snapshot %s: bad nodes: %w", snap.ID, err)
		}
	}
	if len(edges) > 0 {
		if err := json.Unmarshal(edges, &snap.Edges); err != nil {
			return nil, fmt.Errorf("snapshot %s: bad edges: %w", snap.ID, err)
		}
	}
	for _, n := range snap.Nodes {
		n.Props = normalizeProps(n.Props)
	}
	for _, e := range snap.Edges {
		e.Props = normalizeProps(e.Props)
	}
	return &snap, nil
}

package graphstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// flushDebounce is how long the auto-flush timer waits after the last
// write before forcing a durable checkpoint, per spec.md §4.6.
const flushDebounce = 250 * time.Millisecond

// Store is the persistent, version-namespaced module/edge database.
type Store struct {
	db      *sql.DB
	version string

	mu sync.Mutex

	flushMu    sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// Init opens the persistent store under <path>/v<version>/graph.db.
// Different versions never share a database file.
func Init(root, version string) (*Store, error) {
	dir := filepath.Join(root, "v"+version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("graphstore: creating %q: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "graph.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("graphstore: opening %q: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range strings.Split(pragmasSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("graphstore: applying pragma %q: %w", stmt, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("graphstore: applying schema: %w", err)
	}

	return &Store{db: db, version: version}, nil
}

// Close releases the underlying database handle after flushing.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.flushMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushMu.Unlock()

	s.checkpoint()
	return s.db.Close()
}

// Record upserts a module node and its dependency edges atomically,
// updating the reverse index in the same unit, and reports whether the
// node is new or its hash/deps changed.
func (s *Store) Record(id, contentHash string, staticDeps, dynamicDeps []string, kind Kind) (bool, error) {
	staticDeps = dedupOrdered(staticDeps)
	dynamicDeps = dedupOrdered(dynamicDeps)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("graphstore: begin: %w", err)
	}
	defer tx.Rollback()

	prevHash, prevKind, prevExists, err := s.getNodeRowTx(tx, id)
	if err != nil {
		return false, err
	}

	prevStatic, err := s.getDepsTx(tx, "static_deps", id)
	if err != nil {
		return false, err
	}
	prevDynamic, err := s.getDepsTx(tx, "dynamic_deps", id)
	if err != nil {
		return false, err
	}

	changed := !prevExists || prevHash != contentHash || prevKind != string(kind) ||
		!stringSliceEqual(prevStatic, staticDeps) || !stringSliceEqual(prevDynamic, dynamicDeps)

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(
		`INSERT INTO modules (id, content_hash, kind, config_hash, mtime_ms) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content_hash=excluded.content_hash, kind=excluded.kind,
		   config_hash=excluded.config_hash, mtime_ms=excluded.mtime_ms`,
		id, contentHash, string(kind), s.version, now,
	); err != nil {
		return false, fmt.Errorf("graphstore: upserting node: %w", err)
	}

	if err := s.replaceDepsTx(tx, "static_deps", id, staticDeps); err != nil {
		return false, err
	}
	if err := s.replaceDepsTx(tx, "dynamic_deps", id, dynamicDeps); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("graphstore: commit: %w", err)
	}

	s.scheduleFlush()
	return changed, nil
}

// Get returns the node for id, or nil if it doesn't exist, or if its
// config_hash disagrees with the store's current version -- a stale
// node is always treated as missing, never as "present but stale"
// (spec.md §9 open question, resolved uniformly).
func (s *Store) Get(id string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contentHash, kind, configHash sql.NullString
	var mtime sql.NullInt64
	err := s.db.QueryRow(
		`SELECT content_hash, kind, config_hash, mtime_ms FROM modules WHERE id = ?`, id,
	).Scan(&contentHash, &kind, &configHash, &mtime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graphstore: get %q: %w", id, err)
	}

	if configHash.String != s.version {
		return nil, nil
	}

	staticDeps, err := s.getDeps("static_deps", id)
	if err != nil {
		return nil, err
	}
	dynamicDeps, err := s.getDeps("dynamic_deps", id)
	if err != nil {
		return nil, err
	}

	return &Node{
		ID:          id,
		ContentHash: contentHash.String,
		Kind:        Kind(kind.String),
		StaticDeps:  staticDeps,
		DynamicDeps: dynamicDeps,
		ConfigHash:  configHash.String,
		MtimeMs:     mtime.Int64,
	}, nil
}

// Deps returns id's static dependency ids, in insertion order.
func (s *Store) Deps(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDeps("static_deps", id)
}

// Dependents returns the reverse index: every id that has the given id
// as a static or dynamic dependency. This is an indexed lookup, never a
// full table scan.
func (s *Store) Dependents(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dependentsLocked(id)
}

func (s *Store) dependentsLocked(id string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, table := range []string{"static_deps", "dynamic_deps"} {
		rows, err := s.db.Query(fmt.Sprintf(`SELECT src FROM %s WHERE dst = ? ORDER BY rowid`, table), id)
		if err != nil {
			return nil, fmt.Errorf("graphstore: dependents %q: %w", id, err)
		}
		for rows.Next() {
			var src string
			if err := rows.Scan(&src); err != nil {
				rows.Close()
				return nil, err
			}
			if _, ok := seen[src]; !ok {
				seen[src] = struct{}{}
				out = append(out, src)
			}
		}
		rows.Close()
	}
	return out, nil
}

// Remove deletes id's node and prunes id from every other node's
// dependency sets, using the reverse index to find dependents in O(k).
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("graphstore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM modules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("graphstore: deleting node: %w", err)
	}
	// id's own outgoing edges are gone along with it.
	if _, err := tx.Exec(`DELETE FROM static_deps WHERE src = ?`, id); err != nil {
		return fmt.Errorf("graphstore: deleting outgoing static edges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM dynamic_deps WHERE src = ?`, id); err != nil {
		return fmt.Errorf("graphstore: deleting outgoing dynamic edges: %w", err)
	}
	// Prune id from every dependent's dep set (reverse-index lookup).
	if _, err := tx.Exec(`DELETE FROM static_deps WHERE dst = ?`, id); err != nil {
		return fmt.Errorf("graphstore: pruning incoming static edges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM dynamic_deps WHERE dst = ?`, id); err != nil {
		return fmt.Errorf("graphstore: pruning incoming dynamic edges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graphstore: commit: %w", err)
	}
	s.scheduleFlush()
	return nil
}

// CollectAffected performs a BFS over the reverse index starting from
// seeds, returning seeds first (in the given order) followed by
// discovered dependents in BFS order. Cyclic graphs are handled by a
// visited set; a node already queued is never requeued.
func (s *Store) CollectAffected(seeds []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visited := make(map[string]struct{}, len(seeds))
	order := make([]string, 0, len(seeds))
	queue := make([]string, 0, len(seeds))

	for _, seed := range seeds {
		if _, ok := visited[seed]; ok {
			continue
		}
		visited[seed] = struct{}{}
		order = append(order, seed)
		queue = append(queue, seed)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		dependents, err := s.dependentsLocked(cur)
		if err != nil {
			return nil, err
		}
		for _, d := range dependents {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			order = append(order, d)
			queue = append(queue, d)
		}
	}

	return order, nil
}

// Snapshot returns every node currently in the store, ordered by id, for
// analysis or fallback emitters.
func (s *Store) Snapshot() ([]*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id FROM modules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("graphstore: snapshot: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		var contentHash, kind, configHash sql.NullString
		var mtime sql.NullInt64
		if err := s.db.QueryRow(
			`SELECT content_hash, kind, config_hash, mtime_ms FROM modules WHERE id = ?`, id,
		).Scan(&contentHash, &kind, &configHash, &mtime); err != nil {
			return nil, err
		}
		staticDeps, err := s.getDeps("static_deps", id)
		if err != nil {
			return nil, err
		}
		dynamicDeps, err := s.getDeps("dynamic_deps", id)
		if err != nil {
			return nil, err
		}
		out = append(out, &Node{
			ID:          id,
			ContentHash: contentHash.String,
			Kind:        Kind(kind.String),
			StaticDeps:  staticDeps,
			DynamicDeps: dynamicDeps,
			ConfigHash:  configHash.String,
			MtimeMs:     mtime.Int64,
		})
	}
	return out, nil
}

// Flush forces a durable commit of all prior writes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint()
}

func (s *Store) checkpoint() error {
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("graphstore: checkpoint: %w", err)
	}
	return nil
}

// scheduleFlush (re)starts the auto-flush timer so a durable checkpoint
// happens flushDebounce after the last write, even if the caller never
// calls Flush explicitly.
func (s *Store) scheduleFlush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(flushDebounce, func() {
		_ = s.Flush()
	})
}

func (s *Store) getNodeRowTx(tx *sql.Tx, id string) (hash, kind string, exists bool, err error) {
	var h, k sql.NullString
	err = tx.QueryRow(`SELECT content_hash, kind FROM modules WHERE id = ?`, id).Scan(&h, &k)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("graphstore: reading node %q: %w", id, err)
	}
	return h.String, k.String, true, nil
}

func (s *Store) getDepsTx(tx *sql.Tx, table, id string) ([]string, error) {
	rows, err := tx.Query(fmt.Sprintf(`SELECT dst FROM %s WHERE src = ? ORDER BY ord`, table), id)
	if err != nil {
		return nil, fmt.Errorf("graphstore: reading %s for %q: %w", table, id, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var dst string
		if err := rows.Scan(&dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func (s *Store) getDeps(table, id string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT dst FROM %s WHERE src = ? ORDER BY ord`, table), id)
	if err != nil {
		return nil, fmt.Errorf("graphstore: reading %s for %q: %w", table, id, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var dst string
		if err := rows.Scan(&dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func (s *Store) replaceDepsTx(tx *sql.Tx, table, id string, deps []string) error {
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE src = ?`, table), id); err != nil {
		return fmt.Errorf("graphstore: clearing %s for %q: %w", table, id, err)
	}
	for i, dst := range deps {
		if _, err := tx.Exec(
			fmt.Sprintf(`INSERT INTO %s (src, dst, ord) VALUES (?, ?, ?)`, table),
			id, dst, i,
		); err != nil {
			return fmt.Errorf("graphstore: inserting %s edge %q->%q: %w", table, id, dst, err)
		}
	}
	return nil
}

func dedupOrdered(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func stringSliceEqual(a, b []string) bool {
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

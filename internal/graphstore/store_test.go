package graphstore

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Init(t.TempDir(), "v1")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordIdempotentSecondCallNotChanged(t *testing.T) {
	s := openTestStore(t)

	changed, err := s.Record("A", "h1", []string{"B"}, nil, KindJS)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !changed {
		t.Fatalf("expected first record to report changed")
	}

	changed, err = s.Record("A", "h1", []string{"B"}, nil, KindJS)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if changed {
		t.Fatalf("expected identical second record to report unchanged")
	}
}

func TestRemovePrunesReverseIndex(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record("A", "h1", []string{"B"}, nil, KindJS); err != nil {
		t.Fatalf("record A: %v", err)
	}
	if _, err := s.Record("B", "h2", []string{"C"}, nil, KindJS); err != nil {
		t.Fatalf("record B: %v", err)
	}
	if _, err := s.Record("C", "h3", nil, nil, KindJS); err != nil {
		t.Fatalf("record C: %v", err)
	}

	if err := s.Remove("B"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	deps, err := s.Deps("A")
	if err != nil {
		t.Fatalf("Deps(A): %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected A to have no deps after B removed, got %v", deps)
	}

	dependents, err := s.Dependents("C")
	if err != nil {
		t.Fatalf("Dependents(C): %v", err)
	}
	if len(dependents) != 0 {
		t.Fatalf("expected C to have no dependents after B removed, got %v", dependents)
	}

	node, err := s.Get("B")
	if err != nil {
		t.Fatalf("Get(B): %v", err)
	}
	if node != nil {
		t.Fatalf("expected B to be gone, got %+v", node)
	}
}

func TestCollectAffectedSeedsFirstThenBFSOrder(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record("A", "h1", []string{"B"}, nil, KindJS); err != nil {
		t.Fatalf("record A: %v", err)
	}
	if _, err := s.Record("B", "h2", nil, nil, KindJS); err != nil {
		t.Fatalf("record B: %v", err)
	}

	affected, err := s.CollectAffected([]string{"B"})
	if err != nil {
		t.Fatalf("CollectAffected: %v", err)
	}
	if len(affected) != 2 || affected[0] != "B" || affected[1] != "A" {
		t.Fatalf("expected [B, A], got %v", affected)
	}
}

func TestCollectAffectedHandlesCycles(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record("A", "h1", []string{"B"}, nil, KindJS); err != nil {
		t.Fatalf("record A: %v", err)
	}
	if _, err := s.Record("B", "h2", []string{"A"}, nil, KindJS); err != nil {
		t.Fatalf("record B: %v", err)
	}

	affected, err := s.CollectAffected([]string{"A"})
	if err != nil {
		t.Fatalf("CollectAffected: %v", err)
	}
	if len(affected) != 2 {
		t.Fatalf("expected cyclic graph to terminate with 2 nodes, got %v", affected)
	}
}

func TestGetTreatsStaleVersionAsMissing(t *testing.T) {
	dir := t.TempDir()

	s1, err := Init(dir, "v1")
	if err != nil {
		t.Fatalf("Init v1: %v", err)
	}
	if _, err := s1.Record("A", "h1", nil, nil, KindJS); err != nil {
		t.Fatalf("record: %v", err)
	}
	s1.Close()

	// Re-opening under the same root but a different version namespace
	// must never see the v1 node (different database file entirely).
	s2, err := Init(dir, "v2")
	if err != nil {
		t.Fatalf("Init v2: %v", err)
	}
	defer s2.Close()

	node, err := s2.Get("A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node != nil {
		t.Fatalf("expected v2 store to have no knowledge of v1 node")
	}
}

func TestDependentsIsReverseIndexConsistent(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record("A", "h1", []string{"B", "C"}, nil, KindJS); err != nil {
		t.Fatalf("record A: %v", err)
	}
	if _, err := s.Record("D", "h2", nil, []string{"C"}, KindJS); err != nil {
		t.Fatalf("record D: %v", err)
	}

	dependents, err := s.Dependents("C")
	if err != nil {
		t.Fatalf("Dependents(C): %v", err)
	}
	if len(dependents) != 2 {
		t.Fatalf("expected 2 dependents of C, got %v", dependents)
	}
}

func TestCollectGarbageFindsUnreachable(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record("entry", "h1", []string{"used"}, nil, KindJS); err != nil {
		t.Fatalf("record entry: %v", err)
	}
	if _, err := s.Record("used", "h2", nil, nil, KindJS); err != nil {
		t.Fatalf("record used: %v", err)
	}
	if _, err := s.Record("orphan", "h3", nil, nil, KindJS); err != nil {
		t.Fatalf("record orphan: %v", err)
	}

	plan, err := s.CollectGarbage([]string{"entry"})
	if err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}
	if len(plan.Unreachable) != 1 || plan.Unreachable[0] != "orphan" {
		t.Fatalf("expected only orphan to be unreachable, got %v", plan.Unreachable)
	}
}

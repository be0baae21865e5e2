package graphstore

import "fmt"

// GCPlan describes the modules that CollectGarbage would remove.
type GCPlan struct {
	Unreachable []string
}

// CollectGarbage finds nodes unreachable from entryPoints by BFS over
// forward edges (mark) and reports every node that was never marked
// (sweep candidates). It never mutates the store; callers decide
// whether to Remove the reported ids. This supplements spec.md's CAS
// garbage collection (whole-version directory deletion) with live-graph
// pruning for long-running dev servers, modeled on the mark-and-sweep
// shape of a build-a-reachability-set-then-diff-against-all-nodes GC.
func (s *Store) CollectGarbage(entryPoints []string) (*GCPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := make(map[string]struct{}, len(entryPoints))
	queue := make([]string, 0, len(entryPoints))
	for _, e := range entryPoints {
		if _, ok := marked[e]; ok {
			continue
		}
		marked[e] = struct{}{}
		queue = append(queue, e)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, table := range []string{"static_deps", "dynamic_deps"} {
			deps, err := s.getDeps(table, cur)
			if err != nil {
				return nil, fmt.Errorf("graphstore: gc mark from %q: %w", cur, err)
			}
			for _, d := range deps {
				if _, ok := marked[d]; ok {
					continue
				}
				marked[d] = struct{}{}
				queue = append(queue, d)
			}
		}
	}

	rows, err := s.db.Query(`SELECT id FROM modules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("graphstore: gc sweep: %w", err)
	}
	defer rows.Close()

	plan := &GCPlan{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if _, ok := marked[id]; !ok {
			plan.Unreachable = append(plan.Unreachable, id)
		}
	}
	return plan, nil
}

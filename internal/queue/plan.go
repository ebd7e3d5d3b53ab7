package queue

import (
	"sort"

	"gownqueue/pkg/domain"
)

// EntityBatch is the ordered replay work for one entity.
type EntityBatch struct {
	EntityID   string
	Operations []domain.Operation // oldest first
}

// Plan is the replay work derived from the current queue.
type Plan struct {
	Batches []EntityBatch
	// Blocked lists entities whose pending operations wait behind an errored one.
	Blocked []string
}

// ReplayPlan groups pending operations by entity in enqueue order. Entities
// holding an errored operation are reported as blocked and carry no batch, so
// later operations never apply before the failed one is resolved.
func (q *Queue) ReplayPlan() Plan {
	q.mu.Lock()
	defer q.mu.Unlock()

	errored := make(map[string]bool)
	for _, op := range q.ops {
		if op.State == domain.StateErrored {
			errored[op.EntityID] = true
		}
	}
	index := make(map[string]int)
	var plan Plan
	blocked := make(map[string]bool)
	for _, op := range q.ops {
		if op.State != domain.StatePending {
			continue
		}
		if errored[op.EntityID] {
			blocked[op.EntityID] = true
			continue
		}
		i, ok := index[op.EntityID]
		if !ok {
			i = len(plan.Batches)
			index[op.EntityID] = i
			plan.Batches = append(plan.Batches, EntityBatch{EntityID: op.EntityID})
		}
		plan.Batches[i].Operations = append(plan.Batches[i].Operations, op.Clone())
	}
	for id := range blocked {
		plan.Blocked = append(plan.Blocked, id)
	}
	sort.Strings(plan.Blocked)
	return plan
}

// Stats summarises queue contents by state.
type Stats struct {
	Pending  int `json:"pending"`
	Applying int `json:"applying"`
	Errored  int `json:"errored"`
	Entities int `json:"entities"`
}

// Stats returns counts of queued operations.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	entities := make(map[string]struct{})
	for _, op := range q.ops {
		entities[op.EntityID] = struct{}{}
		switch op.State {
		case domain.StatePending:
			s.Pending++
		case domain.StateApplying:
			s.Applying++
		case domain.StateErrored:
			s.Errored++
		}
	}
	s.Entities = len(entities)
	return s
}

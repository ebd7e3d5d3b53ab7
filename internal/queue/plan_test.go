package queue

import (
	"context"
	"testing"

	memstore "gownqueue/internal/infra/persistence/memory"
	"gownqueue/pkg/domain"
)

func TestReplayPlanGroupsByEntityInOrder(t *testing.T) {
	q := openQueue(t, memstore.NewStore())
	a1 := mustEnqueue(t, q, "A", domain.OpCheckOutGown)
	b1 := mustEnqueue(t, q, "B", domain.OpCheckInGown)
	a2 := mustEnqueue(t, q, "A", domain.OpUndoCheckOut)

	plan := q.ReplayPlan()
	if len(plan.Batches) != 2 || len(plan.Blocked) != 0 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Batches[0].EntityID != "A" || plan.Batches[1].EntityID != "B" {
		t.Fatalf("batches not in first-seen order: %+v", plan.Batches)
	}
	a := plan.Batches[0].Operations
	if len(a) != 2 || a[0].ID != a1 || a[1].ID != a2 {
		t.Fatalf("entity A not oldest first: %+v", a)
	}
	if plan.Batches[1].Operations[0].ID != b1 {
		t.Fatalf("entity B batch wrong: %+v", plan.Batches[1])
	}
}

func TestReplayPlanBlocksEntitiesWithErrors(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, memstore.NewStore())
	failed := mustEnqueue(t, q, "A", domain.OpCheckOutGown)
	mustEnqueue(t, q, "A", domain.OpUndoCheckOut)
	mustEnqueue(t, q, "B", domain.OpCheckInGown)
	applying := mustEnqueue(t, q, "C", domain.OpCheckInGown)
	if err := q.MarkErrored(ctx, failed, "boom"); err != nil {
		t.Fatalf("mark errored: %v", err)
	}
	if _, err := q.MarkApplying(ctx, applying); err != nil {
		t.Fatalf("mark applying: %v", err)
	}

	plan := q.ReplayPlan()
	if len(plan.Blocked) != 1 || plan.Blocked[0] != "A" {
		t.Fatalf("want A blocked, got %v", plan.Blocked)
	}
	if len(plan.Batches) != 1 || plan.Batches[0].EntityID != "B" {
		t.Fatalf("only B should replay: %+v", plan.Batches)
	}

	stats := q.Stats()
	want := Stats{Pending: 2, Applying: 1, Errored: 1, Entities: 3}
	if stats != want {
		t.Fatalf("stats: want %+v, got %+v", want, stats)
	}
}

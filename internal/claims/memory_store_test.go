package claims

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", Claimant: "0xaaa", Status: StatusPending, MaxRetries: 3},
		{ID: "j2", Claimant: "0xbbb", Status: StatusPending, MaxRetries: 3},
		{ID: "j3", Claimant: "0xaaa", Status: StatusPending, MaxRetries: 3},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", "0xleaf"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %+v", all)
	}

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed, "bogus")))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	mine, err := store.List(ctx, BuildListOptions(WithClaimant("0xAAA"), WithSortOrder(SortByUpdatedAsc)))
	if err != nil {
		t.Fatalf("list by claimant: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != "j1" {
		t.Fatalf("unexpected claimant list: %+v", mine)
	}

	recent, err := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(15*time.Second))))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs after since filter, got %d", len(recent))
	}

	page, err := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "j2" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestMemoryStoreStatsAndClaimTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j1", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j1", Status: StatusPending, MaxRetries: 1}); err != ErrJobConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	job, err := store.Claim(ctx, "j1")
	if err != nil || job.Attempts != 1 || job.Status != StatusRunning {
		t.Fatalf("unexpected claim result %+v err %v", job, err)
	}
	if _, err := store.Claim(ctx, "j1"); err != ErrJobConflict {
		t.Fatalf("expected running conflict, got %v", err)
	}
	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); err != ErrJobExhausted {
		t.Fatalf("expected exhausted, got %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Failed != 1 || stats.NewestUpdatedAt == 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuildFilterClause(t *testing.T) {
	opts := BuildListOptions(WithStatuses(StatusPending, StatusFailed), WithClaimant("0xABC"))
	clause, args := buildFilterClause(opts)
	if clause != "status IN (?,?) AND claimant = ?" {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 3 || args[2] != "0xabc" {
		t.Fatalf("unexpected args %v", args)
	}
	if clause, args := buildFilterClause(BuildListOptions()); clause != "" || args != nil {
		t.Fatalf("expected empty clause, got %q %v", clause, args)
	}
}

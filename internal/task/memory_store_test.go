package task

import (
	"context"
	"testing"
	"time"
)

func newClockedStore(start time.Time) (*MemoryStore, *time.Time) {
	store := NewMemoryStore()
	now := start
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	base := time.Unix(1700000000, 0)
	store, clock := newClockedStore(base)
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		*clock = base.Add(time.Duration(i) * 30 * time.Second)
		if err := store.Create(ctx, &Task{ID: id, MarketID: "m-" + id, Evidence: "e", Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create task %s: %v", id, err)
		}
	}

	*clock = base.Add(90 * time.Second)
	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	*clock = base.Add(120 * time.Second)
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{Outcome: "YES", EvidenceHash: "0xabc"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" || all[2].ID != "t1" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	asc, _ := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2)}))
	if len(asc) != 2 || asc[0].ID != "t1" || asc[1].ID != "t2" {
		t.Fatalf("unexpected ascending order: %v", ids(asc))
	}

	paged, _ := store.List(ctx, buildListOptions([]ListOption{WithOffset(2)}))
	if len(paged) != 1 || paged[0].ID != "t1" {
		t.Fatalf("unexpected page: %v", ids(paged))
	}

	failed, _ := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %v", ids(failed))
	}

	withResult, _ := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if len(withResult) != 1 || withResult[0].ID != "t3" {
		t.Fatalf("unexpected result list: %v", ids(withResult))
	}

	recent, _ := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(60 * time.Second))}))
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks updated since, got %v", ids(recent))
	}

	byHash, _ := store.List(ctx, buildListOptions([]ListOption{WithQuery("0xabc")}))
	if len(byHash) != 1 || byHash[0].ID != "t3" {
		t.Fatalf("unexpected query result: %v", ids(byHash))
	}

	market, _ := store.List(ctx, buildListOptions([]ListOption{WithMarket("m-t2")}))
	if len(market) != 1 || market[0].ID != "t2" {
		t.Fatalf("unexpected market result: %v", ids(market))
	}
	yes, _ := store.List(ctx, buildListOptions([]ListOption{WithOutcome("yes")}))
	no, _ := store.List(ctx, buildListOptions([]ListOption{WithOutcome("NO")}))
	if len(yes) != 1 || yes[0].ID != "t3" || len(no) != 0 {
		t.Fatalf("unexpected outcome filter: yes=%v no=%v", ids(yes), ids(no))
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store, _ := newClockedStore(time.Unix(1700000000, 0))
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "x", Evidence: "e", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "x", Evidence: "e"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "x")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict for running task, got %v", err)
	}

	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "retry me", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if claimed, err = store.Claim(ctx, "x"); err != nil || claimed.Attempts != 2 {
		t.Fatalf("expected second claim, got %+v %v", claimed, err)
	}
	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "again", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureStopsRetries(t *testing.T) {
	store, _ := newClockedStore(time.Unix(1700000000, 0))
	ctx := context.Background()
	_ = store.Create(ctx, &Task{ID: "y", Evidence: "e", Status: StatusPending, MaxRetries: 5})
	if _, err := store.Claim(ctx, "y"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "y", "JUDGE_WEAK_SALT", "salt too short", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	task, _ := store.Get(ctx, "y")
	if task.MaxRetries != 1 || task.ErrorCode != "JUDGE_WEAK_SALT" {
		t.Fatalf("unexpected task after terminal failure: %+v", task)
	}
	if _, err := store.Claim(ctx, "y"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	base := time.Unix(1700000000, 0)
	store, clock := newClockedStore(base)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		*clock = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, &Task{ID: id, Evidence: "e", Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create task %s: %v", id, err)
		}
	}
	*clock = base.Add(3 * time.Minute)
	_ = store.MarkFailed(ctx, "a", CodeTaskProcessing, "boom", true)
	*clock = base.Add(4 * time.Minute)
	_ = store.MarkSucceeded(ctx, "b", ExecutionResult{Outcome: "NO"})

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 || stats.NoOutcomes != 1 || stats.YesOutcomes != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Add(2*time.Minute).Unix() || stats.NewestUpdatedAt != base.Add(4*time.Minute).Unix() {
		t.Fatalf("unexpected range: %+v", stats)
	}

	withoutResults, _ := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
	if withoutResults.Total != 2 || withoutResults.Succeeded != 0 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	empty, _ := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusRunning)}))
	if empty.Total != 0 || empty.OldestUpdatedAt != 0 {
		t.Fatalf("expected empty stats, got %+v", empty)
	}
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

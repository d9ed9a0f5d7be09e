package surrealdb

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueStore_EnqueueAndPending(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	if err := store.Enqueue(ctx, "job1", []string{"aapl", " msft "}, 5, 3); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := store.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(items))
	}
	for _, item := range items {
		if item.TickerSymbol != "AAPL" && item.TickerSymbol != "MSFT" {
			t.Errorf("symbols should be normalized, got %q", item.TickerSymbol)
		}
		if item.JobID != "job1" || item.Priority != 5 {
			t.Errorf("unexpected item: %+v", item)
		}
		if item.MaxRetries != 3 {
			t.Errorf("expected max_retries 3, got %d", item.MaxRetries)
		}
	}

	// Empty batch is a no-op
	if err := store.Enqueue(ctx, "job2", nil, 5, 3); err != nil {
		t.Errorf("empty enqueue should succeed: %v", err)
	}
}

func TestQueueStore_EnqueueRetryCeiling(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	if err := store.Enqueue(ctx, "job1", []string{"AAPL"}, 5, 5); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Non-positive ceilings fall back to the default of 3.
	if err := store.Enqueue(ctx, "job2", []string{"MSFT"}, 5, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := store.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(items))
	}
	for _, item := range items {
		switch item.JobID {
		case "job1":
			if item.MaxRetries != 5 {
				t.Errorf("expected configured ceiling 5, got %d", item.MaxRetries)
			}
		case "job2":
			if item.MaxRetries != 3 {
				t.Errorf("expected fallback ceiling 3, got %d", item.MaxRetries)
			}
		default:
			t.Errorf("unexpected item: %+v", item)
		}
	}
}

func TestQueueStore_PendingOrder(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "low", []string{"AAA"}, 1, 3)
	store.Enqueue(ctx, "high", []string{"BBB"}, 9, 3)

	items, err := store.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].TickerSymbol != "BBB" {
		t.Errorf("higher priority should come first, got %s", items[0].TickerSymbol)
	}
}

func TestQueueStore_LeaseClaims(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL", "MSFT", "GOOG"}, 5, 3)

	claimed, err := store.Lease(ctx, 2, "worker-a", 5*time.Minute)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed items, got %d", len(claimed))
	}
	for _, item := range claimed {
		if item.LockedBy != "worker-a" || item.LockedAt.IsZero() {
			t.Errorf("claimed item should carry the lock: %+v", item)
		}
	}

	// A second worker only sees what is left
	rest, err := store.Lease(ctx, 10, "worker-b", 5*time.Minute)
	if err != nil {
		t.Fatalf("second Lease failed: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("expected 1 remaining item, got %d", len(rest))
	}

	locked, err := store.CountLockedByJob(ctx, "job1")
	if err != nil {
		t.Fatalf("CountLockedByJob failed: %v", err)
	}
	if locked != 3 {
		t.Errorf("expected 3 locked items, got %d", locked)
	}
}

func TestQueueStore_LeaseExpiryReclaim(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL"}, 5, 3)

	first, err := store.Lease(ctx, 1, "worker-a", 50*time.Millisecond)
	if err != nil || len(first) != 1 {
		t.Fatalf("initial lease failed: %v (%d items)", err, len(first))
	}

	// Lock still live: nothing to claim
	if again, _ := store.Lease(ctx, 1, "worker-b", 50*time.Millisecond); len(again) != 0 {
		t.Fatal("live lock should block a second claim")
	}

	time.Sleep(80 * time.Millisecond)

	reclaimed, err := store.Lease(ctx, 1, "worker-b", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("reclaim lease failed: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].LockedBy != "worker-b" {
		t.Errorf("expired lock should be reclaimable, got %+v", reclaimed)
	}
}

func TestQueueStore_Complete(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL"}, 5, 3)
	claimed, _ := store.Lease(ctx, 1, "worker-a", 5*time.Minute)
	if len(claimed) != 1 {
		t.Fatal("expected 1 claimed item")
	}

	if err := store.Complete(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	count, err := store.CountByJob(ctx, "job1")
	if err != nil {
		t.Fatalf("CountByJob failed: %v", err)
	}
	if count != 0 {
		t.Errorf("completed item should leave the queue, count=%d", count)
	}
}

func TestQueueStore_FailReschedulesWithBackoff(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL"}, 5, 3)
	claimed, _ := store.Lease(ctx, 1, "worker-a", 5*time.Minute)
	if len(claimed) != 1 {
		t.Fatal("expected 1 claimed item")
	}

	if err := store.Fail(ctx, claimed[0], errors.New("upstream 500")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	// Rescheduled into the future, so nothing is due yet
	due, err := store.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("failed item should not be due before its backoff, got %d", len(due))
	}

	// But it is still in the queue
	count, _ := store.CountByJob(ctx, "job1")
	if count != 1 {
		t.Errorf("failed item should stay queued for retry, count=%d", count)
	}
}

func TestQueueStore_FailExhaustsRetries(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL"}, 5, 3)
	claimed, _ := store.Lease(ctx, 1, "worker-a", 5*time.Minute)
	if len(claimed) != 1 {
		t.Fatal("expected 1 claimed item")
	}

	item := claimed[0]
	item.RetryCount = item.MaxRetries
	if err := store.Fail(ctx, item, errors.New("still broken")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	count, _ := store.CountByJob(ctx, "job1")
	if count != 0 {
		t.Errorf("exhausted item should be removed, count=%d", count)
	}
}

func TestQueueStore_Release(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL"}, 5, 3)
	claimed, _ := store.Lease(ctx, 1, "worker-a", 5*time.Minute)
	if len(claimed) != 1 {
		t.Fatal("expected 1 claimed item")
	}

	if err := store.Release(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Immediately visible again
	again, err := store.Lease(ctx, 1, "worker-b", 5*time.Minute)
	if err != nil {
		t.Fatalf("lease after release failed: %v", err)
	}
	if len(again) != 1 {
		t.Errorf("released item should be claimable, got %d", len(again))
	}
}

func TestQueueStore_DeleteByJob(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, "job1", []string{"AAPL", "MSFT"}, 5, 3)
	store.Enqueue(ctx, "job2", []string{"GOOG"}, 5, 3)

	deleted, err := store.DeleteByJob(ctx, "job1")
	if err != nil {
		t.Fatalf("DeleteByJob failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted items, got %d", deleted)
	}

	if count, _ := store.CountByJob(ctx, "job2"); count != 1 {
		t.Errorf("other job's items should survive, count=%d", count)
	}
}

package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"family-alert-go/internal/store"
)

func TestCreateGetUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Create(ctx, "users", "u1", store.Fields{"name": "Ann", "age": 3}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.Create(ctx, "users", "u1", store.Fields{"name": "Bob"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.Update(ctx, "users", "missing", store.Fields{"name": "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, "users", "u1", store.Fields{"age": 4}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	doc, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if doc.Fields.String("name") != "Ann" || doc.Fields.Int64("age") != 4 {
		t.Fatalf("unexpected fields %+v", doc.Fields)
	}
	if doc.Fields.Time(store.FieldUpdatedAt).IsZero() {
		t.Fatalf("expected updatedAt stamp")
	}
}

func TestSetMergeAndReplace(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Set(ctx, "c", "1", store.Fields{"a": "x", "b": "y"})
	_ = s.Set(ctx, "c", "1", store.Fields{"b": "z"}, store.MergeAll)
	doc, _ := s.Get(ctx, "c", "1")
	if doc.Fields.String("a") != "x" || doc.Fields.String("b") != "z" {
		t.Fatalf("expected merged fields, got %+v", doc.Fields)
	}

	_ = s.Set(ctx, "c", "1", store.Fields{"b": "w"})
	doc, _ = s.Get(ctx, "c", "1")
	if doc.Fields.Has("a") {
		t.Fatalf("expected replace to drop a, got %+v", doc.Fields)
	}
}

func TestQueryFiltersAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Set(ctx, "alerts", "a", store.Fields{"userId": "u1", "status": "active", "stoppedAt": nil})
	_ = s.Set(ctx, "alerts", "b", store.Fields{"userId": "u1", "status": "stopped", "stoppedAt": 200})
	_ = s.Set(ctx, "alerts", "c", store.Fields{"userId": "u2", "status": "stopped", "stoppedAt": 100})
	_ = s.Set(ctx, "alerts", "d", store.Fields{"userId": "u2", "status": "deleted"})

	docs, err := s.Query(ctx, store.NewQuery("alerts").Where("status", store.OpIn, []string{"active", "stopped"}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}

	docs, _ = s.Query(ctx, store.NewQuery("alerts").Where("stoppedAt", store.OpGreater, 150))
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Fatalf("expected only b, got %+v", docs)
	}

	docs, _ = s.Query(ctx, store.NewQuery("alerts").
		Where("status", store.OpEqual, "stopped").
		Order("stoppedAt", true).
		Take(1))
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Fatalf("expected b first, got %+v", docs)
	}
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Set(ctx, "counters", "n", store.Fields{"value": 0})

	var attempts int32
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		n := atomic.AddInt32(&attempts, 1)
		doc, err := tx.Get(ctx, "counters", "n")
		if err != nil {
			return err
		}
		if n == 1 {
			// concurrent writer lands between read and commit
			if err := s.Update(ctx, "counters", "n", store.Fields{"value": 10}); err != nil {
				return err
			}
		}
		return tx.Update(ctx, "counters", "n", store.Fields{"value": doc.Fields.Int64("value") + 1})
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	doc, _ := s.Get(ctx, "counters", "n")
	if doc.Fields.Int64("value") != 11 {
		t.Fatalf("expected 11, got %d", doc.Fields.Int64("value"))
	}
}

func TestTransactionQueryPhantomConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	var attempts int32
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		n := atomic.AddInt32(&attempts, 1)
		docs, err := tx.Query(ctx, store.NewQuery("alerts").Where("userId", store.OpEqual, "u1"))
		if err != nil {
			return err
		}
		if n == 1 {
			_ = s.Create(ctx, "alerts", "other", store.Fields{"userId": "u1"})
		}
		if len(docs) > 0 {
			return nil
		}
		return tx.Create(ctx, "alerts", "mine", store.Fields{"userId": "u1"})
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	docs, _ := s.Query(ctx, store.NewQuery("alerts").Where("userId", store.OpEqual, "u1"))
	if len(docs) != 1 || docs[0].ID != "other" {
		t.Fatalf("expected only the concurrent insert to survive, got %+v", docs)
	}
}

func TestTransactionRejectsReadAfterWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Set(ctx, "c", "1", store.Fields{"a": 1}); err != nil {
			return err
		}
		_, err := tx.Get(ctx, "c", "1")
		return err
	})
	if !errors.Is(err, errReadAfterWrite) {
		t.Fatalf("expected errReadAfterWrite, got %v", err)
	}
}

func TestWatchEmitsSnapshotsAndCancels(t *testing.T) {
	s := New()
	ctx := context.Background()

	snapshots := make(chan []store.Document, 8)
	cancel, err := s.Watch(ctx, store.NewQuery("alerts").Where("status", store.OpEqual, "active"), func(docs []store.Document) {
		snapshots <- docs
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if docs := receive(t, snapshots); len(docs) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(docs))
	}

	_ = s.Set(ctx, "alerts", "a", store.Fields{"status": "active"})
	if docs := receive(t, snapshots); len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}

	cancel()
	if s.Watchers() != 0 {
		t.Fatalf("expected no watchers after cancel, got %d", s.Watchers())
	}
}

func TestWatchDocumentReportsDeletion(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Set(ctx, "families", "f1", store.Fields{"name": "Home"})

	snapshots := make(chan *store.Document, 8)
	cancel, err := s.WatchDocument(ctx, "families", "f1", func(doc *store.Document) {
		snapshots <- doc
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer cancel()

	select {
	case doc := <-snapshots:
		if doc == nil || doc.Fields.String("name") != "Home" {
			t.Fatalf("unexpected initial doc %+v", doc)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for initial doc")
	}

	_ = s.Delete(ctx, "families", "f1")
	select {
	case doc := <-snapshots:
		if doc != nil {
			t.Fatalf("expected nil after delete, got %+v", doc)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delete")
	}
}

func TestWatchStopsWhenContextDone(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := s.Watch(ctx, store.NewQuery("alerts"), func([]store.Document) {})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for s.Watchers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected watcher removed after ctx cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan []store.Document) []store.Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}

// Package firestore backs the store gateway with Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"family-alert-go/internal/store"
	"family-alert-go/pkg/logger"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *firestore.Client
	now    func() time.Time
	log    logger.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
	closed  bool
}

func New(client *firestore.Client, log logger.Logger) *Store {
	return &Store{
		client:  client,
		now:     time.Now,
		log:     log,
		cancels: make(map[int]context.CancelFunc),
	}
}

func (s *Store) doc(collection, id string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(id)
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	snap, err := s.doc(collection, id).Get(ctx)
	return fromSnapshot(collection, id, snap, err)
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, mapError(err))
	}
	return q.Apply(toDocuments(q.Collection, snaps)), nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields store.Fields) error {
	_, err := s.doc(collection, id).Create(ctx, s.stamp(fields))
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields store.Fields, opts ...store.SetOption) error {
	_, err := s.doc(collection, id).Set(ctx, s.stamp(fields), setOptions(opts)...)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	_, err := s.doc(collection, id).Update(ctx, s.updates(fields))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.doc(collection, id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, q store.Query, fn func([]store.Document)) (store.Cancel, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	watchCtx, cancel, err := s.track(ctx)
	if err != nil {
		return nil, err
	}

	it := fq.Snapshots(watchCtx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				s.watchEnded(watchCtx, err, "collection", q.Collection)
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				s.watchEnded(watchCtx, err, "collection", q.Collection)
				return
			}
			fn(q.Apply(toDocuments(q.Collection, snaps)))
		}
	}()
	return store.Cancel(cancel), nil
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string, fn func(*store.Document)) (store.Cancel, error) {
	watchCtx, cancel, err := s.track(ctx)
	if err != nil {
		return nil, err
	}

	it := s.doc(collection, id).Snapshots(watchCtx)
	go s.pumpDocument(watchCtx, it, collection, id, fn)
	return store.Cancel(cancel), nil
}

type documentSnapshots interface {
	Next() (*firestore.DocumentSnapshot, error)
	Stop()
}

// pumpDocument forwards document snapshots until the listener fails. Listener
// errors are terminal; a deleted or missing document arrives as a snapshot
// that does not exist.
func (s *Store) pumpDocument(ctx context.Context, it documentSnapshots, collection, id string, fn func(*store.Document)) {
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			s.watchEnded(ctx, err, "collection", collection, "id", id)
			return
		}
		if snap == nil || !snap.Exists() {
			fn(nil)
			continue
		}
		fn(&store.Document{Collection: collection, ID: id, Fields: store.Fields(snap.Data())})
	}
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &tx{s: s, ftx: ftx})
	}, firestore.MaxAttempts(store.MaxTransactionAttempts))
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	return s.client.Close()
}

// track derives a subscription context that Close also cancels.
func (s *Store) track(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, store.ErrClosed
	}

	watchCtx, cancel := context.WithCancel(ctx)
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel

	return watchCtx, func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) watchEnded(ctx context.Context, err error, args ...any) {
	if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
		return
	}
	s.log.InternalError("firestore store: snapshot listener stopped", err, args...)
}

// query pushes filters to Firestore. Ordering and limits are applied in
// process so no composite index is needed.
func (s *Store) query(q store.Query) (firestore.Query, error) {
	if err := q.Validate(); err != nil {
		return firestore.Query{}, err
	}
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		value := f.Value
		if f.Op == store.OpIn {
			values, _ := store.InValues(f.Value)
			value = values
		}
		fq = fq.WhereEntity(firestore.PropertyFilter{Path: f.Field, Operator: string(f.Op), Value: value})
	}
	return fq, nil
}

func (s *Store) stamp(fields store.Fields) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[store.FieldUpdatedAt] = s.now().UnixMilli()
	return out
}

func (s *Store) updates(fields store.Fields) []firestore.Update {
	out := make([]firestore.Update, 0, len(fields)+1)
	for k, v := range fields {
		if k == store.FieldUpdatedAt {
			continue
		}
		out = append(out, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return append(out, firestore.Update{FieldPath: firestore.FieldPath{store.FieldUpdatedAt}, Value: s.now().UnixMilli()})
}

func setOptions(opts []store.SetOption) []firestore.SetOption {
	if store.HasMerge(opts) {
		return []firestore.SetOption{firestore.MergeAll}
	}
	return nil
}

func fromSnapshot(collection, id string, snap *firestore.DocumentSnapshot, err error) (*store.Document, error) {
	if status.Code(err) == codes.NotFound || (err == nil && (snap == nil || !snap.Exists())) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, mapError(err))
	}
	return &store.Document{Collection: collection, ID: snap.Ref.ID, Fields: store.Fields(snap.Data())}, nil
}

func toDocuments(collection string, snaps []*firestore.DocumentSnapshot) []store.Document {
	docs := make([]store.Document, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		docs = append(docs, store.Document{Collection: collection, ID: snap.Ref.ID, Fields: store.Fields(snap.Data())})
	}
	return docs
}

// mapError turns gRPC status codes into gateway errors. Errors without a
// status, including domain errors returned from a transaction, pass through.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.AlreadyExists:
		return store.ErrAlreadyExists
	case codes.Aborted:
		return store.ErrContention
	}
	return err
}

// Package memory is an in-process document store with optimistic transactions
// and hub-driven subscriptions. It backs local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"family-alert-go/internal/store"
)

var errConflict = errors.New("memory: transaction conflict")

type entry struct {
	fields  store.Fields
	version uint64
}

type docKey struct {
	collection string
	id         string
}

type Store struct {
	mu      sync.RWMutex
	data    map[string]map[string]entry
	version uint64
	closed  bool

	hub *store.Hub
	now func() time.Time
}

type Option func(*Store)

// WithClock sets the clock used for updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]map[string]entry),
		hub:  store.NewHub(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	doc, _, err := s.get(ctx, collection, id)
	return doc, err
}

func (s *Store) get(ctx context.Context, collection, id string) (*store.Document, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, store.ErrClosed
	}

	e, ok := s.data[collection][id]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	return &store.Document{Collection: collection, ID: id, Fields: e.fields.Clone()}, e.version, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	docs, _, err := s.query(ctx, q)
	return docs, err
}

func (s *Store) query(ctx context.Context, q store.Query) ([]store.Document, string, error) {
	if err := q.Validate(); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", store.ErrClosed
	}

	candidates := make([]store.Document, 0, len(s.data[q.Collection]))
	versions := make(map[string]uint64, len(s.data[q.Collection]))
	for id, e := range s.data[q.Collection] {
		candidates = append(candidates, store.Document{Collection: q.Collection, ID: id, Fields: e.fields.Clone()})
		versions[id] = e.version
	}
	docs := q.Apply(candidates)

	fingerprint := ""
	for _, doc := range docs {
		fingerprint += fmt.Sprintf("%s@%d;", doc.ID, versions[doc.ID])
	}
	return docs, fingerprint, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields store.Fields) error {
	return s.writeOne(ctx, write{kind: writeCreate, key: docKey{collection, id}, fields: fields})
}

func (s *Store) Set(ctx context.Context, collection, id string, fields store.Fields, opts ...store.SetOption) error {
	return s.writeOne(ctx, write{kind: writeSet, key: docKey{collection, id}, fields: fields, merge: store.HasMerge(opts)})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	return s.writeOne(ctx, write{kind: writeUpdate, key: docKey{collection, id}, fields: fields})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.writeOne(ctx, write{kind: writeDelete, key: docKey{collection, id}})
}

func (s *Store) writeOne(ctx context.Context, w write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepared, err := s.prepare(w)
	if err != nil {
		return err
	}
	return s.commit(&tx{writes: []write{prepared}})
}

func (s *Store) Watch(ctx context.Context, q store.Query, fn func([]store.Document)) (store.Cancel, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		last    string
		emitted bool
	)
	cancel, err := s.hub.Add(q.Collection, func() {
		docs, fingerprint, err := s.query(ctx, q)
		if err != nil {
			return
		}
		if emitted && fingerprint == last {
			return
		}
		last, emitted = fingerprint, true
		fn(docs)
	})
	if err != nil {
		return nil, err
	}
	return stopOnDone(ctx, cancel), nil
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string, fn func(*store.Document)) (store.Cancel, error) {
	var (
		last    uint64
		emitted bool
	)
	cancel, err := s.hub.Add(collection, func() {
		doc, version, err := s.get(ctx, collection, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return
		}
		if emitted && version == last {
			return
		}
		last, emitted = version, true
		fn(doc)
	})
	if err != nil {
		return nil, err
	}
	return stopOnDone(ctx, cancel), nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 0; attempt < store.MaxTransactionAttempts; attempt++ {
		t := &tx{
			s:     s,
			reads: make(map[docKey]uint64),
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		err := s.commit(t)
		if errors.Is(err, errConflict) {
			continue
		}
		return err
	}
	return store.ErrContention
}

// Watchers reports live subscriptions.
func (s *Store) Watchers() int {
	return s.hub.Len()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

func (s *Store) prepare(w write) (write, error) {
	if w.key.collection == "" || w.key.id == "" {
		return write{}, fmt.Errorf("memory: collection and id are required")
	}
	if w.kind == writeDelete {
		return w, nil
	}
	fields := w.fields.Clone()
	fields[store.FieldUpdatedAt] = s.now().UnixMilli()
	normalized, err := store.Normalize(fields)
	if err != nil {
		return write{}, fmt.Errorf("memory: encode %s/%s: %w", w.key.collection, w.key.id, err)
	}
	w.fields = normalized
	return w, nil
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}

	for key, version := range t.reads {
		if s.data[key.collection][key.id].version != version {
			s.mu.Unlock()
			return errConflict
		}
	}
	for _, qr := range t.queries {
		if s.fingerprintLocked(qr.query) != qr.fingerprint {
			s.mu.Unlock()
			return errConflict
		}
	}

	staged := make(map[docKey]*store.Fields)
	current := func(key docKey) (store.Fields, bool) {
		if f, ok := staged[key]; ok {
			if f == nil {
				return nil, false
			}
			return *f, true
		}
		e, ok := s.data[key.collection][key.id]
		return e.fields, ok
	}

	order := make([]docKey, 0, len(t.writes))
	for _, w := range t.writes {
		existing, exists := current(w.key)
		var next store.Fields
		switch w.kind {
		case writeCreate:
			if exists {
				s.mu.Unlock()
				return fmt.Errorf("%s/%s: %w", w.key.collection, w.key.id, store.ErrAlreadyExists)
			}
			next = w.fields
		case writeSet:
			next = w.fields
			if w.merge && exists {
				next = mergeFields(existing, w.fields)
			}
		case writeUpdate:
			if !exists {
				s.mu.Unlock()
				return fmt.Errorf("%s/%s: %w", w.key.collection, w.key.id, store.ErrNotFound)
			}
			next = mergeFields(existing, w.fields)
		case writeDelete:
			staged[w.key] = nil
			order = append(order, w.key)
			continue
		}
		staged[w.key] = &next
		order = append(order, w.key)
	}

	touched := make(map[string]struct{})
	for _, key := range order {
		f, ok := staged[key]
		if !ok {
			continue
		}
		delete(staged, key)
		s.version++
		touched[key.collection] = struct{}{}
		if f == nil {
			delete(s.data[key.collection], key.id)
			continue
		}
		if s.data[key.collection] == nil {
			s.data[key.collection] = make(map[string]entry)
		}
		s.data[key.collection][key.id] = entry{fields: *f, version: s.version}
	}
	s.mu.Unlock()

	for collection := range touched {
		s.hub.Notify(collection)
	}
	return nil
}

func (s *Store) fingerprintLocked(q store.Query) string {
	candidates := make([]store.Document, 0, len(s.data[q.Collection]))
	for id, e := range s.data[q.Collection] {
		candidates = append(candidates, store.Document{Collection: q.Collection, ID: id, Fields: e.fields})
	}
	fingerprint := ""
	for _, doc := range q.Apply(candidates) {
		fingerprint += fmt.Sprintf("%s@%d;", doc.ID, s.data[q.Collection][doc.ID].version)
	}
	return fingerprint
}

func mergeFields(base, patch store.Fields) store.Fields {
	out := base.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func stopOnDone(ctx context.Context, cancel store.Cancel) store.Cancel {
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			cancel()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()
	return stop
}

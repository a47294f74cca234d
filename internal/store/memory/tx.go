package memory

import (
	"context"
	"errors"

	"family-alert-go/internal/store"
)

var errReadAfterWrite = errors.New("memory: transaction reads must precede writes")

type writeKind int

const (
	writeCreate writeKind = iota
	writeSet
	writeUpdate
	writeDelete
)

type write struct {
	kind   writeKind
	key    docKey
	fields store.Fields
	merge  bool
}

type queryRead struct {
	query       store.Query
	fingerprint string
}

// tx records the version of everything it read and buffers writes; commit
// rejects it if any of those reads changed in the meantime.
type tx struct {
	s       *Store
	reads   map[docKey]uint64
	queries []queryRead
	writes  []write
}

func (t *tx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	doc, version, err := t.s.get(ctx, collection, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	t.reads[docKey{collection, id}] = version
	return doc, err
}

func (t *tx) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	docs, fingerprint, err := t.s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	t.queries = append(t.queries, queryRead{query: q, fingerprint: fingerprint})
	return docs, nil
}

func (t *tx) Create(ctx context.Context, collection, id string, fields store.Fields) error {
	return t.add(write{kind: writeCreate, key: docKey{collection, id}, fields: fields})
}

func (t *tx) Set(ctx context.Context, collection, id string, fields store.Fields, opts ...store.SetOption) error {
	return t.add(write{kind: writeSet, key: docKey{collection, id}, fields: fields, merge: store.HasMerge(opts)})
}

func (t *tx) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	return t.add(write{kind: writeUpdate, key: docKey{collection, id}, fields: fields})
}

func (t *tx) Delete(ctx context.Context, collection, id string) error {
	return t.add(write{kind: writeDelete, key: docKey{collection, id}})
}

func (t *tx) add(w write) error {
	prepared, err := t.s.prepare(w)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, prepared)
	return nil
}

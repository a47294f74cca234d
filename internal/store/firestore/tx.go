package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"family-alert-go/internal/store"
)

// tx adapts a Firestore transaction. Firestore itself rejects reads issued
// after the first write.
type tx struct {
	s   *Store
	ftx *firestore.Transaction
}

func (t *tx) Get(_ context.Context, collection, id string) (*store.Document, error) {
	snap, err := t.ftx.Get(t.s.doc(collection, id))
	return fromSnapshot(collection, id, snap, err)
}

func (t *tx) Query(_ context.Context, q store.Query) ([]store.Document, error) {
	fq, err := t.s.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := t.ftx.Documents(fq).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return q.Apply(toDocuments(q.Collection, snaps)), nil
}

func (t *tx) Create(_ context.Context, collection, id string, fields store.Fields) error {
	return t.ftx.Create(t.s.doc(collection, id), t.s.stamp(fields))
}

func (t *tx) Set(_ context.Context, collection, id string, fields store.Fields, opts ...store.SetOption) error {
	return t.ftx.Set(t.s.doc(collection, id), t.s.stamp(fields), setOptions(opts)...)
}

func (t *tx) Update(_ context.Context, collection, id string, fields store.Fields) error {
	return t.ftx.Update(t.s.doc(collection, id), t.s.updates(fields))
}

func (t *tx) Delete(_ context.Context, collection, id string) error {
	return t.ftx.Delete(t.s.doc(collection, id))
}

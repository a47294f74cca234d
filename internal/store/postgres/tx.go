package postgres

import (
	"context"
	"errors"

	"family-alert-go/internal/store"
)

var errReadAfterWrite = errors.New("postgres: transaction reads must precede writes")

// tx runs inside a SERIALIZABLE database transaction. Writes go straight to
// the database; touched collections are announced after commit.
type tx struct {
	executor
	touched map[string]struct{}
}

func (t *tx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if len(t.touched) > 0 {
		return nil, errReadAfterWrite
	}
	doc, _, err := t.get(ctx, collection, id)
	return doc, err
}

func (t *tx) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if len(t.touched) > 0 {
		return nil, errReadAfterWrite
	}
	docs, _, err := t.query(ctx, q)
	return docs, err
}

func (t *tx) Create(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := t.create(ctx, collection, id, fields); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *tx) Set(ctx context.Context, collection, id string, fields store.Fields, opts ...store.SetOption) error {
	if err := t.set(ctx, collection, id, fields, store.HasMerge(opts)); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *tx) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := t.update(ctx, collection, id, fields); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *tx) Delete(ctx context.Context, collection, id string) error {
	if err := t.delete(ctx, collection, id); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

// Package docstore implements the domain repositories on top of the document
// gateway. Field names match the persisted document layout.
package docstore

import (
	"context"
	"errors"

	"family-alert-go/internal/store"
)

// session is the gateway itself or an open transaction.
type session interface {
	store.Reader
	store.Writer
}

// runTx runs fn in a gateway transaction unless the caller is already inside one.
func runTx(ctx context.Context, gw store.Gateway, inTx bool, current session, fn func(tx session) error) error {
	if inTx {
		return fn(current)
	}
	return gw.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(tx)
	})
}

func mapNotFound(err, target error) error {
	if errors.Is(err, store.ErrNotFound) {
		return target
	}
	return err
}

func optionalString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

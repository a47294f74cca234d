// Package store is the document persistence gateway shared by every domain.
//
// It knows nothing about alerts or families: it offers create, read, update,
// delete, query, transactional read-then-write and live subscriptions over named
// collections of flat field maps. Backends live in the memory, firestore and
// postgres subpackages.
package store

import (
	"context"
	"errors"
)

const (
	CollectionUsers       = "users"
	CollectionAlerts      = "emergencyAlerts"
	CollectionFamilies    = "familyCircles"
	CollectionInviteCodes = "inviteCodes"

	// FieldUpdatedAt is stamped by every backend on every write.
	FieldUpdatedAt = "updatedAt"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrClosed        = errors.New("store closed")
	// ErrContention is returned when a transaction kept conflicting with
	// concurrent writers and ran out of attempts.
	ErrContention = errors.New("transaction contention")
)

// MaxTransactionAttempts bounds backend-internal transaction retries.
const MaxTransactionAttempts = 5

type Document struct {
	Collection string
	ID         string
	Fields     Fields
}

type SetOption int

const (
	// MergeAll keeps fields of the stored document that are absent from the write.
	MergeAll SetOption = iota + 1
)

// Cancel stops a subscription. It never waits for an in-flight callback.
type Cancel func()

type Reader interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
}

type Writer interface {
	Create(ctx context.Context, collection, id string, fields Fields) error
	Set(ctx context.Context, collection, id string, fields Fields, opts ...SetOption) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
}

// Tx is a serializable unit of work. All reads must happen before the first write.
type Tx interface {
	Reader
	Writer
}

type Gateway interface {
	Reader
	Writer
	Watch(ctx context.Context, q Query, fn func([]Document)) (Cancel, error)
	WatchDocument(ctx context.Context, collection, id string, fn func(*Document)) (Cancel, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

func HasMerge(opts []SetOption) bool {
	for _, opt := range opts {
		if opt == MergeAll {
			return true
		}
	}
	return false
}

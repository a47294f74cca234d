// Package postgres stores documents as JSONB rows in a single documents table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"family-alert-go/internal/store"
	"family-alert-go/pkg/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

type documentRow struct {
	Collection string `gorm:"primaryKey"`
	ID         string `gorm:"primaryKey"`
	Data       string `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (documentRow) TableName() string {
	return "documents"
}

type Store struct {
	db     *gorm.DB
	bus    ChangeBus
	hub    *store.Hub
	now    func() time.Time
	log    logger.Logger
	stopMu sync.Mutex
	stop   func()
}

func New(ctx context.Context, db *gorm.DB, bus ChangeBus, log logger.Logger) (*Store, error) {
	if bus == nil {
		bus = NopBus()
	}
	s := &Store{
		db:  db,
		bus: bus,
		hub: store.NewHub(),
		now: time.Now,
		log: log,
	}

	stop, err := bus.Subscribe(ctx, s.hub.Notify)
	if err != nil {
		return nil, fmt.Errorf("postgres store: subscribe change bus: %w", err)
	}
	s.stop = stop
	return s, nil
}

func (s *Store) exec() executor {
	return executor{db: s.db, now: s.now}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	doc, _, err := s.exec().get(ctx, collection, id)
	return doc, err
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	docs, _, err := s.exec().query(ctx, q)
	return docs, err
}

func (s *Store) Create(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := s.exec().create(ctx, collection, id, fields); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields store.Fields, opts ...store.SetOption) error {
	if err := s.exec().set(ctx, collection, id, fields, store.HasMerge(opts)); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := s.exec().update(ctx, collection, id, fields); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.exec().delete(ctx, collection, id); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
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
		docs, fingerprint, err := s.exec().query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				s.log.InternalError("postgres store: watch query failed", err, "collection", q.Collection)
			}
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
	return cancelOnDone(ctx, cancel), nil
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string, fn func(*store.Document)) (store.Cancel, error) {
	var (
		last    string
		emitted bool
	)
	cancel, err := s.hub.Add(collection, func() {
		doc, raw, err := s.exec().get(ctx, collection, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			if ctx.Err() == nil {
				s.log.InternalError("postgres store: watch document failed", err, "collection", collection, "id", id)
			}
			return
		}
		if emitted && raw == last {
			return
		}
		last, emitted = raw, true
		fn(doc)
	})
	if err != nil {
		return nil, err
	}
	return cancelOnDone(ctx, cancel), nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 0; attempt < store.MaxTransactionAttempts; attempt++ {
		var touched map[string]struct{}
		err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			t := &tx{executor: executor{db: gtx, now: s.now}, touched: make(map[string]struct{})}
			if err := fn(ctx, t); err != nil {
				return err
			}
			touched = t.touched
			return nil
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if retryable(err) {
			s.log.Debug("postgres store: retrying transaction", "attempt", attempt+1, "err", err)
			continue
		}
		if err != nil {
			return err
		}
		for collection := range touched {
			s.changed(ctx, collection)
		}
		return nil
	}
	return store.ErrContention
}

func (s *Store) Close() error {
	s.stopMu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.stopMu.Unlock()
	s.hub.Close()
	return s.bus.Close()
}

func (s *Store) changed(ctx context.Context, collection string) {
	s.hub.Notify(collection)
	if err := s.bus.Publish(context.WithoutCancel(ctx), collection); err != nil {
		s.log.InternalError("postgres store: publish change failed", err, "collection", collection)
	}
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return true
	}
	return false
}

// executor holds the SQL for one connection or transaction.
type executor struct {
	db  *gorm.DB
	now func() time.Time
}

func (e executor) get(ctx context.Context, collection, id string) (*store.Document, string, error) {
	var row documentRow
	err := e.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", store.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	doc, err := decodeRow(row)
	if err != nil {
		return nil, "", err
	}
	return doc, row.Data, nil
}

func (e executor) query(ctx context.Context, q store.Query) ([]store.Document, string, error) {
	if err := q.Validate(); err != nil {
		return nil, "", err
	}

	conditions, empty, err := pushDown(q)
	if err != nil {
		return nil, "", err
	}
	if empty {
		return []store.Document{}, "", nil
	}

	tx := e.db.WithContext(ctx).Where("collection = ?", q.Collection)
	for _, c := range conditions {
		tx = tx.Where(c.sql, c.args...)
	}

	var rows []documentRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("query %s: %w", q.Collection, err)
	}

	raw := make(map[string]string, len(rows))
	docs := make([]store.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			return nil, "", err
		}
		raw[row.ID] = row.Data
		docs = append(docs, *doc)
	}
	docs = q.Apply(docs)

	var fingerprint strings.Builder
	for _, doc := range docs {
		fingerprint.WriteString(doc.ID)
		fingerprint.WriteByte('=')
		fingerprint.WriteString(raw[doc.ID])
		fingerprint.WriteByte(';')
	}
	return docs, fingerprint.String(), nil
}

func (e executor) create(ctx context.Context, collection, id string, fields store.Fields) error {
	row, err := e.row(collection, id, fields)
	if err != nil {
		return err
	}
	res := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: primaryKey(), DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrAlreadyExists)
	}
	return nil
}

func (e executor) set(ctx context.Context, collection, id string, fields store.Fields, merge bool) error {
	row, err := e.row(collection, id, fields)
	if err != nil {
		return err
	}
	data := gorm.Expr("EXCLUDED.data")
	if merge {
		data = gorm.Expr("documents.data || EXCLUDED.data")
	}
	err = e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: primaryKey(),
			DoUpdates: clause.Assignments(map[string]any{
				"data":       data,
				"updated_at": gorm.Expr("EXCLUDED.updated_at"),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (e executor) update(ctx context.Context, collection, id string, fields store.Fields) error {
	row, err := e.row(collection, id, fields)
	if err != nil {
		return err
	}
	res := e.db.WithContext(ctx).
		Model(&documentRow{}).
		Where("collection = ? AND id = ?", collection, id).
		Updates(map[string]any{
			"data":       gorm.Expr("data || ?::jsonb", row.Data),
			"updated_at": row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

func (e executor) delete(ctx context.Context, collection, id string) error {
	err := e.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&documentRow{}).Error
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (e executor) row(collection, id string, fields store.Fields) (documentRow, error) {
	if collection == "" || id == "" {
		return documentRow{}, fmt.Errorf("postgres store: collection and id are required")
	}
	now := e.now().UTC()
	body := fields.Clone()
	body[store.FieldUpdatedAt] = now.UnixMilli()
	payload, err := json.Marshal(body)
	if err != nil {
		return documentRow{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return documentRow{
		Collection: collection,
		ID:         id,
		Data:       string(payload),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func decodeRow(row documentRow) (*store.Document, error) {
	fields := store.Fields{}
	if err := json.Unmarshal([]byte(row.Data), &fields); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", row.Collection, row.ID, err)
	}
	return &store.Document{Collection: row.Collection, ID: row.ID, Fields: fields}, nil
}

type condition struct {
	sql  string
	args []any
}

// pushDown turns equality and "in" filters into jsonb containment conditions.
// Range filters stay in Go; Query.Apply re-checks everything. empty reports an
// "in" filter with no values, which matches nothing.
func pushDown(q store.Query) (conditions []condition, empty bool, err error) {
	for _, f := range q.Filters {
		switch f.Op {
		case store.OpEqual:
			if f.Value == nil {
				continue
			}
			payload, err := containment(f.Field, f.Value)
			if err != nil {
				return nil, false, err
			}
			conditions = append(conditions, condition{sql: "data @> ?::jsonb", args: []any{payload}})
		case store.OpIn:
			values, _ := store.InValues(f.Value)
			if len(values) == 0 {
				return nil, true, nil
			}
			clauses := make([]string, 0, len(values))
			args := make([]any, 0, len(values))
			for _, v := range values {
				payload, err := containment(f.Field, v)
				if err != nil {
					return nil, false, err
				}
				clauses = append(clauses, "data @> ?::jsonb")
				args = append(args, payload)
			}
			conditions = append(conditions, condition{sql: "(" + strings.Join(clauses, " OR ") + ")", args: args})
		}
	}
	return conditions, false, nil
}

func containment(field string, value any) (string, error) {
	payload, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return "", fmt.Errorf("encode filter %s: %w", field, err)
	}
	return string(payload), nil
}

func primaryKey() []clause.Column {
	return []clause.Column{{Name: "collection"}, {Name: "id"}}
}

func cancelOnDone(ctx context.Context, cancel store.Cancel) store.Cancel {
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

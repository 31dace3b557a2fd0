// --- File: internal/storage/sqlite/subscriptionstore.go ---
// Package sqlite implements the SubscriptionStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

// SubscriptionStore implements dispatch.SubscriptionStore using SQLite.
// Endpoint uniqueness is enforced by a unique index, so Insert is atomic.
type SubscriptionStore struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*SubscriptionStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps concurrent
	// reconciliation deletes from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store, err := NewSubscriptionStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSubscriptionStore wraps an already opened database and applies the schema.
func NewSubscriptionStore(ctx context.Context, db *sql.DB) (*SubscriptionStore, error) {
	if err := initSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SubscriptionStore{db: db}, nil
}

func (s *SubscriptionStore) FindByEndpoint(ctx context.Context, endpoint string) (dispatch.Subscription, error) {
	var sub dispatch.Subscription
	err := s.db.QueryRowContext(ctx,
		`SELECT endpoint, p256dh, auth FROM subscriptions WHERE endpoint = ?`, endpoint,
	).Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Subscription{}, dispatch.ErrNotFound
	}
	if err != nil {
		return dispatch.Subscription{}, fmt.Errorf("sqlite find failed: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) Insert(ctx context.Context, sub dispatch.Subscription) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (endpoint, p256dh, auth) VALUES (?, ?, ?)
		 ON CONFLICT(endpoint) DO NOTHING`,
		sub.Endpoint, sub.P256dh, sub.Auth,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite insert failed: %w", err)
	}
	if n == 0 {
		return dispatch.ErrConstraintViolation
	}
	return nil
}

func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete failed: %w", err)
	}
	return res.RowsAffected()
}

func (s *SubscriptionStore) ListAll(ctx context.Context) ([]dispatch.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT endpoint, p256dh, auth FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := make([]dispatch.Subscription, 0)
	for rows.Next() {
		var sub dispatch.Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
			return nil, fmt.Errorf("sqlite scan failed: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite iteration failed: %w", err)
	}
	return subs, nil
}

func (s *SubscriptionStore) Close() error {
	return s.db.Close()
}

// Package store is the sole mutator of persisted state (spec.md §5).
// Operations that touch several rows run inside one serializable transaction
// (withTx); single-statement operations such as MarkDelivered,
// MarkOutboxPublished and IssueRefreshCredential, and the reads behind
// UnreadCount, run directly on the pool at Postgres's default isolation
// level. Nothing outside this package writes to Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/config"
	_ "github.com/lib/pq"
)

// Store wraps a *sql.DB with the transactional operations the messaging
// substrate needs. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.Fatal, "database url is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Fatal)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			break
		}
		slog.Warn("database connection attempt failed", "attempt", attempt, "error", lastErr)
		if attempt < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if lastErr != nil {
		db.Close()
		return nil, apperrors.Newf(apperrors.Transient, "failed to connect to database: %v", lastErr)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the core schema. In a production deployment this would
// be owned by a migration tool; the core only needs the tables to exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Fatal)
	}
	return nil
}

const maxDeadlockRetries = 3

// withTx runs fn inside a serializable transaction, retrying serialization
// failures and deadlocks up to maxDeadlockRetries times with jittered
// backoff (spec.md §4.2). Any other failure propagates immediately.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxDeadlockRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return apperrors.Wrap(err, apperrors.Transient)
		}

		err = func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					tx.Rollback()
					panic(p)
				}
			}()
			return fn(tx)
		}()

		if err != nil {
			tx.Rollback()
			if isRetryable(err) && attempt < maxDeadlockRetries {
				lastErr = err
				backoff := time.Duration(10+rand.Intn(40)) * time.Millisecond * time.Duration(attempt+1)
				time.Sleep(backoff)
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isRetryable(err) && attempt < maxDeadlockRetries {
				lastErr = err
				backoff := time.Duration(10+rand.Intn(40)) * time.Millisecond * time.Duration(attempt+1)
				time.Sleep(backoff)
				continue
			}
			return apperrors.Wrap(err, apperrors.Transient)
		}
		return nil
	}
	return apperrors.Newf(apperrors.Transient, "transaction failed after %d retries: %v", maxDeadlockRetries, lastErr)
}

// isRetryable recognizes Postgres serialization failures (40001) and
// deadlocks (40P01) from the error text alone: lib/pq's Error() carries the
// server message ("could not serialize ...", "deadlock detected"), and the
// SQLSTATE codes are matched too in case a wrapper includes them.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") || strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "deadlock detected") || strings.Contains(msg, "could not serialize")
}

var errNoRows = sql.ErrNoRows

func isNoRows(err error) bool {
	return errors.Is(err, errNoRows)
}

func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return apperrors.New(apperrors.NotFound, "resource not found")
	}
	if isUniqueViolation(err) {
		return apperrors.New(apperrors.Conflict, "uniqueness violation")
	}
	if isFKViolation(err) {
		return apperrors.New(apperrors.InvalidReference, "invalid reference")
	}
	return apperrors.Wrap(err, apperrors.Transient)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func isFKViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "violates foreign key constraint")
}

func uniqueViolationOn(err error, constraint string) bool {
	return err != nil && strings.Contains(err.Error(), fmt.Sprintf("constraint %q", constraint))
}

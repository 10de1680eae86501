package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/tierkit/pkg/tier"
)

// PgxQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps accounts in the accounts table created by the bundled
// migrations.
type PostgresStore struct {
	db PgxQuerier
}

func NewPostgresStore(db PgxQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, customer_ref, tier, status, subscription_ref, period_end, past_due_since,
	last_event_sequence, recent_event_ids, canceling_ref, version, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)

	var (
		a                                     Account
		customerRef, subscriptionRef, cancRef *string
		tierName, status                      string
	)
	err := row.Scan(
		&a.ID, &customerRef, &tierName, &status, &subscriptionRef, &a.PeriodEnd, &a.PastDueSince,
		&a.LastEventSequence, &a.RecentEventIDs, &cancRef, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CustomerRef = deref(customerRef)
	a.SubscriptionRef = deref(subscriptionRef)
	a.CancelingRef = deref(cancRef)
	a.Tier = tier.Name(tierName)
	a.Status = Status(status)
	return &a, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next *Account) (bool, error) {
	version := expectedVersion + 1
	updatedAt := next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	createdAt := next.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	recent := next.RecentEventIDs
	if recent == nil {
		recent = []string{}
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = s.db.Exec(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING`,
			next.ID, nullable(next.CustomerRef), string(next.Tier), string(next.Status),
			nullable(next.SubscriptionRef), next.PeriodEnd, next.PastDueSince,
			next.LastEventSequence, recent, nullable(next.CancelingRef), version, createdAt, updatedAt,
		)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE accounts SET
				customer_ref = $2, tier = $3, status = $4, subscription_ref = $5,
				period_end = $6, past_due_since = $7, last_event_sequence = $8,
				recent_event_ids = $9, canceling_ref = $10, version = $11, updated_at = $12
			WHERE id = $1 AND version = $13`,
			next.ID, nullable(next.CustomerRef), string(next.Tier), string(next.Status),
			nullable(next.SubscriptionRef), next.PeriodEnd, next.PastDueSince,
			next.LastEventSequence, recent, nullable(next.CancelingRef), version, updatedAt,
			expectedVersion,
		)
	}
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	next.Version = version
	return true, nil
}

func (s *PostgresStore) AccountByCustomerRef(ctx context.Context, customerRef string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM accounts WHERE customer_ref = $1`, customerRef).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrAccountNotFound
	}
	return id, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventdelivery/internal/entity"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

const subscriptionColumns = "id, organization_id, url, secret, events, active, created_at, updated_at, deleted_at"

type SubscriptionRepository struct {
	db *pgxdriver.Postgres
}

func NewSubscriptionRepository(db *pgxdriver.Postgres) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) scanSubscription(scanner rowScanner) (*entity.WebhookSubscription, error) {
	var s entity.WebhookSubscription
	var deletedAt pgtype.Timestamptz

	err := scanner.Scan(
		&s.ID,
		&s.OrganizationID,
		&s.URL,
		&s.Secret,
		&s.Events,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		s.DeletedAt = &deletedAt.Time
	}
	return &s, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, qe pgxdriver.QueryExecuter, sub entity.WebhookSubscription) (*entity.WebhookSubscription, error) {
	const op = "repository.SubscriptionRepository.Create"

	var err error
	sub.ID, err = uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	sql, args, err := r.db.Insert("webhook_subscriptions").
		Columns("id", "organization_id", "url", "secret", "events", "active", "created_at", "updated_at").
		Values(sub.ID, sub.OrganizationID, sub.URL, sub.Secret, sub.Events, sub.Active, sub.CreatedAt, sub.UpdatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = exec(r.db, qe).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrConflictingData)
		}
		return nil, fmt.Errorf("%s: exec: %w", op, err)
	}

	return &sub, nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) (*entity.WebhookSubscription, error) {
	const op = "repository.SubscriptionRepository.GetByID"

	sql, args, err := r.db.Select(subscriptionColumns).
		From("webhook_subscriptions").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	s, err := r.scanSubscription(exec(r.db, qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrDataNotFound)
		}
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}
	return s, nil
}

// ListDeliverable returns the active, non-deleted subscriptions of an
// organization whose event set contains eventType.
func (r *SubscriptionRepository) ListDeliverable(ctx context.Context, qe pgxdriver.QueryExecuter, orgID uuid.UUID, eventType string) ([]entity.WebhookSubscription, error) {
	const op = "repository.SubscriptionRepository.ListDeliverable"

	sql, args, err := r.db.Select(subscriptionColumns).
		From("webhook_subscriptions").
		Where(squirrel.Eq{"organization_id": orgID, "active": true}).
		Where("deleted_at IS NULL").
		Where(squirrel.Expr("? = ANY(events)", eventType)).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := exec(r.db, qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var results []entity.WebhookSubscription
	for rows.Next() {
		s, err := r.scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		results = append(results, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}
	return results, nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, patch entity.SubscriptionPatch) error {
	const op = "repository.SubscriptionRepository.Update"

	update := r.db.Update("webhook_subscriptions").
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Where("deleted_at IS NULL")

	if patch.URL != nil {
		update = update.Set("url", *patch.URL)
	}
	if patch.Events != nil {
		update = update.Set("events", *patch.Events)
	}
	if patch.Active != nil {
		update = update.Set("active", *patch.Active)
	}

	sql, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	res, err := exec(r.db, qe).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrDataNotFound)
	}
	return nil
}

// SoftDelete deactivates the subscription and stamps deleted_at; rows are
// never physically removed.
func (r *SubscriptionRepository) SoftDelete(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) error {
	const op = "repository.SubscriptionRepository.SoftDelete"

	now := time.Now().UTC()
	sql, args, err := r.db.Update("webhook_subscriptions").
		Set("active", false).
		Set("deleted_at", now).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	res, err := exec(r.db, qe).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrDataNotFound)
	}
	return nil
}

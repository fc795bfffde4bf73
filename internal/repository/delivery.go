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
	"github.com/jackc/pgx/v5/pgtype"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

const deliveryColumns = "id, subscription_id, organization_id, event_type, payload, status, attempt_count, last_status_code, last_error, last_response, delivered_at, created_at"

type DeliveryRepository struct {
	db *pgxdriver.Postgres
}

func NewDeliveryRepository(db *pgxdriver.Postgres) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) scanDelivery(scanner rowScanner, dest ...any) (*entity.DeliveryAttempt, error) {
	var d entity.DeliveryAttempt
	var statusCode pgtype.Int4
	var lastError pgtype.Text
	var lastResponse pgtype.Text
	var deliveredAt pgtype.Timestamptz

	fields := []any{
		&d.ID,
		&d.SubscriptionID,
		&d.OrganizationID,
		&d.EventType,
		&d.Payload,
		&d.Status,
		&d.AttemptCount,
		&statusCode,
		&lastError,
		&lastResponse,
		&deliveredAt,
		&d.CreatedAt,
	}
	fields = append(fields, dest...)

	if err := scanner.Scan(fields...); err != nil {
		return nil, err
	}

	if statusCode.Valid {
		d.LastStatusCode = int(statusCode.Int32)
	}
	if lastError.Valid {
		d.LastError = lastError.String
	}
	if lastResponse.Valid {
		d.LastResponse = lastResponse.String
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return &d, nil
}

func (r *DeliveryRepository) Create(ctx context.Context, qe pgxdriver.QueryExecuter, attempt entity.DeliveryAttempt) (*entity.DeliveryAttempt, error) {
	const op = "repository.DeliveryRepository.Create"

	var err error
	attempt.ID, err = uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	sql, args, err := r.db.Insert("delivery_attempts").
		Columns("id", "subscription_id", "organization_id", "event_type", "payload", "status", "attempt_count", "created_at").
		Values(attempt.ID, attempt.SubscriptionID, attempt.OrganizationID, attempt.EventType, attempt.Payload, attempt.Status, attempt.AttemptCount, attempt.CreatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = exec(r.db, qe).Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("%s: exec: %w", op, err)
	}
	return &attempt, nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID) (*entity.DeliveryAttempt, error) {
	const op = "repository.DeliveryRepository.GetByID"

	sql, args, err := r.db.Select(deliveryColumns).
		From("delivery_attempts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	d, err := r.scanDelivery(exec(r.db, qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrDataNotFound)
		}
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}
	return d, nil
}

// GetDue fetches up to limit pending rows below the retry ceiling, oldest
// first, joined to their subscription so the processor can tell
// still-deliverable endpoints from dead registrations without extra lookups.
func (r *DeliveryRepository) GetDue(ctx context.Context, qe pgxdriver.QueryExecuter, limit uint64, maxRetries int) ([]entity.DueDelivery, error) {
	const op = "repository.DeliveryRepository.GetDue"

	cols := "d.id, d.subscription_id, d.organization_id, d.event_type, d.payload, d.status, d.attempt_count, d.last_status_code, d.last_error, d.last_response, d.delivered_at, d.created_at, " +
		"s.id, s.organization_id, s.url, s.secret, s.events, s.active, s.created_at, s.updated_at, s.deleted_at"

	sql, args, err := r.db.Select(cols).
		From("delivery_attempts d").
		Join("webhook_subscriptions s ON s.id = d.subscription_id").
		Where(squirrel.Eq{"d.status": entity.DeliveryPending}).
		Where(squirrel.Lt{"d.attempt_count": maxRetries}).
		OrderBy("d.created_at ASC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := exec(r.db, qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var results []entity.DueDelivery
	for rows.Next() {
		var sub entity.WebhookSubscription
		var deletedAt pgtype.Timestamptz

		d, err := r.scanDelivery(rows,
			&sub.ID,
			&sub.OrganizationID,
			&sub.URL,
			&sub.Secret,
			&sub.Events,
			&sub.Active,
			&sub.CreatedAt,
			&sub.UpdatedAt,
			&deletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		if deletedAt.Valid {
			sub.DeletedAt = &deletedAt.Time
		}
		results = append(results, entity.DueDelivery{Attempt: *d, Subscription: sub})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}
	return results, nil
}

// MarkSuccess finalizes a pending row after a 2xx response. The status
// guard in the WHERE clause keeps terminal rows immutable.
func (r *DeliveryRepository) MarkSuccess(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, statusCode int, body string) error {
	const op = "repository.DeliveryRepository.MarkSuccess"

	sql, args, err := r.db.Update("delivery_attempts").
		Set("status", entity.DeliverySuccess).
		Set("attempt_count", squirrel.Expr("attempt_count + 1")).
		Set("last_status_code", statusCode).
		Set("last_response", body).
		Set("delivered_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id, "status": entity.DeliveryPending}).
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

// MarkFailedAttempt increments the attempt counter after a failed try. The
// row stays pending until terminal is true, at which point it dead-letters.
func (r *DeliveryRepository) MarkFailedAttempt(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, statusCode int, lastErr string, terminal bool) error {
	const op = "repository.DeliveryRepository.MarkFailedAttempt"

	status := entity.DeliveryPending
	if terminal {
		status = entity.DeliveryFailed
	}

	update := r.db.Update("delivery_attempts").
		Set("status", status).
		Set("attempt_count", squirrel.Expr("attempt_count + 1")).
		Set("last_error", lastErr).
		Where(squirrel.Eq{"id": id, "status": entity.DeliveryPending})

	if statusCode > 0 {
		update = update.Set("last_status_code", statusCode)
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

// FailTerminal dead-letters a row without a delivery attempt, e.g. when the
// subscription was deactivated after queueing.
func (r *DeliveryRepository) FailTerminal(ctx context.Context, qe pgxdriver.QueryExecuter, id uuid.UUID, reason string) error {
	const op = "repository.DeliveryRepository.FailTerminal"

	sql, args, err := r.db.Update("delivery_attempts").
		Set("status", entity.DeliveryFailed).
		Set("last_error", reason).
		Where(squirrel.Eq{"id": id, "status": entity.DeliveryPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = exec(r.db, qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	return nil
}

// FailExhausted flips every pending row at or past the retry ceiling to
// failed; the safety net behind the dead-letter sweep.
func (r *DeliveryRepository) FailExhausted(ctx context.Context, qe pgxdriver.QueryExecuter, maxRetries int) (int64, error) {
	const op = "repository.DeliveryRepository.FailExhausted"

	sql, args, err := r.db.Update("delivery_attempts").
		Set("status", entity.DeliveryFailed).
		Set("last_error", "retry budget exhausted").
		Where(squirrel.Eq{"status": entity.DeliveryPending}).
		Where(squirrel.GtOrEq{"attempt_count": maxRetries}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: building query: %w", op, err)
	}

	res, err := exec(r.db, qe).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", op, err)
	}
	return res.RowsAffected(), nil
}

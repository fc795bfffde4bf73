package repository

import (
	"context"
	"fmt"
	"time"

	"eventdelivery/internal/entity"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

type NotificationLogRepository struct {
	db *pgxdriver.Postgres
}

func NewNotificationLogRepository(db *pgxdriver.Postgres) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// Create appends one row per channel attempt; the log is append-only.
func (r *NotificationLogRepository) Create(ctx context.Context, qe pgxdriver.QueryExecuter, row entity.NotificationDelivery) error {
	const op = "repository.NotificationLogRepository.Create"

	var err error
	row.ID, err = uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	sql, args, err := r.db.Insert("notification_log").
		Columns("id", "notification_id", "organization_id", "user_id", "type", "category", "priority", "channel", "success", "message_id", "error", "cost", "delivered_at", "created_at").
		Values(row.ID, row.NotificationID, row.OrganizationID, row.UserID, row.Type, row.Category, row.Priority, row.Channel, row.Success, row.MessageID, row.Error, row.Cost, row.DeliveredAt, row.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = exec(r.db, qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	return nil
}

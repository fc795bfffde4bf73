package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventdelivery/internal/entity"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

// preferenceSettings is the jsonb shape of the settings column; the enable
// flag lives in its own column so opt-out checks never parse JSON.
type preferenceSettings struct {
	Channels  map[entity.Channel]entity.ChannelSetting `json:"channels"`
	Overrides map[string]entity.CategoryOverride       `json:"overrides,omitempty"`
	Quiet     entity.QuietHours                        `json:"quiet_hours"`
	Digest    entity.DigestSettings                    `json:"digest"`
}

type PreferenceRepository struct {
	db *pgxdriver.Postgres
}

func NewPreferenceRepository(db *pgxdriver.Postgres) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) Get(ctx context.Context, qe pgxdriver.QueryExecuter, userID uuid.UUID) (*entity.UserNotificationPreferences, error) {
	const op = "repository.PreferenceRepository.Get"

	sql, args, err := r.db.Select("user_id, enabled, settings, created_at, updated_at").
		From("notification_preferences").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	var p entity.UserNotificationPreferences
	var raw []byte
	err = exec(r.db, qe).QueryRow(ctx, sql, args...).Scan(&p.UserID, &p.Enabled, &raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrDataNotFound)
		}
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}

	var settings preferenceSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("%s: unmarshal settings: %w", op, err)
	}
	p.Channels = settings.Channels
	p.Overrides = settings.Overrides
	p.Quiet = settings.Quiet
	p.Digest = settings.Digest

	return &p, nil
}

// Upsert persists the full preference record; first write creates the row.
func (r *PreferenceRepository) Upsert(ctx context.Context, qe pgxdriver.QueryExecuter, prefs *entity.UserNotificationPreferences) error {
	const op = "repository.PreferenceRepository.Upsert"

	raw, err := json.Marshal(preferenceSettings{
		Channels:  prefs.Channels,
		Overrides: prefs.Overrides,
		Quiet:     prefs.Quiet,
		Digest:    prefs.Digest,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal settings: %w", op, err)
	}

	now := time.Now().UTC()
	sql, args, err := r.db.Insert("notification_preferences").
		Columns("user_id", "enabled", "settings", "created_at", "updated_at").
		Values(prefs.UserID, prefs.Enabled, raw, now, now).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET enabled = EXCLUDED.enabled, settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = exec(r.db, qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	return nil
}

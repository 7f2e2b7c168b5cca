package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload,
			received_at, processed_at, attempts, last_error
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type,
			payload, received_at, processed_at, attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Attempts,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET attempts = attempts + 1, last_error = ?
		 WHERE id = ?`,
		reason,
		id,
	).Error
}

// ListFailed pages through unprocessed events carrying an error, oldest first.
func (r *repo) ListFailed(ctx context.Context, db *gorm.DB, provider string, after *pagination.Cursor, limit int) ([]domain.EventRecord, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("provider = ?", provider).
		Where("processed_at IS NULL").
		Where("last_error IS NOT NULL")
	if after != nil && after.ID != "" {
		afterID, err := strconv.ParseInt(after.ID, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidEvent
		}
		stmt = stmt.Where("id > ?", afterID)
	}

	var items []domain.EventRecord
	err := stmt.
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

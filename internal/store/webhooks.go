package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
)

// EnqueueWebhook inserts a pending delivery row, due immediately.
func (s *Store) EnqueueWebhook(ctx context.Context, jobID string, event WebhookEvent, url string, payload datatypes.JSON) (*WebhookDelivery, error) {
	d := &WebhookDelivery{
		ID:            uuid.NewString(),
		JobID:         jobID,
		Event:         event,
		URL:           url,
		Payload:       payload,
		State:         WebhookStatePending,
		NextAttemptAt: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// ClaimDueWebhooks atomically selects up to limit pending deliveries whose
// next_attempt_at has elapsed, ordered by job_id then created_at so
// per-job event ordering is preserved even when the dispatcher has several
// workers pulling concurrently, and marks them as in-flight by bumping
// next_attempt_at past a short lease window (the caller reports the real
// outcome via MarkWebhookResult, which overwrites this).
func (s *Store) ClaimDueWebhooks(ctx context.Context, limit int, lease time.Duration) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 20
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	var claimed []WebhookDelivery
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []WebhookDelivery
		now := time.Now().UTC()
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND next_attempt_at <= ?", WebhookStatePending, now).
			Order("job_id ASC, created_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]string, 0, len(due))
		for _, d := range due {
			ids = append(ids, d.ID)
		}
		leaseUntil := now.Add(lease)
		if err := tx.Model(&WebhookDelivery{}).Where("id IN ?", ids).
			Update("next_attempt_at", leaseUntil).Error; err != nil {
			return err
		}
		for i := range due {
			due[i].NextAttemptAt = leaseUntil
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkWebhookResult records one dispatch attempt's outcome. On success the
// row moves to succeeded. On failure, backoffFn computes the next retry
// time from the post-increment attempt count; once attemptCount reaches
// maxAttempts the row moves to dead_letter instead of rescheduling.
func (s *Store) MarkWebhookResult(ctx context.Context, id string, ok bool, lastErr string, maxAttempts int, backoffFn func(attempt int) time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d WebhookDelivery
		if err := tx.Where("id = ?", id).First(&d).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		attempt := d.AttemptCount + 1

		updates := map[string]any{
			"attempt_count":   attempt,
			"last_attempt_at": now,
			"last_error":      lastErr,
		}
		switch {
		case ok:
			updates["state"] = WebhookStateSucceeded
		case attempt >= maxAttempts:
			updates["state"] = WebhookStateDeadLetter
		default:
			updates["next_attempt_at"] = now.Add(backoffFn(attempt))
		}
		return tx.Model(&WebhookDelivery{}).Where("id = ?", id).Updates(updates).Error
	})
}

// ListDeadLetters returns dead-lettered deliveries for the admin surface.
func (s *Store) ListDeadLetters(ctx context.Context, page Page) ([]WebhookDelivery, int64, error) {
	q := s.db.WithContext(ctx).Model(&WebhookDelivery{}).Where("state = ?", WebhookStateDeadLetter)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := page.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []WebhookDelivery
	if err := q.Order("created_at DESC").Limit(limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// DeleteDeadLetter permanently removes a dead-lettered delivery row.
func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND state = ?", id, WebhookStateDeadLetter).Delete(&WebhookDelivery{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.New(apierr.KindNotFound, "dead letter not found")
	}
	return nil
}

// RequeueDeadLetter resets a dead-lettered delivery back to pending,
// due immediately, for manual operator retry.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("id = ? AND state = ?", id, WebhookStateDeadLetter).
		Updates(map[string]any{
			"state":           WebhookStatePending,
			"next_attempt_at": time.Now().UTC(),
			"attempt_count":   0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.New(apierr.KindNotFound, "dead letter not found")
	}
	return nil
}

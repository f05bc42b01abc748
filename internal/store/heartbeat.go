package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// UpsertHeartbeat writes the singleton worker-heartbeat row. The worker
// calls this on its own independent timer, decoupled from chunk execution,
// so a slow inference call never starves the liveness signal.
func (s *Store) UpsertHeartbeat(ctx context.Context, status HeartbeatStatus, loadedModel string, pid int, startedAt time.Time) error {
	now := time.Now().UTC()
	hb := WorkerHeartbeat{
		ID:              HeartbeatSingletonID,
		LastSeen:        now,
		Status:          status,
		LoadedModel:     loadedModel,
		WorkerPID:       pid,
		WorkerStartedAt: &startedAt,
	}
	if loadedModel != "" {
		hb.ModelLoadedAt = &now
	}

	// On conflict, refresh liveness fields but leave current_job_id alone:
	// that column is only ever written by ClaimNextJob / job finalization.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing WorkerHeartbeat
		err := tx.Where("id = ?", HeartbeatSingletonID).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			return tx.Create(&hb).Error
		case err != nil:
			return err
		default:
			updates := map[string]any{
				"last_seen":    now,
				"status":       status,
				"loaded_model": loadedModel,
				"worker_pid":   pid,
			}
			if startedAt.After(existing.LastSeen.Add(-365 * 24 * time.Hour)) {
				updates["worker_started_at"] = startedAt
			}
			if loadedModel != "" && loadedModel != existing.LoadedModel {
				updates["model_loaded_at"] = now
			}
			return tx.Model(&WorkerHeartbeat{}).Where("id = ?", HeartbeatSingletonID).Updates(updates).Error
		}
	})
}

// ReadHeartbeat returns the singleton heartbeat row, or nil if the worker
// has never reported in (the record is created lazily on first heartbeat).
func (s *Store) ReadHeartbeat(ctx context.Context) (*WorkerHeartbeat, error) {
	var hb WorkerHeartbeat
	err := s.db.WithContext(ctx).Where("id = ?", HeartbeatSingletonID).First(&hb).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

// ClearCurrentJob detaches the heartbeat's current_job_id, called once a
// claimed job reaches a terminal state.
func (s *Store) ClearCurrentJob(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&WorkerHeartbeat{}).
		Where("id = ?", HeartbeatSingletonID).
		Update("current_job_id", nil).Error
}

// SetHeartbeatStatus updates only the status field, used for fast
// idle<->loading<->processing<->draining transitions between full heartbeats.
func (s *Store) SetHeartbeatStatus(ctx context.Context, status HeartbeatStatus) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&WorkerHeartbeat{}).
		Where("id = ?", HeartbeatSingletonID).
		Updates(map[string]any{"status": status, "last_seen": now}).Error
}

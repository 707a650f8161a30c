package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
)

// Checkpoint is a resumable incremental-sync cursor for (user, service,
// entity_type).
type Checkpoint struct {
	LastTimestamp *time.Time
	Cursor        *string
}

// CheckpointStore persists SyncCheckpoint rows, upserted after each
// successful sync batch (§3 lifecycle, §4.J).
type CheckpointStore struct {
	log *log.Logger
}

// NewCheckpointStore builds a CheckpointStore.
func NewCheckpointStore(l *log.Logger) *CheckpointStore {
	return &CheckpointStore{log: l}
}

// GetCheckpoint returns the current checkpoint, or nil if none exists yet.
func (cs *CheckpointStore) GetCheckpoint(ctx context.Context, sess *Session, userID, service, entityType string) (*Checkpoint, error) {
	started := time.Now()
	var lastTimestamp, cursor sql.NullString
	err := sess.exec.QueryRowContext(ctx, `
		SELECT last_timestamp, cursor FROM sync_checkpoints
		WHERE user_id = ? AND service = ? AND entity_type = ? AND is_deleted = 0`,
		userID, service, entityType).Scan(&lastTimestamp, &cursor)
	if err == sql.ErrNoRows {
		logTiming(cs.log, "GetCheckpoint", started, nil)
		return nil, nil
	}
	if err != nil {
		logTiming(cs.log, "GetCheckpoint", started, err)
		return nil, classifyErr(err, "sync_checkpoint")
	}

	out := &Checkpoint{LastTimestamp: nullStringToTime(lastTimestamp)}
	if cursor.Valid {
		out.Cursor = &cursor.String
	}
	logTiming(cs.log, "GetCheckpoint", started, nil)
	return out, nil
}

// SaveCheckpoint upserts the checkpoint for (userID, service, entityType).
func (cs *CheckpointStore) SaveCheckpoint(ctx context.Context, sess *Session, userID, service, entityType string, lastTimestamp *time.Time, cursor *string) error {
	started := time.Now()
	_, err := sess.exec.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (user_id, service, entity_type, last_timestamp, cursor)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, service, entity_type)
		DO UPDATE SET last_timestamp = excluded.last_timestamp, cursor = excluded.cursor, updated_at = ?, is_deleted = 0, deleted_at = NULL`,
		userID, service, entityType, timeToNullString(lastTimestamp), nullString(cursor), nowString())
	logTiming(cs.log, "SaveCheckpoint", started, err)
	return classifyErr(err, "sync_checkpoint")
}

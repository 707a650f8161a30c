package store

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// PlayStore records immutable TrackPlay scrobble events.
type PlayStore struct {
	log *log.Logger
}

// NewPlayStore builds a PlayStore.
func NewPlayStore(l *log.Logger) *PlayStore {
	return &PlayStore{log: l}
}

// RecordPlay inserts one play event. TrackPlay rows are never deduplicated
// by the store; the importing sync service (§4.J) relies on its
// checkpoint cursor to avoid re-importing the same scrobble.
func (ps *PlayStore) RecordPlay(ctx context.Context, sess *Session, trackID int64, service string, playedAt time.Time, msPlayed *int, playContext *string) error {
	started := time.Now()
	_, err := sess.exec.ExecContext(ctx, `
		INSERT INTO track_plays (track_id, service, played_at, ms_played, context)
		VALUES (?, ?, ?, ?, ?)`,
		trackID, service, playedAt.UTC().Format(time.RFC3339Nano), nullInt(msPlayed), nullString(playContext))
	logTiming(ps.log, "RecordPlay", started, err)
	return classifyErr(err, "track_play")
}

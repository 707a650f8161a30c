package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
)

// TrackLike mirrors the track_likes row for service consumers.
type TrackLike struct {
	TrackID    int64
	Service    string
	IsLiked    bool
	LikedAt    *time.Time
	LastSynced *time.Time
}

// LikeStore persists per-service TrackLike preference rows, unique per
// (track_id, service).
type LikeStore struct {
	log *log.Logger
}

// NewLikeStore builds a LikeStore.
func NewLikeStore(l *log.Logger) *LikeStore {
	return &LikeStore{log: l}
}

// SetLike upserts the like state for (trackID, service).
func (ls *LikeStore) SetLike(ctx context.Context, sess *Session, trackID int64, service string, liked bool, likedAt *time.Time) error {
	started := time.Now()
	_, err := sess.exec.ExecContext(ctx, `
		INSERT INTO track_likes (track_id, service, is_liked, liked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (track_id, service)
		DO UPDATE SET is_liked = excluded.is_liked, liked_at = excluded.liked_at, updated_at = ?, is_deleted = 0, deleted_at = NULL`,
		trackID, service, liked, timeToNullString(likedAt), nowString())
	logTiming(ls.log, "SetLike", started, err)
	return classifyErr(err, "track_like")
}

// MarkSynced records that trackID's like on service was observed/written
// at syncedAt (used by the export-loves sync service, §4.J).
func (ls *LikeStore) MarkSynced(ctx context.Context, sess *Session, trackID int64, service string, syncedAt time.Time) error {
	started := time.Now()
	res, err := sess.exec.ExecContext(ctx, `
		UPDATE track_likes SET last_synced = ?, updated_at = ? WHERE track_id = ? AND service = ? AND is_deleted = 0`,
		syncedAt.UTC().Format(time.RFC3339Nano), nowString(), trackID, service)
	if err == nil {
		if n, _ := res.RowsAffected(); n == 0 {
			err = ls.SetLike(ctx, sess, trackID, service, true, &syncedAt)
			if err == nil {
				_, err = sess.exec.ExecContext(ctx, `
		UPDATE track_likes SET last_synced = ? WHERE track_id = ? AND service = ? AND is_deleted = 0`,
					syncedAt.UTC().Format(time.RFC3339Nano), trackID, service)
			}
		}
	}
	logTiming(ls.log, "MarkSynced", started, err)
	return classifyErr(err, "track_like")
}

// UnsyncedLove is a canonical like that has not yet been pushed to target.
type UnsyncedLove struct {
	TrackID int64
	LikedAt *time.Time
}

// GetUnsyncedLoves returns canonical-service likes (is_liked=true) that
// have no corresponding synced row for target, optionally only those liked
// since a checkpoint timestamp (§4.J "Export loves to Last.fm").
func (ls *LikeStore) GetUnsyncedLoves(ctx context.Context, sess *Session, source, target string, since *time.Time) ([]UnsyncedLove, error) {
	started := time.Now()
	q := `
		SELECT l.track_id, l.liked_at FROM track_likes l
		WHERE l.service = ? AND l.is_liked = 1 AND l.is_deleted = 0
		AND NOT EXISTS (
			SELECT 1 FROM track_likes t2
			WHERE t2.track_id = l.track_id AND t2.service = ? AND t2.is_deleted = 0 AND t2.last_synced IS NOT NULL
		)`
	args := []any{source, target}
	if since != nil {
		q += " AND (l.liked_at IS NULL OR l.liked_at >= ?)"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}

	rows, err := sess.exec.QueryContext(ctx, q, args...)
	if err != nil {
		logTiming(ls.log, "GetUnsyncedLoves", started, err)
		return nil, classifyErr(err, "track_likes")
	}
	defer rows.Close()

	var out []UnsyncedLove
	for rows.Next() {
		var trackID int64
		var likedAt sql.NullString
		if err := rows.Scan(&trackID, &likedAt); err != nil {
			return nil, classifyErr(err, "track_likes")
		}
		out = append(out, UnsyncedLove{TrackID: trackID, LikedAt: nullStringToTime(likedAt)})
	}

	err = rows.Err()
	logTiming(ls.log, "GetUnsyncedLoves", started, err)
	return out, err
}

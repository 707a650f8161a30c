// package sync ports the like/play synchronization services (§4.J): moving
// liked tracks and scrobble history between connectors and the canonical
// store, each resumable via a per-(user, service, entity) checkpoint.
package sync

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/store"
)

// SyncStats tallies the outcome of one sync run, mirroring the original's
// per-run counters.
type SyncStats struct {
	Imported int
	Exported int
	Skipped  int
	Errors   int
	Total    int
}

// Phase identifies which part of a sync run a ProgressUpdate describes.
type Phase string

const (
	PhaseFetch      Phase = "fetch"
	PhaseImport     Phase = "import"
	PhaseExport     Phase = "export"
	PhaseCheckpoint Phase = "checkpoint"
)

// ProgressUpdate reports incremental sync progress, grounded on the
// teacher's tasks.ProgressUpdate.
type ProgressUpdate struct {
	Phase   Phase
	Step    int
	Total   int
	Message string
}

// sendProgress never blocks the sync loop on a slow or absent consumer,
// following the teacher's PlaylistEngine.sendProgress.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Deps bundles the persistence dependencies every sync operation shares.
type Deps struct {
	Store       *store.Store
	Tracks      *store.TrackStore
	Likes       *store.LikeStore
	Plays       *store.PlayStore
	Checkpoints *store.CheckpointStore
	Log         *log.Logger
}

const (
	entityLikes = "likes"
	entityPlays = "plays"
)

// LikedTrack is one entry in a liked-tracks page, the canonical track plus
// the timestamp it was liked at.
type LikedTrack struct {
	Track   domain.Track
	LikedAt time.Time
}

// LikedTracksPage is one page of a cursor-paginated liked-tracks listing.
type LikedTracksPage struct {
	Tracks     []LikedTrack
	NextCursor *string
}

// LikedTracksSource fetches a user's liked tracks from a connector, paged
// by an opaque cursor. Spotify's liked-tracks endpoint needs a
// user-authorized token (user-library-read), which this module's
// client-credentials-only Connector cannot obtain (see DESIGN.md); this
// interface lets the import logic be written and tested against that
// eventual source without depending on the concrete connector.
type LikedTracksSource interface {
	GetLikedTracks(ctx context.Context, cursor *string, limit int) (LikedTracksPage, error)
}

// ImportLikedTracks pages through source's liked tracks, upserting each as
// a canonical track and recording a like for both the originating service
// and "narada", resuming from the (userID, service, "likes") checkpoint
// and persisting progress after every page (ported from
// like_sync.import_spotify_likes).
func ImportLikedTracks(ctx context.Context, deps Deps, source LikedTracksSource, userID, service string, maxImports *int, progress chan<- ProgressUpdate) (SyncStats, error) {
	stats := SyncStats{}

	checkpoint, err := deps.Checkpoints.GetCheckpoint(ctx, deps.Store.ReadSession(), userID, service, entityLikes)
	if err != nil {
		return stats, err
	}
	var cursor *string
	if checkpoint != nil {
		cursor = checkpoint.Cursor
	}

	for {
		sendProgress(progress, ProgressUpdate{Phase: PhaseFetch, Message: "fetching liked tracks page"})
		page, err := source.GetLikedTracks(ctx, cursor, 50)
		if err != nil {
			return stats, err
		}

		var lastLikedAt *time.Time
		err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
			for _, lt := range page.Tracks {
				if maxImports != nil && stats.Imported >= *maxImports {
					return nil
				}
				stats.Total++

				saved, err := deps.Tracks.SaveTrack(ctx, sess, lt.Track)
				if err != nil {
					stats.Errors++
					deps.Log.Warn("sync: failed to save liked track", "title", lt.Track.Title, "error", err)
					continue
				}
				if saved.ID == nil {
					stats.Errors++
					continue
				}

				likedAt := lt.LikedAt
				if err := deps.Likes.SetLike(ctx, sess, *saved.ID, service, true, &likedAt); err != nil {
					stats.Errors++
					continue
				}
				if err := deps.Likes.SetLike(ctx, sess, *saved.ID, "narada", true, &likedAt); err != nil {
					stats.Errors++
					continue
				}
				if err := deps.Likes.MarkSynced(ctx, sess, *saved.ID, service, time.Now().UTC()); err != nil {
					stats.Errors++
					continue
				}

				stats.Imported++
				if lastLikedAt == nil || likedAt.After(*lastLikedAt) {
					lastLikedAt = &likedAt
				}
			}
			return deps.Checkpoints.SaveCheckpoint(ctx, sess, userID, service, entityLikes, lastLikedAt, page.NextCursor)
		})
		if err != nil {
			return stats, err
		}

		sendProgress(progress, ProgressUpdate{Phase: PhaseCheckpoint, Step: stats.Imported, Total: stats.Total, Message: "checkpoint saved"})

		cursor = page.NextCursor
		if cursor == nil || len(page.Tracks) == 0 {
			break
		}
		if maxImports != nil && stats.Imported >= *maxImports {
			break
		}
	}

	return stats, nil
}

// LastFMLoveClient is the subset of the Last.fm connector this service
// drives (narrowed the way matcher.LastFMClient narrows its connector).
type LastFMLoveClient interface {
	LoveTrack(ctx context.Context, artist, title, sessionKey string) error
}

// ExportLovesToLastFM pushes canonical likes not yet synced to Last.fm,
// incrementally by the (userID, "lastfm", "likes") checkpoint timestamp
// (ported from like_sync.export_likes_to_lastfm).
func ExportLovesToLastFM(ctx context.Context, deps Deps, lastfm LastFMLoveClient, userID, sessionKey string, maxExports *int, progress chan<- ProgressUpdate) (SyncStats, error) {
	stats := SyncStats{}

	checkpoint, err := deps.Checkpoints.GetCheckpoint(ctx, deps.Store.ReadSession(), userID, "lastfm", entityLikes)
	if err != nil {
		return stats, err
	}
	var since *time.Time
	if checkpoint != nil {
		since = checkpoint.LastTimestamp
	}

	loves, err := deps.Likes.GetUnsyncedLoves(ctx, deps.Store.ReadSession(), "narada", "lastfm", since)
	if err != nil {
		return stats, err
	}
	stats.Total = len(loves)

	var lastSyncedAt *time.Time
	for i, love := range loves {
		if maxExports != nil && stats.Exported >= *maxExports {
			break
		}

		sendProgress(progress, ProgressUpdate{Phase: PhaseExport, Step: i + 1, Total: stats.Total, Message: "loving track on last.fm"})

		err := deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
			track, err := deps.Tracks.GetTrackByID(ctx, sess, love.TrackID)
			if err != nil {
				return err
			}
			if len(track.Artists) == 0 {
				stats.Skipped++
				return nil
			}

			if err := lastfm.LoveTrack(ctx, track.Artists[0].Name, track.Title, sessionKey); err != nil {
				stats.Errors++
				deps.Log.Warn("sync: failed to love track on last.fm", "title", track.Title, "error", err)
				return nil
			}

			syncedAt := time.Now().UTC()
			if err := deps.Likes.MarkSynced(ctx, sess, love.TrackID, "lastfm", syncedAt); err != nil {
				return err
			}
			stats.Exported++
			if love.LikedAt != nil && (lastSyncedAt == nil || love.LikedAt.After(*lastSyncedAt)) {
				lastSyncedAt = love.LikedAt
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}

	if lastSyncedAt != nil {
		if err := deps.Checkpoints.SaveCheckpoint(ctx, deps.Store.ReadSession(), userID, "lastfm", entityLikes, lastSyncedAt, nil); err != nil {
			return stats, err
		}
		sendProgress(progress, ProgressUpdate{Phase: PhaseCheckpoint, Message: "checkpoint saved"})
	}

	return stats, nil
}

// RecentTracksClient is the subset of the Last.fm connector this service
// drives to import scrobble history.
type RecentTracksClient interface {
	RecentTracks(ctx context.Context, user string, from, to *time.Time, page, limit int) (RecentTracksPage, error)
}

// RecentTracksPage mirrors lastfm.RecentTracksPage without importing the
// connector package, so this service stays connector-agnostic.
type RecentTracksPage struct {
	Tracks     []RecentScrobble
	NextPage   int
	TotalPages int
}

// RecentScrobble is one played track as scrobbled to Last.fm.
type RecentScrobble struct {
	Artist   string
	Title    string
	PlayedAt time.Time
}

// ImportPlayHistory pages a user's Last.fm scrobbles from one second after
// the (userID, "lastfm", "plays") checkpoint's timestamp, so the
// checkpointed scrobble itself is not fetched again, and records each as a
// TrackPlay against
// its matched or newly-created canonical track (ported from the scrobble
// side of like_sync's incremental-import pattern; there is no
// import_play_history in the original, this generalizes
// import_spotify_likes's checkpoint loop to plays).
func ImportPlayHistory(ctx context.Context, deps Deps, lastfm RecentTracksClient, userID string, progress chan<- ProgressUpdate) (SyncStats, error) {
	stats := SyncStats{}

	checkpoint, err := deps.Checkpoints.GetCheckpoint(ctx, deps.Store.ReadSession(), userID, "lastfm", entityPlays)
	if err != nil {
		return stats, err
	}
	var since *time.Time
	if checkpoint != nil && checkpoint.LastTimestamp != nil {
		from := checkpoint.LastTimestamp.Add(time.Second)
		since = &from
	}

	var latest *time.Time
	page := 1
	for {
		sendProgress(progress, ProgressUpdate{Phase: PhaseFetch, Step: page, Message: "fetching scrobbles"})
		result, err := lastfm.RecentTracks(ctx, userID, since, nil, page, 200)
		if err != nil {
			return stats, err
		}

		err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
			for _, scrobble := range result.Tracks {
				stats.Total++
				artist, err := domain.NewArtist(scrobble.Artist)
				if err != nil {
					stats.Skipped++
					continue
				}
				track, err := domain.NewTrack(scrobble.Title, []domain.Artist{artist})
				if err != nil {
					stats.Skipped++
					continue
				}

				saved, err := deps.Tracks.SaveTrack(ctx, sess, track)
				if err != nil || saved.ID == nil {
					stats.Errors++
					continue
				}

				if err := deps.Plays.RecordPlay(ctx, sess, *saved.ID, "lastfm", scrobble.PlayedAt, nil, nil); err != nil {
					stats.Errors++
					continue
				}
				stats.Imported++
				if latest == nil || scrobble.PlayedAt.After(*latest) {
					latest = &scrobble.PlayedAt
				}
			}
			return nil
		})
		if err != nil {
			return stats, err
		}

		sendProgress(progress, ProgressUpdate{Phase: PhaseImport, Step: stats.Imported, Total: stats.Total, Message: "imported scrobbles"})

		if result.NextPage == 0 || result.NextPage > result.TotalPages {
			break
		}
		page = result.NextPage
	}

	if latest != nil {
		if err := deps.Checkpoints.SaveCheckpoint(ctx, deps.Store.ReadSession(), userID, "lastfm", entityPlays, latest, nil); err != nil {
			return stats, err
		}
		sendProgress(progress, ProgressUpdate{Phase: PhaseCheckpoint, Message: "checkpoint saved"})
	}

	return stats, nil
}

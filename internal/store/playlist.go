package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
)

// PlaylistStore persists Playlist rows together with their
// PlaylistMapping (connector identity) and PlaylistTrack (ordering) rows.
type PlaylistStore struct {
	log      *log.Logger
	tracks   *TrackStore
	connTrks *ConnectorTrackStore
}

// NewPlaylistStore builds a PlaylistStore.
func NewPlaylistStore(l *log.Logger, tracks *TrackStore, connTrks *ConnectorTrackStore) *PlaylistStore {
	return &PlaylistStore{log: l, tracks: tracks, connTrks: connTrks}
}

// sortKey renders the lexicographically sortable key for index (§3
// PlaylistTrack: "a" + zero-padded-8-digit index).
func sortKey(index int) string {
	return fmt.Sprintf("a%08d", index)
}

// persistTrack saves a track lacking an id, preferring IngestExternalTrack
// when sourceConnector names a connector the track already carries an id
// for (per §4.B "Playlist persistence").
func (ps *PlaylistStore) persistTrack(ctx context.Context, sess *Session, t domain.Track, sourceConnector *string) (domain.Track, error) {
	if t.ID != nil {
		return t, nil
	}
	if sourceConnector != nil {
		if connectorID, ok := t.ConnectorTrackIDs[*sourceConnector]; ok {
			meta := t.ConnectorMetadata[*sourceConnector]
			opts := []domain.TrackOption{}
			if t.Album != nil {
				opts = append(opts, domain.WithAlbum(*t.Album))
			}
			if t.DurationMS != nil {
				opts = append(opts, domain.WithDurationMS(*t.DurationMS))
			}
			if t.ISRC != nil {
				opts = append(opts, domain.WithISRC(*t.ISRC))
			}
			if t.ReleaseDate != nil {
				opts = append(opts, domain.WithInitialReleaseDate(*t.ReleaseDate))
			}
			return ps.connTrks.IngestExternalTrack(ctx, sess, *sourceConnector, connectorID, meta, t.Title, t.Artists, opts...)
		}
	}
	return ps.tracks.SaveTrack(ctx, sess, t)
}

// SavePlaylist persists playlist, its tracks (filling in any missing
// ids), its PlaylistMapping rows, and its PlaylistTrack ordering rows, all
// within the caller's Session/transaction (§4.B "Playlist persistence").
// sourceConnector, if given, names the connector tracks should be ingested
// from when they lack a canonical id.
func (ps *PlaylistStore) SavePlaylist(ctx context.Context, sess *Session, p domain.Playlist, sourceConnector *string) (domain.Playlist, error) {
	started := time.Now()

	tracks := make([]domain.Track, len(p.Tracks))
	for i, t := range p.Tracks {
		saved, err := ps.persistTrack(ctx, sess, t, sourceConnector)
		if err != nil {
			logTiming(ps.log, "SavePlaylist.persistTrack", started, err)
			return domain.Playlist{}, err
		}
		tracks[i] = saved
	}

	var desc sql.NullString
	if p.Description != nil {
		desc = sql.NullString{String: *p.Description, Valid: true}
	}
	res, err := sess.exec.ExecContext(ctx, `INSERT INTO playlists (name, description) VALUES (?, ?)`, p.Name, desc)
	if err != nil {
		logTiming(ps.log, "SavePlaylist.insert", started, err)
		return domain.Playlist{}, classifyErr(err, "playlist")
	}
	playlistID, err := res.LastInsertId()
	if err != nil {
		return domain.Playlist{}, fmt.Errorf("%w: reading inserted playlist id: %v", shared.ErrTransaction, err)
	}

	for connector, connectorPlaylistID := range p.ConnectorPlaylistIDs {
		if _, err := sess.exec.ExecContext(ctx,
			`INSERT INTO playlist_mappings (playlist_id, connector_name, connector_playlist_id) VALUES (?, ?, ?)`,
			playlistID, connector, connectorPlaylistID); err != nil {
			logTiming(ps.log, "SavePlaylist.mapping", started, err)
			return domain.Playlist{}, classifyErr(err, "playlist_mapping")
		}
	}

	for i, t := range tracks {
		if t.ID == nil {
			return domain.Playlist{}, fmt.Errorf("%w: track %q has no id after persistence", shared.ErrDependency, t.Title)
		}
		if _, err := sess.exec.ExecContext(ctx,
			`INSERT INTO playlist_tracks (playlist_id, track_id, sort_key) VALUES (?, ?, ?)`,
			playlistID, *t.ID, sortKey(i)); err != nil {
			logTiming(ps.log, "SavePlaylist.track", started, err)
			return domain.Playlist{}, classifyErr(err, "playlist_track")
		}
	}

	out := p.WithTracks(tracks).WithID(playlistID)
	logTiming(ps.log, "SavePlaylist", started, nil)
	return out, nil
}

// GetPlaylist assembles a Playlist from its persisted rows, ordering
// tracks by sort_key ascending among non-deleted playlist_tracks rows
// (Invariant 6).
func (ps *PlaylistStore) GetPlaylist(ctx context.Context, sess *Session, id int64) (domain.Playlist, error) {
	started := time.Now()

	var name string
	var desc sql.NullString
	err := sess.exec.QueryRowContext(ctx, `SELECT name, description FROM playlists WHERE id = ? AND is_deleted = 0`, id).Scan(&name, &desc)
	if err != nil {
		logTiming(ps.log, "GetPlaylist", started, err)
		return domain.Playlist{}, classifyErr(err, fmt.Sprintf("playlist id %d", id))
	}

	p := domain.NewPlaylist(name, nil)
	if desc.Valid {
		p.Description = &desc.String
	}

	mapRows, err := sess.exec.QueryContext(ctx, `SELECT connector_name, connector_playlist_id FROM playlist_mappings WHERE playlist_id = ? AND is_deleted = 0`, id)
	if err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist_mappings")
	}
	for mapRows.Next() {
		var connector, connectorID string
		if err := mapRows.Scan(&connector, &connectorID); err != nil {
			mapRows.Close()
			return domain.Playlist{}, classifyErr(err, "playlist_mappings")
		}
		p = p.WithConnectorPlaylistID(connector, connectorID)
	}
	mapRows.Close()
	if err := mapRows.Err(); err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist_mappings")
	}

	trackRows, err := sess.exec.QueryContext(ctx, `SELECT track_id FROM playlist_tracks WHERE playlist_id = ? AND is_deleted = 0 ORDER BY sort_key ASC`, id)
	if err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist_tracks")
	}
	var trackIDs []int64
	for trackRows.Next() {
		var tid int64
		if err := trackRows.Scan(&tid); err != nil {
			trackRows.Close()
			return domain.Playlist{}, classifyErr(err, "playlist_tracks")
		}
		trackIDs = append(trackIDs, tid)
	}
	trackRows.Close()
	if err := trackRows.Err(); err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist_tracks")
	}

	byID, err := ps.tracks.GetTracksByIDs(ctx, sess, trackIDs)
	if err != nil {
		return domain.Playlist{}, err
	}
	ordered := make([]domain.Track, 0, len(trackIDs))
	for _, tid := range trackIDs {
		if t, ok := byID[tid]; ok {
			ordered = append(ordered, t)
		}
	}
	p = p.WithTracks(ordered).WithID(id)

	logTiming(ps.log, "GetPlaylist", started, nil)
	return p, nil
}

// GetPlaylistByConnector looks up a playlist by its PlaylistMapping
// (connector, connectorPlaylistID), returning (nil, nil) if no mapping
// exists, so callers can branch between SavePlaylist and UpdatePlaylist on
// re-ingestion (§4.B "Playlist persistence").
func (ps *PlaylistStore) GetPlaylistByConnector(ctx context.Context, sess *Session, connector, connectorPlaylistID string) (*domain.Playlist, error) {
	started := time.Now()

	var playlistID int64
	err := sess.exec.QueryRowContext(ctx, `
		SELECT playlist_id FROM playlist_mappings
		WHERE connector_name = ? AND connector_playlist_id = ? AND is_deleted = 0`,
		connector, connectorPlaylistID).Scan(&playlistID)
	if err == sql.ErrNoRows {
		logTiming(ps.log, "GetPlaylistByConnector", started, nil)
		return nil, nil
	}
	if err != nil {
		logTiming(ps.log, "GetPlaylistByConnector", started, err)
		return nil, classifyErr(err, "playlist_mapping")
	}

	p, err := ps.GetPlaylist(ctx, sess, playlistID)
	if err != nil {
		return nil, err
	}
	logTiming(ps.log, "GetPlaylistByConnector", started, nil)
	return &p, nil
}

// UpdatePlaylist diffs incoming against the currently persisted tracks by
// track id: kept tracks get their sort_key updated if their position
// changed, new tracks are inserted, removed tracks are soft-deleted, and
// ConnectorPlaylistID mappings are upserted (§4.B "update_playlist").
func (ps *PlaylistStore) UpdatePlaylist(ctx context.Context, sess *Session, id int64, incoming domain.Playlist, sourceConnector *string) (domain.Playlist, error) {
	started := time.Now()

	tracks := make([]domain.Track, len(incoming.Tracks))
	for i, t := range incoming.Tracks {
		saved, err := ps.persistTrack(ctx, sess, t, sourceConnector)
		if err != nil {
			return domain.Playlist{}, err
		}
		tracks[i] = saved
	}

	rows, err := sess.exec.QueryContext(ctx, `SELECT id, track_id, sort_key FROM playlist_tracks WHERE playlist_id = ? AND is_deleted = 0`, id)
	if err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist_tracks")
	}
	type existingRow struct {
		rowID, trackID int64
		sortKey        string
	}
	existing := map[int64]existingRow{}
	for rows.Next() {
		var er existingRow
		if err := rows.Scan(&er.rowID, &er.trackID, &er.sortKey); err != nil {
			rows.Close()
			return domain.Playlist{}, classifyErr(err, "playlist_tracks")
		}
		existing[er.trackID] = er
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist_tracks")
	}

	seen := map[int64]bool{}
	for i, t := range tracks {
		if t.ID == nil {
			return domain.Playlist{}, fmt.Errorf("%w: track %q has no id after persistence", shared.ErrDependency, t.Title)
		}
		tid := *t.ID
		seen[tid] = true
		want := sortKey(i)

		if er, ok := existing[tid]; ok {
			if er.sortKey != want {
				if _, err := sess.exec.ExecContext(ctx, `UPDATE playlist_tracks SET sort_key = ?, updated_at = ? WHERE id = ?`, want, nowString(), er.rowID); err != nil {
					return domain.Playlist{}, classifyErr(err, "playlist_track")
				}
			}
			continue
		}

		if _, err := sess.exec.ExecContext(ctx, `INSERT INTO playlist_tracks (playlist_id, track_id, sort_key) VALUES (?, ?, ?)`, id, tid, want); err != nil {
			return domain.Playlist{}, classifyErr(err, "playlist_track")
		}
	}

	for tid, er := range existing {
		if !seen[tid] {
			if err := softDelete(ctx, sess.exec, "playlist_tracks", er.rowID); err != nil {
				return domain.Playlist{}, err
			}
		}
	}

	for connector, connectorPlaylistID := range incoming.ConnectorPlaylistIDs {
		if _, err := sess.exec.ExecContext(ctx, `
			INSERT INTO playlist_mappings (playlist_id, connector_name, connector_playlist_id) VALUES (?, ?, ?)
			ON CONFLICT (playlist_id, connector_name)
			DO UPDATE SET connector_playlist_id = excluded.connector_playlist_id, updated_at = ?, is_deleted = 0, deleted_at = NULL`,
			id, connector, connectorPlaylistID, nowString()); err != nil {
			return domain.Playlist{}, classifyErr(err, "playlist_mapping")
		}
	}

	if _, err := sess.exec.ExecContext(ctx, `UPDATE playlists SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		incoming.Name, nullString(incoming.Description), nowString(), id); err != nil {
		return domain.Playlist{}, classifyErr(err, "playlist")
	}

	out, err := ps.GetPlaylist(ctx, sess, id)
	logTiming(ps.log, "UpdatePlaylist", started, err)
	return out, err
}

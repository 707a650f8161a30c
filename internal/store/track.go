package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
)

// TrackStore persists canonical tracks, implementing Invariant 2's
// precedence-based identity lookup (id -> isrc -> spotify_id -> mbid) so a
// canonical Track is never duplicated.
type TrackStore struct {
	log *log.Logger
}

// NewTrackStore builds a TrackStore.
func NewTrackStore(l *log.Logger) *TrackStore {
	return &TrackStore{log: l}
}

func artistsToJSON(artists []domain.Artist) (string, error) {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	b, err := json.Marshal(names)
	return string(b), err
}

func artistsFromJSON(raw string) ([]domain.Artist, error) {
	var names []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, err
		}
	}
	artists := make([]domain.Artist, 0, len(names))
	for _, n := range names {
		a, err := domain.NewArtist(n)
		if err != nil {
			continue
		}
		artists = append(artists, a)
	}
	return artists, nil
}

type trackRow struct {
	id          int64
	title       string
	artists     string
	album       sql.NullString
	durationMS  sql.NullInt64
	releaseDate sql.NullString
	isrc        sql.NullString
	spotifyID   sql.NullString
	mbid        sql.NullString
}

func scanTrackRow(row interface{ Scan(dest ...any) error }) (trackRow, error) {
	var r trackRow
	err := row.Scan(&r.id, &r.title, &r.artists, &r.album, &r.durationMS, &r.releaseDate, &r.isrc, &r.spotifyID, &r.mbid)
	return r, err
}

func (r trackRow) toDomain() (domain.Track, error) {
	artists, err := artistsFromJSON(r.artists)
	if err != nil {
		return domain.Track{}, err
	}
	if len(artists) == 0 {
		artists = []domain.Artist{{Name: "Unknown Artist"}}
	}

	opts := []domain.TrackOption{}
	if r.durationMS.Valid {
		opts = append(opts, domain.WithDurationMS(int(r.durationMS.Int64)))
	}
	if r.isrc.Valid {
		opts = append(opts, domain.WithISRC(r.isrc.String))
	}
	if r.album.Valid {
		opts = append(opts, domain.WithAlbum(r.album.String))
	}
	if r.releaseDate.Valid {
		if t, err := time.Parse(time.RFC3339Nano, r.releaseDate.String); err == nil {
			opts = append(opts, domain.WithInitialReleaseDate(t))
		}
	}

	t, err := domain.NewTrack(r.title, artists, opts...)
	if err != nil {
		return domain.Track{}, err
	}

	t = t.WithID(r.id)
	t = t.WithConnectorTrackID("db", fmt.Sprintf("%d", r.id))
	if r.spotifyID.Valid {
		t = t.WithConnectorTrackID("spotify", r.spotifyID.String)
	}
	if r.mbid.Valid {
		t = t.WithConnectorTrackID("mbid", r.mbid.String)
	}
	return t, nil
}

const trackColumns = "id, title, artists, album, duration_ms, release_date, isrc, spotify_id, mbid"

// findTrackByPrecedence implements Invariant 2: id -> isrc -> spotify_id ->
// mbid, in that order, returning the first active match.
func findTrackByPrecedence(ctx context.Context, exec execer, t domain.Track) (*trackRow, error) {
	if t.ID != nil {
		row, err := lookupTrack(ctx, exec, "id = ?", *t.ID)
		if row != nil || err != nil {
			return row, err
		}
	}
	if t.ISRC != nil && *t.ISRC != "" {
		row, err := lookupTrack(ctx, exec, "isrc = ?", *t.ISRC)
		if row != nil || err != nil {
			return row, err
		}
	}
	if spotifyID, ok := t.ConnectorTrackIDs["spotify"]; ok && spotifyID != "" {
		row, err := lookupTrack(ctx, exec, "spotify_id = ?", spotifyID)
		if row != nil || err != nil {
			return row, err
		}
	}
	if mbid, ok := t.ConnectorTrackIDs["mbid"]; ok && mbid != "" {
		row, err := lookupTrack(ctx, exec, "mbid = ?", mbid)
		if row != nil || err != nil {
			return row, err
		}
	}
	return nil, nil
}

func lookupTrack(ctx context.Context, exec execer, where string, arg any) (*trackRow, error) {
	q := fmt.Sprintf("SELECT %s FROM tracks WHERE is_deleted = 0 AND %s LIMIT 1", trackColumns, where)
	row, err := scanTrackRow(exec.QueryRowContext(ctx, q, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, classifyErr(err, "track")
	}
	return &row, nil
}

// SaveTrack implements the §4.B precedence-based lookup: if an existing
// track matches by id/isrc/spotify_id/mbid, missing scalar fields
// (release_date, duration_ms, album, isrc) are filled in but never
// overwritten, and the bound track is returned; otherwise a new canonical
// track row is created. SaveTrack never creates TrackMapping rows — those
// are created by higher-level ingestion paths to preserve match_method
// honesty (§4.B).
func (ts *TrackStore) SaveTrack(ctx context.Context, sess *Session, t domain.Track) (domain.Track, error) {
	started := time.Now()
	existing, err := findTrackByPrecedence(ctx, sess.exec, t)
	if err != nil {
		logTiming(ts.log, "SaveTrack.lookup", started, err)
		return domain.Track{}, err
	}

	if existing != nil {
		merged, err := ts.fillMissing(ctx, sess, *existing, t)
		logTiming(ts.log, "SaveTrack.update", started, err)
		return merged, err
	}

	out, err := ts.insertTrack(ctx, sess, t)
	logTiming(ts.log, "SaveTrack.insert", started, err)
	return out, err
}

func (ts *TrackStore) insertTrack(ctx context.Context, sess *Session, t domain.Track) (domain.Track, error) {
	artistsJSON, err := artistsToJSON(t.Artists)
	if err != nil {
		return domain.Track{}, fmt.Errorf("%w: marshaling artists: %v", shared.ErrValidation, err)
	}

	var spotifyID, mbid *string
	if v, ok := t.ConnectorTrackIDs["spotify"]; ok {
		spotifyID = &v
	}
	if v, ok := t.ConnectorTrackIDs["mbid"]; ok {
		mbid = &v
	}

	res, err := sess.exec.ExecContext(ctx,
		`INSERT INTO tracks (title, artists, album, duration_ms, release_date, isrc, spotify_id, mbid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, artistsJSON, nullString(t.Album), nullInt(t.DurationMS), timeToNullString(t.ReleaseDate), nullString(t.ISRC), nullString(spotifyID), nullString(mbid))
	if err != nil {
		return domain.Track{}, classifyErr(err, "track")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Track{}, fmt.Errorf("%w: reading inserted track id: %v", shared.ErrTransaction, err)
	}

	out := t.WithID(id).WithConnectorTrackID("db", fmt.Sprintf("%d", id))
	return out, nil
}

// fillMissing updates existing's NULL scalar fields from incoming and
// returns the merged canonical track, bound to existing's id.
func (ts *TrackStore) fillMissing(ctx context.Context, sess *Session, existing trackRow, incoming domain.Track) (domain.Track, error) {
	album := existing.album
	if !album.Valid && incoming.Album != nil {
		album = sql.NullString{String: *incoming.Album, Valid: true}
	}
	duration := existing.durationMS
	if !duration.Valid && incoming.DurationMS != nil {
		duration = sql.NullInt64{Int64: int64(*incoming.DurationMS), Valid: true}
	}
	release := existing.releaseDate
	if !release.Valid && incoming.ReleaseDate != nil {
		release = timeToNullString(incoming.ReleaseDate)
	}
	isrc := existing.isrc
	if !isrc.Valid && incoming.ISRC != nil {
		isrc = sql.NullString{String: *incoming.ISRC, Valid: true}
	}
	spotifyID := existing.spotifyID
	if !spotifyID.Valid {
		if v, ok := incoming.ConnectorTrackIDs["spotify"]; ok {
			spotifyID = sql.NullString{String: v, Valid: true}
		}
	}
	mbid := existing.mbid
	if !mbid.Valid {
		if v, ok := incoming.ConnectorTrackIDs["mbid"]; ok {
			mbid = sql.NullString{String: v, Valid: true}
		}
	}

	_, err := sess.exec.ExecContext(ctx,
		`UPDATE tracks SET album = ?, duration_ms = ?, release_date = ?, isrc = ?, spotify_id = ?, mbid = ?, updated_at = ?
		 WHERE id = ?`,
		album, duration, release, isrc, spotifyID, mbid, nowString(), existing.id)
	if err != nil {
		return domain.Track{}, classifyErr(err, "track")
	}

	existing.album, existing.durationMS, existing.releaseDate = album, duration, release
	existing.isrc, existing.spotifyID, existing.mbid = isrc, spotifyID, mbid
	return existing.toDomain()
}

// GetTrackByID fetches a single active canonical track.
func (ts *TrackStore) GetTrackByID(ctx context.Context, sess *Session, id int64) (domain.Track, error) {
	row, err := lookupTrack(ctx, sess.exec, "id = ?", id)
	if err != nil {
		return domain.Track{}, err
	}
	if row == nil {
		return domain.Track{}, fmt.Errorf("%w: track id %d", shared.ErrNotFound, id)
	}
	return row.toDomain()
}

// GetTracksByIDs fetches many active canonical tracks, keyed by id.
func (ts *TrackStore) GetTracksByIDs(ctx context.Context, sess *Session, ids []int64) (map[int64]domain.Track, error) {
	out := make(map[int64]domain.Track, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := placeholdersFor(ids)
	q := fmt.Sprintf("SELECT %s FROM tracks WHERE is_deleted = 0 AND id IN (%s)", trackColumns, placeholders)
	rows, err := sess.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classifyErr(err, "tracks")
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanTrackRow(rows)
		if err != nil {
			return nil, classifyErr(err, "tracks")
		}
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[r.id] = t
	}
	return out, rows.Err()
}

// placeholdersFor builds a "?, ?, ..." placeholder list sized to values,
// plus the matching args slice, for variadic IN(...) queries.
func placeholdersFor[T any](values []T) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

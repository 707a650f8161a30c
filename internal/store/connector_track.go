package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
)

// ConnectorTrackStore implements the two entry points that create
// TrackMapping rows: IngestExternalTrack (direct ingest from a source
// connector) and MapTrackToConnector (cross-resolution). Keeping both in
// one place is what lets Invariant 3 (match_method is never rewritten) be
// enforced in a single spot.
type ConnectorTrackStore struct {
	log    *log.Logger
	tracks *TrackStore
}

// NewConnectorTrackStore builds a ConnectorTrackStore.
func NewConnectorTrackStore(l *log.Logger, tracks *TrackStore) *ConnectorTrackStore {
	return &ConnectorTrackStore{log: l, tracks: tracks}
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	out := map[string]any{}
	if !ns.Valid || ns.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// findOrCreateConnectorTrack returns the active connector_tracks.id for
// (connector, connectorID), refreshing last_updated (and raw_metadata, when
// metadata is non-empty) if the row already exists, or inserting a new one.
func (cs *ConnectorTrackStore) findOrCreateConnectorTrack(ctx context.Context, sess *Session, connector, connectorID string, metadata map[string]any) (int64, error) {
	var id int64
	err := sess.exec.QueryRowContext(ctx,
		`SELECT id FROM connector_tracks WHERE connector_name = ? AND connector_track_id = ? AND is_deleted = 0`,
		connector, connectorID).Scan(&id)

	metaJSON, merr := marshalMap(metadata)
	if merr != nil {
		return 0, fmt.Errorf("%w: marshaling raw metadata: %v", shared.ErrValidation, merr)
	}

	if err == nil {
		q := `UPDATE connector_tracks SET raw_metadata = ?, last_updated = ?, updated_at = ? WHERE id = ?`
		args := []any{metaJSON, nowString(), nowString(), id}
		if !metaJSON.Valid {
			q = `UPDATE connector_tracks SET last_updated = ?, updated_at = ? WHERE id = ?`
			args = args[1:]
		}
		_, uerr := sess.exec.ExecContext(ctx, q, args...)
		if uerr != nil {
			return 0, classifyErr(uerr, "connector_track")
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, classifyErr(err, "connector_track")
	}

	res, err := sess.exec.ExecContext(ctx,
		`INSERT INTO connector_tracks (connector_name, connector_track_id, raw_metadata, last_updated) VALUES (?, ?, ?, ?)`,
		connector, connectorID, metaJSON, nowString())
	if err != nil {
		return 0, classifyErr(err, "connector_track")
	}
	return res.LastInsertId()
}

func (cs *ConnectorTrackStore) mappingExists(ctx context.Context, sess *Session, trackID, connectorTrackID int64) (bool, error) {
	var id int64
	err := sess.exec.QueryRowContext(ctx,
		`SELECT id FROM track_mappings WHERE track_id = ? AND connector_track_id = ? AND is_deleted = 0`,
		trackID, connectorTrackID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classifyErr(err, "track_mapping")
	}
	return true, nil
}

// IngestExternalTrack is the single entry point for source ingestion
// (§4.B): it finds-or-creates the ConnectorTrack, finds-or-creates the
// canonical Track via TrackStore.SaveTrack, creates a direct/confidence=100
// mapping if one doesn't already exist, and persists connector metadata
// onto the canonical track's in-memory representation. It does not extract
// metrics itself (see internal/metrics.Resolve) but is the transactional
// boundary within which a caller does so.
func (cs *ConnectorTrackStore) IngestExternalTrack(
	ctx context.Context, sess *Session,
	connector, connectorID string, metadata map[string]any,
	title string, artists []domain.Artist, opts ...domain.TrackOption,
) (domain.Track, error) {
	started := time.Now()

	connectorTrackID, err := cs.findOrCreateConnectorTrack(ctx, sess, connector, connectorID, metadata)
	if err != nil {
		logTiming(cs.log, "IngestExternalTrack.connectorTrack", started, err)
		return domain.Track{}, err
	}

	track, err := domain.NewTrack(title, artists, opts...)
	if err != nil {
		return domain.Track{}, err
	}
	track = track.WithConnectorTrackID(connector, connectorID)
	track = track.WithConnectorMetadata(connector, metadata)

	saved, err := cs.tracks.SaveTrack(ctx, sess, track)
	if err != nil {
		logTiming(cs.log, "IngestExternalTrack.saveTrack", started, err)
		return domain.Track{}, err
	}

	exists, err := cs.mappingExists(ctx, sess, *saved.ID, connectorTrackID)
	if err != nil {
		return domain.Track{}, err
	}
	if !exists {
		_, err := sess.exec.ExecContext(ctx,
			`INSERT INTO track_mappings (track_id, connector_track_id, match_method, confidence, last_verified)
			 VALUES (?, ?, ?, ?, ?)`,
			*saved.ID, connectorTrackID, domain.MatchMethodDirect, 100, nowString())
		if err != nil {
			logTiming(cs.log, "IngestExternalTrack.mapping", started, err)
			return domain.Track{}, classifyErr(err, "track_mapping")
		}
	}

	saved = saved.WithConnectorMetadata(connector, metadata)
	logTiming(cs.log, "IngestExternalTrack", started, nil)
	return saved, nil
}

// MapTrackToConnector is the entry point for cross-resolution (§4.F): it
// creates the ConnectorTrack if absent and creates a mapping with the
// given match method and confidence. Per Invariant 3, if a mapping already
// exists between this track and connector track, its match_method and
// original confidence are left untouched; only last_verified (and, if
// given, the ConnectorTrack's raw_metadata) are refreshed.
func (cs *ConnectorTrackStore) MapTrackToConnector(
	ctx context.Context, sess *Session,
	track domain.Track, connector, connectorID, matchMethod string, confidence int,
	metadata map[string]any, confidenceEvidence map[string]any,
) (domain.ConnectorTrackMapping, error) {
	started := time.Now()
	if track.ID == nil {
		return domain.ConnectorTrackMapping{}, fmt.Errorf("%w: cannot map an unsaved track to a connector", shared.ErrDependency)
	}

	mapping, err := domain.NewConnectorTrackMapping(connector, connectorID, matchMethod, confidence, metadata)
	if err != nil {
		return domain.ConnectorTrackMapping{}, err
	}

	connectorTrackID, err := cs.findOrCreateConnectorTrack(ctx, sess, connector, connectorID, metadata)
	if err != nil {
		logTiming(cs.log, "MapTrackToConnector.connectorTrack", started, err)
		return domain.ConnectorTrackMapping{}, err
	}

	exists, err := cs.mappingExists(ctx, sess, *track.ID, connectorTrackID)
	if err != nil {
		return domain.ConnectorTrackMapping{}, err
	}

	if exists {
		_, err := sess.exec.ExecContext(ctx,
			`UPDATE track_mappings SET last_verified = ?, updated_at = ? WHERE track_id = ? AND connector_track_id = ?`,
			nowString(), nowString(), *track.ID, connectorTrackID)
		logTiming(cs.log, "MapTrackToConnector.refresh", started, err)
		return mapping, classifyErr(err, "track_mapping")
	}

	evidenceJSON, err := marshalMap(confidenceEvidence)
	if err != nil {
		return domain.ConnectorTrackMapping{}, fmt.Errorf("%w: marshaling confidence evidence: %v", shared.ErrValidation, err)
	}

	_, err = sess.exec.ExecContext(ctx,
		`INSERT INTO track_mappings (track_id, connector_track_id, match_method, confidence, confidence_evidence, last_verified)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		*track.ID, connectorTrackID, matchMethod, confidence, evidenceJSON, nowString())
	logTiming(cs.log, "MapTrackToConnector.insert", started, err)
	return mapping, classifyErr(err, "track_mapping")
}

// GetConnectorMappings returns, for each track id with at least one active
// mapping, the mappings optionally filtered to a single connector.
func (cs *ConnectorTrackStore) GetConnectorMappings(ctx context.Context, sess *Session, trackIDs []int64, connector *string) (map[int64][]domain.ConnectorTrackMapping, error) {
	out := make(map[int64][]domain.ConnectorTrackMapping)
	if len(trackIDs) == 0 {
		return out, nil
	}

	placeholders, args := placeholdersFor(trackIDs)
	q := fmt.Sprintf(`
		SELECT tm.track_id, ct.connector_name, ct.connector_track_id, tm.match_method, tm.confidence, tm.confidence_evidence
		FROM track_mappings tm
		JOIN connector_tracks ct ON ct.id = tm.connector_track_id
		WHERE tm.is_deleted = 0 AND ct.is_deleted = 0 AND tm.track_id IN (%s)`, placeholders)
	if connector != nil {
		q += " AND ct.connector_name = ?"
		args = append(args, *connector)
	}

	rows, err := sess.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classifyErr(err, "track_mappings")
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		var connName, connTrackID, matchMethod string
		var confidence int
		var evidence sql.NullString
		if err := rows.Scan(&trackID, &connName, &connTrackID, &matchMethod, &confidence, &evidence); err != nil {
			return nil, classifyErr(err, "track_mappings")
		}
		evMap, err := unmarshalMap(evidence)
		if err != nil {
			return nil, fmt.Errorf("%w: unmarshaling confidence evidence: %v", shared.ErrTransaction, err)
		}
		m, err := domain.NewConnectorTrackMapping(connName, connTrackID, matchMethod, confidence, evMap)
		if err != nil {
			return nil, err
		}
		out[trackID] = append(out[trackID], m)
	}
	return out, rows.Err()
}

// GetConnectorMetadata returns raw connector metadata for trackIDs on the
// given connector, optionally narrowed to a single field.
func (cs *ConnectorTrackStore) GetConnectorMetadata(ctx context.Context, sess *Session, trackIDs []int64, connector string, field *string) (map[int64]map[string]any, error) {
	out := make(map[int64]map[string]any)
	if len(trackIDs) == 0 {
		return out, nil
	}

	placeholders, args := placeholdersFor(trackIDs)
	args = append(args, connector)
	q := fmt.Sprintf(`
		SELECT tm.track_id, ct.raw_metadata
		FROM track_mappings tm
		JOIN connector_tracks ct ON ct.id = tm.connector_track_id
		WHERE tm.is_deleted = 0 AND ct.is_deleted = 0 AND tm.track_id IN (%s) AND ct.connector_name = ?`, placeholders)

	rows, err := sess.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classifyErr(err, "connector_tracks")
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		var raw sql.NullString
		if err := rows.Scan(&trackID, &raw); err != nil {
			return nil, classifyErr(err, "connector_tracks")
		}
		meta, err := unmarshalMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: unmarshaling raw metadata: %v", shared.ErrTransaction, err)
		}
		if field != nil {
			if v, ok := meta[*field]; ok {
				out[trackID] = map[string]any{*field: v}
			}
			continue
		}
		out[trackID] = meta
	}
	return out, rows.Err()
}

// package matcher is the identity resolver (§4.F): given tracks that may
// already carry a canonical id, it resolves each one to a Last.fm
// identity, preferring a previously-persisted mapping over a fresh API
// call, and preferring an ISRC-derived MusicBrainz id over a raw
// artist/title lookup. It is a direct structural port of
// original_source/narada/core/matcher.py's batch_match_tracks.
package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/batch"
	"github.com/desertthunder/narada/internal/connectors/lastfm"
	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/metrics"
	"github.com/desertthunder/narada/internal/shared"
	"github.com/desertthunder/narada/internal/store"
)

// errUnsupportedTarget is returned by Resolve for any target besides
// "lastfm" — the only connector original_source/narada/core/matcher.py
// ever resolves against.
var errUnsupportedTarget = shared.ErrValidation

// LastFMClient is the subset of lastfm.Connector the matcher depends on.
type LastFMClient interface {
	GetTrackInfo(ctx context.Context, title string, artists []string, mbid, user *string) (lastfm.TrackInfo, error)
}

// MusicBrainzClient is the subset of musicbrainz.Connector the matcher
// depends on.
type MusicBrainzClient interface {
	BatchISRCLookup(ctx context.Context, isrcs []string) (map[string]string, error)
}

// MatchResult is the outcome of resolving one track against Last.fm,
// mirroring matcher.py's MatchResult.
type MatchResult struct {
	Track         domain.Track
	UserPlayCount int
	Mapping       *domain.ConnectorTrackMapping
	Success       bool
}

// MatcherDeps bundles the collaborators Resolve needs: a Last.fm client
// always, a MusicBrainz client and store repositories optionally, and a
// session to persist through. The target connector is passed to Resolve
// separately (only "lastfm" is implemented; matcher.py itself never
// resolves against anything else). Track/mapping repositories being nil
// switches Resolve to API-only mode (no database phase, no persist
// phase), per matcher.py's `track_repo: TrackRepository | None = None`.
type MatcherDeps struct {
	Session     *store.Session
	LastFM      LastFMClient
	MusicBrainz MusicBrainzClient
	ConnTracks  *store.ConnectorTrackStore
	Metrics     *store.MetricStore
	Log         *log.Logger
	MaxAge      time.Duration
	BatchSize   int
	Concurrency int
}

func (d MatcherDeps) withDefaults() MatcherDeps {
	if d.MaxAge <= 0 {
		d.MaxAge = 24 * time.Hour
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 50
	}
	if d.Concurrency <= 0 {
		d.Concurrency = 10
	}
	if d.Log == nil {
		d.Log = shared.NewLogger(nil)
	}
	return d
}

// Resolve matches tracks against target (currently only "lastfm" is
// supported), returning one MatchResult per track id. Tracks without an
// id are skipped entirely (they cannot be looked up in phase 1 or
// persisted in phase 3). username, if given, is forwarded to Last.fm so
// UserPlayCount reflects that user's scrobbles.
func Resolve(ctx context.Context, deps MatcherDeps, tracks []domain.Track, target string, username *string) (map[int64]MatchResult, error) {
	if target != "lastfm" {
		return nil, fmt.Errorf("%w: matcher only supports target %q, got %q", errUnsupportedTarget, "lastfm", target)
	}

	d := deps.withDefaults()
	results := make(map[int64]MatchResult)
	if len(tracks) == 0 {
		return results, nil
	}

	toResolve := d.databasePhase(ctx, d.Session, tracks, results)

	mbidByTrackID, err := d.isrcPhase(ctx, toResolve)
	if err != nil {
		d.Log.Warn("batch mbid resolution error", "error", err)
	}

	d.apiPhase(ctx, toResolve, mbidByTrackID, username, results)

	if d.Session != nil && d.ConnTracks != nil {
		if err := d.persistPhase(ctx, d.Session, results); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// databasePhase resolves tracks that already carry a persisted Last.fm
// mapping, returning the tracks still needing API resolution. A recent
// cached play-count metric, when present, supplies UserPlayCount;
// without one the cached result carries a play count of 0. Matches
// matcher.py Phase 1.
func (d MatcherDeps) databasePhase(ctx context.Context, sess *store.Session, tracks []domain.Track, results map[int64]MatchResult) []domain.Track {
	if sess == nil || d.ConnTracks == nil || d.Metrics == nil {
		return tracks
	}

	var ids []int64
	byID := make(map[int64]domain.Track)
	for _, t := range tracks {
		if t.ID != nil {
			ids = append(ids, *t.ID)
			byID[*t.ID] = t
		}
	}
	if len(ids) == 0 {
		return tracks
	}

	lastfmName := "lastfm"
	mappings, err := d.ConnTracks.GetConnectorMappings(ctx, sess, ids, &lastfmName)
	if err != nil {
		d.Log.Warn("database phase mapping lookup failed", "error", err)
		return tracks
	}
	freshness := d.MaxAge
	if ttl, ok := metrics.MetricFreshness[lastfmPlayCountMetric]; ok {
		freshness = ttl
	}
	metricValues, err := d.Metrics.GetTrackMetrics(ctx, sess, ids, lastfmPlayCountMetric, "lastfm", freshness)
	if err != nil {
		d.Log.Warn("database phase metric lookup failed", "error", err)
		return tracks
	}

	resolved := map[int64]bool{}
	for trackID, ms := range mappings {
		for _, m := range ms {
			if m.ConnectorName != "lastfm" {
				continue
			}
			playCount := int(metricValues[trackID])
			results[trackID] = MatchResult{
				Track:         byID[trackID].WithConnectorTrackID("lastfm", m.ConnectorTrackID),
				UserPlayCount: playCount,
				Mapping: &domain.ConnectorTrackMapping{
					ConnectorName:    "lastfm",
					ConnectorTrackID: m.ConnectorTrackID,
					MatchMethod:      domain.MatchMethodCached,
					Confidence:       confidenceCached,
					Metadata:         map[string]any{"user_play_count": playCount},
				},
				Success: true,
			}
			resolved[trackID] = true
			break
		}
	}

	d.Log.Info("database resolution", "matched", len(resolved), "candidates", len(ids))

	var remaining []domain.Track
	for _, t := range tracks {
		if t.ID != nil && resolved[*t.ID] {
			continue
		}
		remaining = append(remaining, t)
	}
	return remaining
}

// isrcPhase batch-resolves ISRCs to MBIDs for tracks lacking an existing
// MusicBrainz id, keyed by track id. Matches matcher.py Phase 2.1.
func (d MatcherDeps) isrcPhase(ctx context.Context, tracks []domain.Track) (map[int64]string, error) {
	out := map[int64]string{}
	if d.MusicBrainz == nil {
		return out, nil
	}

	isrcByTrackID := map[int64]string{}
	var isrcs []string
	for _, t := range tracks {
		if t.ID == nil || t.ISRC == nil {
			continue
		}
		if _, ok := t.ConnectorTrackIDs["musicbrainz"]; ok {
			continue
		}
		isrcByTrackID[*t.ID] = *t.ISRC
		isrcs = append(isrcs, *t.ISRC)
	}
	if len(isrcs) == 0 {
		return out, nil
	}

	d.Log.Info("batch resolving isrcs to mbids", "count", len(isrcs))
	isrcToMBID, err := d.MusicBrainz.BatchISRCLookup(ctx, isrcs)
	if err != nil {
		return out, err
	}

	for trackID, isrc := range isrcByTrackID {
		if mbid, ok := isrcToMBID[isrc]; ok {
			out[trackID] = mbid
		}
	}
	d.Log.Info("resolved via isrc->mbid", "resolved", len(out), "candidates", len(isrcByTrackID))
	return out, nil
}

// apiPhase resolves each remaining track against Last.fm, concurrently,
// via internal/batch.Process. Matches matcher.py Phase 2.2/2.3.
func (d MatcherDeps) apiPhase(ctx context.Context, candidates []domain.Track, mbidByTrackID map[int64]string, username *string, results map[int64]MatchResult) {
	var tracks []domain.Track
	for _, t := range candidates {
		if t.ID != nil {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		return
	}
	d.Log.Info("api resolution", "count", len(tracks))

	resolveOne := func(ctx context.Context, t domain.Track) (MatchResult, error) {
		return d.resolveTrack(ctx, t, mbidByTrackID, username)
	}

	outcomes := batch.Process(ctx, tracks, resolveOne, batch.Options{
		Concurrency: d.Concurrency,
		BatchSize:   d.BatchSize,
		TaskName:    "lastfm_match",
		Logger:      d.Log,
	})

	for i, t := range tracks {
		if t.ID == nil {
			continue
		}
		if outcomes[i].Err != nil {
			results[*t.ID] = MatchResult{Track: t, Success: false}
			continue
		}
		results[*t.ID] = outcomes[i].Value
	}
}

// resolveTrack resolves a single track against Last.fm: prefer an
// ISRC-derived or pre-existing MBID, falling back to artist/title.
func (d MatcherDeps) resolveTrack(ctx context.Context, t domain.Track, mbidByTrackID map[int64]string, username *string) (MatchResult, error) {
	if t.Title == "" || len(t.Artists) == 0 {
		d.Log.Warn("cannot match track without title/artists", "track_id", t.ID)
		return MatchResult{Track: t, Success: false}, nil
	}

	artistNames := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artistNames[i] = a.Name
	}

	var mbid *string
	if t.ID != nil {
		if m, ok := mbidByTrackID[*t.ID]; ok {
			t = t.WithConnectorTrackID("musicbrainz", m)
			mbid = &m
		} else if m, ok := t.ConnectorTrackIDs["musicbrainz"]; ok {
			mbid = &m
		}
	}

	var info lastfm.TrackInfo
	var confidence int
	var matchMethod string
	var err error

	if mbid != nil {
		info, err = d.LastFM.GetTrackInfo(ctx, t.Title, artistNames, mbid, username)
		if err == nil && info.MBID != "" {
			confidence = confidenceMBID
			matchMethod = domain.MatchMethodMBID
		}
	}

	if matchMethod == "" {
		info, err = d.LastFM.GetTrackInfo(ctx, t.Title, artistNames, nil, username)
		if err == nil {
			confidence = confidenceArtistTitle
			matchMethod = domain.MatchMethodArtistTitle
		}
	}

	if matchMethod == "" {
		d.Log.Debug("no last.fm match found", "track_id", t.ID, "title", t.Title)
		return MatchResult{Track: t, Success: false}, nil
	}

	if t.DurationMS == nil {
		confidence -= durationMissingPenalty
	}
	confidence = clampConfidence(confidence)

	playCount := 0
	if info.UserPlayCount != nil {
		playCount = *info.UserPlayCount
	}

	mapping := domain.ConnectorTrackMapping{
		ConnectorName:    "lastfm",
		ConnectorTrackID: lastfmConnectorID(info, t, artistNames),
		MatchMethod:      matchMethod,
		Confidence:       confidence,
		Metadata:         map[string]any{"user_play_count": playCount},
	}

	t = t.WithConnectorTrackID("lastfm", mapping.ConnectorTrackID)

	return MatchResult{Track: t, UserPlayCount: playCount, Mapping: &mapping, Success: true}, nil
}

// lastfmConnectorID derives the identifier a Last.fm match is stored
// under: its MBID when known, otherwise a "title::artist" key built from
// the track title and its first artist.
// The Audioscrobbler track.getInfo endpoint this is built on has no
// stable per-track URL field in the trimmed response the lastfm
// connector parses, so there is no single canonical id to prefer beyond
// these two.
func lastfmConnectorID(info lastfm.TrackInfo, t domain.Track, artists []string) string {
	if info.MBID != "" {
		return info.MBID
	}
	artist := ""
	if len(artists) > 0 {
		artist = artists[0]
	}
	return t.Title + "::" + artist
}

// persistPhase writes every successful API-sourced mapping (never a
// database-sourced one, which is already persisted) and its associated
// MusicBrainz mapping and play-count metric. Matches matcher.py Phase 3.
func (d MatcherDeps) persistPhase(ctx context.Context, sess *store.Session, results map[int64]MatchResult) error {
	var points []store.MetricPoint

	for trackID, r := range results {
		if !r.Success || r.Mapping == nil || r.Mapping.MatchMethod == domain.MatchMethodCached {
			continue
		}

		if _, err := d.ConnTracks.MapTrackToConnector(ctx, sess, r.Track, r.Mapping.ConnectorName, r.Mapping.ConnectorTrackID,
			r.Mapping.MatchMethod, r.Mapping.Confidence, r.Mapping.Metadata, nil); err != nil {
			return fmt.Errorf("persisting lastfm mapping for track %d: %w", trackID, err)
		}

		if mbid, ok := r.Track.ConnectorTrackIDs["musicbrainz"]; ok {
			if _, err := d.ConnTracks.MapTrackToConnector(ctx, sess, r.Track, "musicbrainz", mbid,
				domain.MatchMethodISRC, confidenceMissingMBID, nil, nil); err != nil {
				return fmt.Errorf("persisting musicbrainz mapping for track %d: %w", trackID, err)
			}
		}

		if r.UserPlayCount > 0 && d.Metrics != nil {
			points = append(points, store.MetricPoint{
				TrackID: trackID, ConnectorName: "lastfm", MetricType: lastfmPlayCountMetric, Value: float64(r.UserPlayCount),
			})
		}
	}

	if len(points) > 0 && d.Metrics != nil {
		if err := d.Metrics.SaveTrackMetrics(ctx, sess, points); err != nil {
			return err
		}
	}

	d.Log.Info("persisted match results", "mappings", len(results), "metrics", len(points))
	return nil
}

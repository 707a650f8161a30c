package workflow

import (
	"context"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/matcher"
	"github.com/desertthunder/narada/internal/metrics"
	"github.com/desertthunder/narada/internal/store"
)

func init() {
	Register("enricher.lastfm", lastfmEnricher, Metadata{
		Description: "resolves Last.fm identities and user play counts via internal/matcher",
		Category:    CategoryEnricher,
	})
	Register("enricher.spotify", spotifyEnricher, Metadata{
		Description: "resolves Spotify popularity via internal/metrics",
		Category:    CategoryEnricher,
	})
}

// lastfmEnricher resolves config["input"]'s tracklist against Last.fm via
// internal/matcher, writing resolved connector ids back onto the tracks
// and the batch's lastfm_user_playcount values into metadata["metrics"].
// config["username"], if given, scopes play counts to that user.
func lastfmEnricher(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	deps, err := depsFrom(wfctx)
	if err != nil {
		return nil, err
	}
	inputTask, err := stringConfig(config, "input")
	if err != nil {
		return nil, err
	}
	tl, err := trackListFrom(wfctx, inputTask)
	if err != nil {
		return nil, err
	}

	var username *string
	if u, ok := config["username"].(string); ok && u != "" {
		username = &u
	}

	var matched map[int64]matcher.MatchResult
	err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
		md := deps.MatcherDeps
		md.Session = sess
		var err error
		matched, err = matcher.Resolve(ctx, md, tl.Tracks, "lastfm", username)
		return err
	})
	if err != nil {
		return nil, err
	}

	updated := make([]domain.Track, len(tl.Tracks))
	playCounts := make(map[int64]float64, len(matched))
	for i, t := range tl.Tracks {
		updated[i] = t
		if t.ID == nil {
			continue
		}
		if r, ok := matched[*t.ID]; ok {
			if r.Success {
				updated[i] = r.Track
			}
			playCounts[*t.ID] = float64(r.UserPlayCount)
		}
	}

	out := tl.WithTracks(updated)
	out = withMergedMetric(out, "lastfm_user_playcount", playCounts)
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

// spotifyEnricher resolves config["input"]'s tracklist's Spotify
// popularity via internal/metrics, writing the values into
// metadata["metrics"]["spotify_popularity"].
func spotifyEnricher(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	deps, err := depsFrom(wfctx)
	if err != nil {
		return nil, err
	}
	inputTask, err := stringConfig(config, "input")
	if err != nil {
		return nil, err
	}
	tl, err := trackListFrom(wfctx, inputTask)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, t := range tl.Tracks {
		if t.ID != nil {
			ids = append(ids, *t.ID)
		}
	}

	var values map[int64]float64
	err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
		var err error
		values, err = metrics.Resolve(ctx, sess, deps.Log, deps.Metrics, deps.ConnTracks, "spotify_popularity", ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := withMergedMetric(tl, "spotify_popularity", values)
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

// withMergedMetric returns tl with metadata["metrics"][metricName] set to
// values, preserving every other metric already present.
func withMergedMetric(tl domain.TrackList, metricName string, values map[int64]float64) domain.TrackList {
	existing, _ := tl.Metadata["metrics"].(map[string]map[int64]float64)
	byMetric := make(map[string]map[int64]float64, len(existing)+1)
	for k, v := range existing {
		byMetric[k] = v
	}
	byMetric[metricName] = values
	return tl.WithMetadata("metrics", byMetric)
}

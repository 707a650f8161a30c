package domain

import (
	"fmt"

	"github.com/desertthunder/narada/internal/shared"
)

// TrackList is an ephemeral ordered sequence of tracks plus arbitrary
// pipeline metadata. Unlike Playlist, it is never persisted directly; it
// is the unit of data that flows between workflow nodes.
type TrackList struct {
	Tracks   []Track
	Metadata map[string]any
}

// NewTrackList constructs a TrackList over tracks with empty metadata.
func NewTrackList(tracks []Track) TrackList {
	return TrackList{Tracks: tracks, Metadata: map[string]any{}}
}

// NewTrackListFromPlaylist copies a Playlist's tracks into a TrackList and
// records the source playlist's name in metadata.
func NewTrackListFromPlaylist(p Playlist) TrackList {
	return TrackList{
		Tracks:   p.Tracks,
		Metadata: map[string]any{"source_playlist_name": p.Name},
	}
}

func (tl TrackList) cloneMetadata() map[string]any {
	next := make(map[string]any, len(tl.Metadata))
	for k, v := range tl.Metadata {
		next[k] = v
	}
	return next
}

// WithTracks returns a new TrackList with tracks replaced.
func (tl TrackList) WithTracks(tracks []Track) TrackList {
	return TrackList{Tracks: tracks, Metadata: tl.cloneMetadata()}
}

// WithMetadata returns a new TrackList with key set to value in metadata.
func (tl TrackList) WithMetadata(key string, value any) TrackList {
	meta := tl.cloneMetadata()
	meta[key] = value
	return TrackList{Tracks: tl.Tracks, Metadata: meta}
}

// MetricsFor returns the metric values for metricName keyed by integer
// track id. Metadata["metrics"] must be a map[string]map[int64]float64;
// anything else (in particular a string-keyed map) is a defect to be
// reported, not silently coerced.
func (tl TrackList) MetricsFor(metricName string) (map[int64]float64, error) {
	raw, ok := tl.Metadata["metrics"]
	if !ok {
		return map[int64]float64{}, nil
	}

	byMetric, ok := raw.(map[string]map[int64]float64)
	if !ok {
		return nil, fmt.Errorf("%w: metadata[metrics] must be map[string]map[int64]float64, got %T", shared.ErrValidation, raw)
	}

	values, ok := byMetric[metricName]
	if !ok {
		return map[int64]float64{}, nil
	}
	return values, nil
}

// package domain defines the immutable value types that flow through
// the matcher, transform, and workflow packages. Persistence-aware row
// types live in internal/store; domain types never know about sql.DB.
package domain

import (
	"fmt"
	"time"

	"github.com/desertthunder/narada/internal/shared"
)

// Artist is a non-empty artist name, stored as given.
type Artist struct {
	Name string
}

// NewArtist validates name and returns an Artist.
func NewArtist(name string) (Artist, error) {
	if name == "" {
		return Artist{}, fmt.Errorf("%w: artist name must not be empty", shared.ErrValidation)
	}
	return Artist{Name: name}, nil
}

// Track is the canonical, service-agnostic recording. It is never mutated
// in place; every With* method returns a new value.
type Track struct {
	Title             string
	Artists           []Artist
	Album             *string
	DurationMS        *int
	ReleaseDate       *time.Time
	ISRC              *string
	ID                *int64
	ConnectorTrackIDs map[string]string
	ConnectorMetadata map[string]map[string]any
}

// TrackOption configures a new Track.
type TrackOption func(*Track)

// WithAlbum sets the album on a Track being constructed.
func WithAlbum(album string) TrackOption {
	return func(t *Track) { t.Album = &album }
}

// WithDurationMS sets the duration on a Track being constructed.
func WithDurationMS(ms int) TrackOption {
	return func(t *Track) { t.DurationMS = &ms }
}

// WithISRC sets the ISRC on a Track being constructed.
func WithISRC(isrc string) TrackOption {
	return func(t *Track) { t.ISRC = &isrc }
}

// WithInitialReleaseDate sets the release date on a Track being
// constructed, UTC-normalized.
func WithInitialReleaseDate(d time.Time) TrackOption {
	return func(t *Track) {
		utc := toUTC(d)
		t.ReleaseDate = &utc
	}
}

// NewTrack validates title and artists and returns a Track.
func NewTrack(title string, artists []Artist, opts ...TrackOption) (Track, error) {
	if title == "" {
		return Track{}, fmt.Errorf("%w: track title must not be empty", shared.ErrValidation)
	}
	if len(artists) < 1 {
		return Track{}, fmt.Errorf("%w: track must have at least one artist", shared.ErrValidation)
	}

	t := Track{
		Title:             title,
		Artists:           artists,
		ConnectorTrackIDs: map[string]string{},
		ConnectorMetadata: map[string]map[string]any{},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t, nil
}

func toUTC(t time.Time) time.Time {
	if t.Location() == time.UTC {
		return t
	}
	return t.UTC()
}

func (t Track) clone() Track {
	ids := make(map[string]string, len(t.ConnectorTrackIDs))
	for k, v := range t.ConnectorTrackIDs {
		ids[k] = v
	}
	meta := make(map[string]map[string]any, len(t.ConnectorMetadata))
	for k, v := range t.ConnectorMetadata {
		inner := make(map[string]any, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		meta[k] = inner
	}
	next := t
	next.ConnectorTrackIDs = ids
	next.ConnectorMetadata = meta
	return next
}

// WithConnectorTrackID returns a new Track with connector set to id in
// ConnectorTrackIDs.
func (t Track) WithConnectorTrackID(connector, id string) Track {
	next := t.clone()
	next.ConnectorTrackIDs[connector] = id
	return next
}

// WithConnectorMetadata returns a new Track with metadata merged into the
// connector's existing entry.
func (t Track) WithConnectorMetadata(connector string, metadata map[string]any) Track {
	next := t.clone()
	merged := make(map[string]any, len(next.ConnectorMetadata[connector])+len(metadata))
	for k, v := range next.ConnectorMetadata[connector] {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	next.ConnectorMetadata[connector] = merged
	return next
}

// WithID returns a new Track with its persisted id bound.
func (t Track) WithID(id int64) Track {
	next := t.clone()
	next.ID = &id
	return next
}

// WithReleaseDate returns a new Track with a UTC-normalized release date.
func (t Track) WithReleaseDate(d time.Time) Track {
	next := t.clone()
	utc := toUTC(d)
	next.ReleaseDate = &utc
	return next
}

// GetConnectorAttribute returns a field from a connector's metadata map,
// or def if the connector or field is absent.
func (t Track) GetConnectorAttribute(connector, attribute string, def any) any {
	data, ok := t.ConnectorMetadata[connector]
	if !ok {
		return def
	}
	v, ok := data[attribute]
	if !ok {
		return def
	}
	return v
}

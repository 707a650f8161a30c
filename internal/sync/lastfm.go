package sync

import (
	"context"
	"time"

	"github.com/desertthunder/narada/internal/connectors/lastfm"
)

// LastFMRecentTracks adapts *lastfm.Connector to RecentTracksClient, so
// ImportPlayHistory stays connector-package-agnostic for testing while
// production callers wire the real connector.
type LastFMRecentTracks struct {
	Connector *lastfm.Connector
}

func (a LastFMRecentTracks) RecentTracks(ctx context.Context, user string, from, to *time.Time, page, limit int) (RecentTracksPage, error) {
	got, err := a.Connector.RecentTracks(ctx, user, from, to, page, limit)
	if err != nil {
		return RecentTracksPage{}, err
	}

	tracks := make([]RecentScrobble, len(got.Tracks))
	for i, t := range got.Tracks {
		tracks[i] = RecentScrobble{Artist: t.Artist, Title: t.Title, PlayedAt: t.PlayedAt}
	}
	return RecentTracksPage{Tracks: tracks, NextPage: got.NextPage, TotalPages: got.TotalPages}, nil
}

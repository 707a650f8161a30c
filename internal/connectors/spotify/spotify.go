// package spotify implements the Spotify connector by wrapping
// github.com/zmb3/spotify, the same client library paulangton-potentials-utils
// uses for playlist cleanup against the Spotify Web API.
package spotify

import (
	"context"
	"fmt"

	"github.com/desertthunder/narada/internal/connectors"
	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
	"github.com/zmb3/spotify"
	"golang.org/x/oauth2"
	spotifyoauth2 "golang.org/x/oauth2/clientcredentials"
)

const writeChunkSize = 100

// Client is the subset of *spotify.Client this connector drives. Declared
// as an interface so tests can substitute a fake without a live token.
type Client interface {
	GetPlaylistTracksOpt(playlistID spotify.ID, opt *spotify.Options, fields string) (*spotify.PlaylistTrackPage, error)
	CreatePlaylistForUser(userID, playlistName string, description string, public bool) (*spotify.FullPlaylist, error)
	AddTracksToPlaylist(playlistID spotify.ID, trackIDs ...spotify.ID) (string, error)
	ReplacePlaylistTracks(playlistID spotify.ID, trackIDs ...spotify.ID) error
}

// Connector implements connectors.Connector against the Spotify Web API.
type Connector struct {
	client Client
}

// NewConnector builds a Connector from Spotify client-credentials.
func NewConnector(ctx context.Context, cfg shared.SpotifyConfig) (*Connector, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client id and secret are required", shared.ErrMissingCredentials)
	}

	ccConfig := &spotifyoauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     "https://accounts.spotify.com/api/token",
	}
	token, err := ccConfig.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: spotify client-credentials exchange failed: %v", shared.ErrAuthFailed, err)
	}

	authClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	spClient := spotify.NewAuthenticator("").NewClient(authClient)

	return &Connector{client: &spClient}, nil
}

// Name identifies this connector for ConnectorTrackIDs/ConnectorMetadata keys.
func (c *Connector) Name() string { return "spotify" }

// GetPlaylist fetches all tracks of a Spotify playlist, paginating via the
// client's offset/limit options the way the teacher's GetPlaylists loop
// follows a Next cursor.
func (c *Connector) GetPlaylist(ctx context.Context, externalID string) (domain.Playlist, error) {
	var tracks []domain.Track
	opt := spotify.Options{Limit: intPtr(100), Offset: intPtr(0)}

	for {
		page, err := c.client.GetPlaylistTracksOpt(spotify.ID(externalID), &opt, "")
		if err != nil {
			return domain.Playlist{}, fmt.Errorf("%w: fetching spotify playlist tracks: %v", shared.ErrTransientExternal, err)
		}

		for _, item := range page.Tracks {
			tracks = append(tracks, convertTrack(item.Track))
		}

		if len(page.Tracks) < *opt.Limit {
			break
		}
		*opt.Offset += *opt.Limit
	}

	playlist := domain.NewPlaylist(externalID, tracks).WithConnectorPlaylistID("spotify", externalID)
	return playlist, nil
}

// CreatePlaylist creates a new Spotify playlist for user and writes p's
// tracks in 100-track chunks (the Spotify API's add-tracks batch limit).
func (c *Connector) CreatePlaylist(ctx context.Context, p domain.Playlist, user string) (string, error) {
	desc := ""
	if p.Description != nil {
		desc = *p.Description
	}

	full, err := c.client.CreatePlaylistForUser(user, p.Name, desc, true)
	if err != nil {
		return "", fmt.Errorf("%w: creating spotify playlist: %v", shared.ErrTransientExternal, err)
	}

	ids := trackIDsOf(p.Tracks)
	for start := 0; start < len(ids); start += writeChunkSize {
		end := min(start+writeChunkSize, len(ids))
		if _, err := c.client.AddTracksToPlaylist(full.ID, ids[start:end]...); err != nil {
			return string(full.ID), fmt.Errorf("%w: adding tracks to spotify playlist: %v", shared.ErrTransientExternal, err)
		}
	}

	return string(full.ID), nil
}

// UpdatePlaylist reconciles externalID's remote track list with p per mode.
func (c *Connector) UpdatePlaylist(ctx context.Context, externalID string, p domain.Playlist, mode connectors.UpdateMode) error {
	ids := trackIDsOf(p.Tracks)

	if mode == connectors.ReplaceAll {
		first := min(writeChunkSize, len(ids))
		if err := c.client.ReplacePlaylistTracks(spotify.ID(externalID), ids[:first]...); err != nil {
			return fmt.Errorf("%w: replacing spotify playlist tracks: %v", shared.ErrTransientExternal, err)
		}
		ids = ids[first:]
	}

	for start := 0; start < len(ids); start += writeChunkSize {
		end := min(start+writeChunkSize, len(ids))
		if _, err := c.client.AddTracksToPlaylist(spotify.ID(externalID), ids[start:end]...); err != nil {
			return fmt.Errorf("%w: appending spotify playlist tracks: %v", shared.ErrTransientExternal, err)
		}
	}

	return nil
}

func trackIDsOf(tracks []domain.Track) []spotify.ID {
	ids := make([]spotify.ID, 0, len(tracks))
	for _, t := range tracks {
		if id, ok := t.ConnectorTrackIDs["spotify"]; ok {
			ids = append(ids, spotify.ID(id))
		}
	}
	return ids
}

// convertTrack maps a Spotify FullTrack into a domain.Track, populating
// ConnectorTrackIDs/ConnectorMetadata only — matching information is never
// written here, per Invariant 3/§4.D.
func convertTrack(ft spotify.FullTrack) domain.Track {
	artists := make([]domain.Artist, 0, len(ft.Artists))
	for _, a := range ft.Artists {
		artist, err := domain.NewArtist(a.Name)
		if err != nil {
			continue
		}
		artists = append(artists, artist)
	}
	if len(artists) == 0 {
		artists = []domain.Artist{{Name: "Unknown Artist"}}
	}

	opts := []domain.TrackOption{domain.WithDurationMS(ft.Duration)}
	if ft.ExternalIDs["isrc"] != "" {
		opts = append(opts, domain.WithISRC(ft.ExternalIDs["isrc"]))
	}
	if ft.Album.Name != "" {
		opts = append(opts, domain.WithAlbum(ft.Album.Name))
	}

	track, err := domain.NewTrack(ft.Name, artists, opts...)
	if err != nil {
		track, _ = domain.NewTrack("Unknown Title", artists)
	}

	track = track.WithConnectorTrackID("spotify", string(ft.ID))
	track = track.WithConnectorMetadata("spotify", map[string]any{
		"popularity": ft.Popularity,
		"explicit":   ft.Explicit,
		"uri":        string(ft.URI),
	})

	return track
}

func intPtr(v int) *int { return &v }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

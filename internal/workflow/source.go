package workflow

import (
	"context"
	"fmt"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
	"github.com/desertthunder/narada/internal/store"
)

func init() {
	Register("source.spotify_playlist", spotifyPlaylistSource, Metadata{
		Description: "fetches and persists a Spotify playlist by id",
		Category:    CategorySource,
	})
	Register("source.lastfm_recent_tracks", lastfmRecentTracksSource, Metadata{
		Description: "fetches a user's recent Last.fm scrobbles",
		Category:    CategorySource,
	})
}

// spotifyPlaylistSource reads config["playlist_id"], fetches the remote
// playlist, persists it, and guarantees every resulting track carries a
// canonical id, matching source_nodes.py's spotify_playlist_source
// assertion that a saved playlist never yields id-less tracks.
func spotifyPlaylistSource(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	deps, err := depsFrom(wfctx)
	if err != nil {
		return nil, err
	}
	playlistID, err := stringConfig(config, "playlist_id")
	if err != nil {
		return nil, err
	}

	remote, err := deps.Spotify.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	var saved domain.Playlist
	err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
		existing, err := deps.Playlists.GetPlaylistByConnector(ctx, sess, "spotify", playlistID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != nil {
			saved, err = deps.Playlists.UpdatePlaylist(ctx, sess, *existing.ID, remote, strPtr("spotify"))
			return err
		}
		saved, err = deps.Playlists.SavePlaylist(ctx, sess, remote, strPtr("spotify"))
		return err
	})
	if err != nil {
		return nil, err
	}

	var missingIDs []string
	for _, t := range saved.Tracks {
		if t.ID == nil {
			missingIDs = append(missingIDs, t.Title)
			if len(missingIDs) >= 5 {
				break
			}
		}
	}
	if len(missingIDs) > 0 {
		return nil, fmt.Errorf("%w: %d tracks missing an id after persisting playlist %q, e.g. %v",
			shared.ErrDependency, len(missingIDs), playlistID, missingIDs)
	}

	tl := domain.NewTrackListFromPlaylist(saved)
	return map[string]any{
		"tracklist":     tl,
		"playlist_id":   saved.ID,
		"playlist_name": saved.Name,
		"source":        "spotify",
		"source_id":     playlistID,
		"track_count":   len(tl.Tracks),
	}, nil
}

// lastfmRecentTracksSource reads config["username"] and pages through
// user.getRecentTracks until exhausted, building an ad-hoc (unpersisted)
// TrackList of scrobbled title/artist pairs.
func lastfmRecentTracksSource(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	deps, err := depsFrom(wfctx)
	if err != nil {
		return nil, err
	}
	username, err := stringConfig(config, "username")
	if err != nil {
		return nil, err
	}
	limit, err := intConfig(config, "limit")
	if err != nil {
		limit = 200
	}

	var tracks []domain.Track
	page := 1
	for {
		pageResult, err := deps.LastFM.RecentTracks(ctx, username, nil, nil, page, limit)
		if err != nil {
			return nil, err
		}
		for _, rt := range pageResult.Tracks {
			artist, err := domain.NewArtist(rt.Artist)
			if err != nil {
				continue
			}
			tr, err := domain.NewTrack(rt.Title, []domain.Artist{artist})
			if err != nil {
				continue
			}
			tracks = append(tracks, tr)
		}
		if pageResult.TotalPages == 0 || page >= pageResult.TotalPages {
			break
		}
		page++
	}

	tl := domain.NewTrackList(tracks)
	return map[string]any{"tracklist": tl, "track_count": len(tracks), "source": "lastfm", "source_id": username}, nil
}

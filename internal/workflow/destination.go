package workflow

import (
	"context"

	"github.com/desertthunder/narada/internal/connectors"
	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/store"
)

func init() {
	Register("destination.create_internal", createInternalDestination, Metadata{
		Description: "persists config[\"input\"]'s tracklist as a new internal playlist",
		Category:    CategoryDestination,
	})
	Register("destination.create_spotify", createSpotifyDestination, Metadata{
		Description: "creates a new Spotify playlist from config[\"input\"]'s tracklist",
		Category:    CategoryDestination,
	})
	Register("destination.update_spotify", updateSpotifyDestination, Metadata{
		Description: "reconciles an existing Spotify playlist with config[\"input\"]'s tracklist",
		Category:    CategoryDestination,
	})
}

func createInternalDestination(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
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
	name, err := stringConfig(config, "name")
	if err != nil {
		return nil, err
	}

	p := domain.NewPlaylist(name, tl.Tracks)
	var saved domain.Playlist
	err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
		var err error
		saved, err = deps.Playlists.SavePlaylist(ctx, sess, p, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"playlist_id": saved.ID, "playlist_name": saved.Name, "track_count": len(saved.Tracks)}, nil
}

func createSpotifyDestination(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
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
	name, err := stringConfig(config, "name")
	if err != nil {
		return nil, err
	}
	user, err := stringConfig(config, "user")
	if err != nil {
		return nil, err
	}

	p := domain.NewPlaylist(name, tl.Tracks)
	spotifyID, err := deps.Spotify.CreatePlaylist(ctx, p, user)
	if err != nil {
		return nil, err
	}
	p = p.WithConnectorPlaylistID("spotify", spotifyID)

	var saved domain.Playlist
	err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
		existing, err := deps.Playlists.GetPlaylistByConnector(ctx, sess, "spotify", spotifyID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != nil {
			saved, err = deps.Playlists.UpdatePlaylist(ctx, sess, *existing.ID, p, strPtr("spotify"))
			return err
		}
		saved, err = deps.Playlists.SavePlaylist(ctx, sess, p, strPtr("spotify"))
		return err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"playlist_id": saved.ID, "spotify_playlist_id": spotifyID, "track_count": len(saved.Tracks)}, nil
}

func updateSpotifyDestination(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
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
	spotifyPlaylistID, err := stringConfig(config, "spotify_playlist_id")
	if err != nil {
		return nil, err
	}

	mode := connectors.ReplaceAll
	if optionalStringConfig(config, "mode", "replace") == "append" {
		mode = connectors.AppendOnly
	}

	p := domain.NewPlaylist("", tl.Tracks)
	if err := deps.Spotify.UpdatePlaylist(ctx, spotifyPlaylistID, p, mode); err != nil {
		return nil, err
	}

	if internalID := intPtrConfig(config, "playlist_id"); internalID != nil {
		err = deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
			_, err := deps.Playlists.UpdatePlaylist(ctx, sess, int64(*internalID), p, strPtr("spotify"))
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{"track_count": len(tl.Tracks)}, nil
}

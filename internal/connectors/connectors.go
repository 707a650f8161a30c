// package connectors defines the external-service contract shared by the
// spotify, lastfm, and musicbrainz sub-packages.
package connectors

import (
	"context"

	"github.com/desertthunder/narada/internal/domain"
)

// UpdateMode controls how UpdatePlaylist reconciles a connector's track
// list with the given playlist.
type UpdateMode int

const (
	// ReplaceAll clears the remote playlist's tracks and writes p.Tracks.
	ReplaceAll UpdateMode = iota
	// AppendOnly adds p.Tracks to the remote playlist without removing
	// existing tracks.
	AppendOnly
)

// Connector is the playlist contract of an external music service
// integration; of the sub-packages, only spotify implements it (lastfm and
// musicbrainz expose track-level lookups only).
// GetPlaylist/CreatePlaylist/UpdatePlaylist never write matching
// information onto a domain.Track; they only populate
// ConnectorTrackIDs/ConnectorMetadata for the connector they represent.
type Connector interface {
	Name() string
	GetPlaylist(ctx context.Context, externalID string) (domain.Playlist, error)
	CreatePlaylist(ctx context.Context, p domain.Playlist, user string) (string, error)
	UpdatePlaylist(ctx context.Context, externalID string, p domain.Playlist, mode UpdateMode) error
}

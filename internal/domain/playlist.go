package domain

// Playlist is a persisted, ordered sequence of tracks. Ordering is
// intrinsic to the slice; callers never reorder in place.
type Playlist struct {
	ID                   *int64
	Name                 string
	Description          *string
	Tracks               []Track
	ConnectorPlaylistIDs map[string]string
}

// NewPlaylist constructs a Playlist with the given name and tracks.
func NewPlaylist(name string, tracks []Track) Playlist {
	return Playlist{
		Name:                 name,
		Tracks:               tracks,
		ConnectorPlaylistIDs: map[string]string{},
	}
}

func (p Playlist) clone() Playlist {
	ids := make(map[string]string, len(p.ConnectorPlaylistIDs))
	for k, v := range p.ConnectorPlaylistIDs {
		ids[k] = v
	}
	next := p
	next.ConnectorPlaylistIDs = ids
	return next
}

// WithTracks returns a new Playlist with tracks replaced.
func (p Playlist) WithTracks(tracks []Track) Playlist {
	next := p.clone()
	next.Tracks = tracks
	return next
}

// WithConnectorPlaylistID returns a new Playlist with connector mapped to
// id in ConnectorPlaylistIDs.
func (p Playlist) WithConnectorPlaylistID(connector, id string) Playlist {
	next := p.clone()
	next.ConnectorPlaylistIDs[connector] = id
	return next
}

// WithID returns a new Playlist with its persisted id bound.
func (p Playlist) WithID(id int64) Playlist {
	next := p.clone()
	next.ID = &id
	return next
}

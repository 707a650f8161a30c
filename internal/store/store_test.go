package store

import (
	"context"
	"testing"
	"time"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
)

type fixture struct {
	store     *Store
	tracks    *TrackStore
	connTrks  *ConnectorTrackStore
	metrics   *MetricStore
	likes     *LikeStore
	plays     *PlayStore
	checkpts  *CheckpointStore
	playlists *PlaylistStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	log := shared.NewLogger(nil)
	tracks := NewTrackStore(log)
	connTrks := NewConnectorTrackStore(log, tracks)
	return &fixture{
		store:     &Store{DB: db, Log: log},
		tracks:    tracks,
		connTrks:  connTrks,
		metrics:   NewMetricStore(log),
		likes:     NewLikeStore(log),
		plays:     NewPlayStore(log),
		checkpts:  NewCheckpointStore(log),
		playlists: NewPlaylistStore(log, tracks, connTrks),
	}
}

func mustArtist(t *testing.T, name string) domain.Artist {
	t.Helper()
	a, err := domain.NewArtist(name)
	if err != nil {
		t.Fatalf("NewArtist(%q): %v", name, err)
	}
	return a
}

func TestIngestExternalTrack_CreatesTrackConnectorTrackAndDirectMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var track domain.Track
	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		track, err = f.connTrks.IngestExternalTrack(ctx, sess, "spotify", "sp1",
			map[string]any{"popularity": 80.0}, "Song A", []domain.Artist{mustArtist(t, "Artist A")},
			domain.WithISRC("ISRC1"))
		return err
	})
	if err != nil {
		t.Fatalf("IngestExternalTrack: %v", err)
	}
	if track.ID == nil {
		t.Fatalf("expected track id to be bound")
	}
	if track.ConnectorTrackIDs["db"] == "" {
		t.Errorf("expected db connector track id to be set")
	}

	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		mappings, err := f.connTrks.GetConnectorMappings(ctx, sess, []int64{*track.ID}, nil)
		if err != nil {
			return err
		}
		ms := mappings[*track.ID]
		if len(ms) != 1 {
			t.Fatalf("expected 1 mapping, got %d", len(ms))
		}
		if ms[0].MatchMethod != domain.MatchMethodDirect || ms[0].Confidence != 100 {
			t.Errorf("expected direct/100 mapping, got %+v", ms[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verifying mapping: %v", err)
	}
}

func TestIngestExternalTrack_ReingestDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ingest := func() domain.Track {
		var track domain.Track
		err := f.store.WithTransaction(ctx, func(sess *Session) error {
			var err error
			track, err = f.connTrks.IngestExternalTrack(ctx, sess, "spotify", "sp1",
				map[string]any{"popularity": 10.0}, "Song A", []domain.Artist{mustArtist(t, "Artist A")},
				domain.WithISRC("ISRC1"))
			return err
		})
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		return track
	}

	first := ingest()
	second := ingest()

	if *first.ID != *second.ID {
		t.Errorf("expected the same canonical track id, got %d and %d", *first.ID, *second.ID)
	}

	var count int
	row := f.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_mappings WHERE is_deleted = 0`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("counting mappings: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 mapping after re-ingest, got %d", count)
	}
}

func TestSaveTrack_PrecedenceLookupByISRC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var first domain.Track
	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		first, err = f.tracks.SaveTrack(ctx, sess, mustTrack(t, "Title", "Artist", domain.WithISRC("X1")))
		return err
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var second domain.Track
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		incoming := mustTrack(t, "Title", "Artist", domain.WithISRC("X1"), domain.WithDurationMS(1000))
		var err error
		second, err = f.tracks.SaveTrack(ctx, sess, incoming)
		return err
	})
	if err != nil {
		t.Fatalf("save again: %v", err)
	}

	if *first.ID != *second.ID {
		t.Fatalf("expected same id for same isrc, got %d != %d", *first.ID, *second.ID)
	}
	if second.DurationMS == nil || *second.DurationMS != 1000 {
		t.Errorf("expected missing duration to be filled in, got %+v", second.DurationMS)
	}
}

func TestSaveTrack_NeverOverwritesExistingField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		_, err := f.tracks.SaveTrack(ctx, sess, mustTrack(t, "Title", "Artist", domain.WithISRC("X1"), domain.WithDurationMS(1000)))
		return err
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var second domain.Track
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		second, err = f.tracks.SaveTrack(ctx, sess, mustTrack(t, "Title", "Artist", domain.WithISRC("X1"), domain.WithDurationMS(999999)))
		return err
	})
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if *second.DurationMS != 1000 {
		t.Errorf("expected existing duration 1000 to be preserved, got %d", *second.DurationMS)
	}
}

func TestMapTrackToConnector_NeverRewritesMatchMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var track domain.Track
	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		track, err = f.tracks.SaveTrack(ctx, sess, mustTrack(t, "Title", "Artist"))
		if err != nil {
			return err
		}
		_, err = f.connTrks.MapTrackToConnector(ctx, sess, track, "lastfm", "lfm1", domain.MatchMethodArtistTitle, 85, nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		// re-observe the same mapping with a different (bogus) method/confidence
		_, err := f.connTrks.MapTrackToConnector(ctx, sess, track, "lastfm", "lfm1", domain.MatchMethodMBID, 95, nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("re-map: %v", err)
	}

	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		mappings, err := f.connTrks.GetConnectorMappings(ctx, sess, []int64{*track.ID}, nil)
		if err != nil {
			return err
		}
		ms := mappings[*track.ID]
		if len(ms) != 1 {
			t.Fatalf("expected exactly 1 mapping row, got %d", len(ms))
		}
		if ms[0].MatchMethod != domain.MatchMethodArtistTitle || ms[0].Confidence != 85 {
			t.Errorf("expected original match_method/confidence preserved, got %+v", ms[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMetricStore_NeverReturnsKeysOutsideIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		return f.metrics.SaveTrackMetrics(ctx, sess, []MetricPoint{
			{TrackID: 1, ConnectorName: "lastfm", MetricType: "lastfm_user_playcount", Value: 5},
			{TrackID: 2, ConnectorName: "lastfm", MetricType: "lastfm_user_playcount", Value: 9},
		})
	})
	if err != nil {
		t.Fatalf("save metrics: %v", err)
	}

	var values map[int64]float64
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		values, err = f.metrics.GetTrackMetrics(ctx, sess, []int64{1}, "lastfm_user_playcount", "lastfm", 24*time.Hour)
		return err
	})
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if _, ok := values[2]; ok {
		t.Errorf("expected id 2 to be excluded from result, got %v", values)
	}
	if values[1] != 5 {
		t.Errorf("expected id 1 -> 5, got %v", values)
	}
}

func TestMetricStore_UpsertKeepsLatestValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		if err := f.metrics.SaveTrackMetrics(ctx, sess, []MetricPoint{{TrackID: 1, ConnectorName: "lastfm", MetricType: "m", Value: 1}}); err != nil {
			return err
		}
		return f.metrics.SaveTrackMetrics(ctx, sess, []MetricPoint{{TrackID: 1, ConnectorName: "lastfm", MetricType: "m", Value: 2}})
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var values map[int64]float64
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		values, err = f.metrics.GetTrackMetrics(ctx, sess, []int64{1}, "m", "lastfm", 24*time.Hour)
		return err
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if values[1] != 2 {
		t.Errorf("expected upserted value 2, got %v", values[1])
	}
}

func TestPlaylistStore_SaveAndGetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := "spotify"

	tracks := []domain.Track{
		mustTrackWithConnector(t, "A", "Artist", "spotify", "spA", domain.WithISRC("I1")),
		mustTrackWithConnector(t, "B", "Artist", "spotify", "spB", domain.WithISRC("I2")),
		mustTrackWithConnector(t, "C", "Artist", "spotify", "spC"),
	}
	p := domain.NewPlaylist("My Playlist", tracks).WithConnectorPlaylistID("spotify", "pl1")

	var saved domain.Playlist
	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		saved, err = f.playlists.SavePlaylist(ctx, sess, p, &source)
		return err
	})
	if err != nil {
		t.Fatalf("save playlist: %v", err)
	}
	if saved.ID == nil {
		t.Fatalf("expected playlist id to be bound")
	}

	var fetched domain.Playlist
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		fetched, err = f.playlists.GetPlaylist(ctx, sess, *saved.ID)
		return err
	})
	if err != nil {
		t.Fatalf("get playlist: %v", err)
	}

	if len(fetched.Tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(fetched.Tracks))
	}
	if fetched.Tracks[0].Title != "A" || fetched.Tracks[1].Title != "B" || fetched.Tracks[2].Title != "C" {
		t.Errorf("expected ordering A,B,C, got %v", titlesOf(fetched.Tracks))
	}
	if fetched.ConnectorPlaylistIDs["spotify"] != "pl1" {
		t.Errorf("expected connector playlist id to round-trip")
	}

	var mappingCount int
	row := f.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_mappings WHERE is_deleted = 0`)
	if err := row.Scan(&mappingCount); err != nil {
		t.Fatalf("counting mappings: %v", err)
	}
	if mappingCount != 3 {
		t.Errorf("expected 3 direct mappings from ingest, got %d", mappingCount)
	}
}

func TestPlaylistStore_UpdateRemovesAndReordersTracks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := "spotify"

	tracks := []domain.Track{
		mustTrackWithConnector(t, "A", "Artist", "spotify", "spA"),
		mustTrackWithConnector(t, "B", "Artist", "spotify", "spB"),
	}
	p := domain.NewPlaylist("Playlist", tracks)

	var saved domain.Playlist
	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		saved, err = f.playlists.SavePlaylist(ctx, sess, p, &source)
		return err
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	// Reorder: B, then a new track C; drop A.
	reordered := domain.NewPlaylist("Playlist", []domain.Track{
		saved.Tracks[1],
		mustTrackWithConnector(t, "C", "Artist", "spotify", "spC"),
	})

	var updated domain.Playlist
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		updated, err = f.playlists.UpdatePlaylist(ctx, sess, *saved.ID, reordered, &source)
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(updated.Tracks) != 2 {
		t.Fatalf("expected 2 tracks after update, got %d", len(updated.Tracks))
	}
	if updated.Tracks[0].Title != "B" || updated.Tracks[1].Title != "C" {
		t.Errorf("expected order B,C, got %v", titlesOf(updated.Tracks))
	}
}

func TestCheckpointStore_UpsertRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := f.store.WithTransaction(ctx, func(sess *Session) error {
		return f.checkpts.SaveCheckpoint(ctx, sess, "user1", "lastfm", "plays", &ts, nil)
	})
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	var got *Checkpoint
	err = f.store.WithTransaction(ctx, func(sess *Session) error {
		var err error
		got, err = f.checkpts.GetCheckpoint(ctx, sess, "user1", "lastfm", "plays")
		return err
	})
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if got == nil || got.LastTimestamp == nil || !got.LastTimestamp.Equal(ts) {
		t.Errorf("expected checkpoint timestamp %v, got %+v", ts, got)
	}
}

func mustTrack(t *testing.T, title, artist string, opts ...domain.TrackOption) domain.Track {
	t.Helper()
	track, err := domain.NewTrack(title, []domain.Artist{mustArtist(t, artist)}, opts...)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	return track
}

func mustTrackWithConnector(t *testing.T, title, artist, connector, connectorID string, opts ...domain.TrackOption) domain.Track {
	t.Helper()
	track := mustTrack(t, title, artist, opts...)
	return track.WithConnectorTrackID(connector, connectorID)
}

func titlesOf(tracks []domain.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

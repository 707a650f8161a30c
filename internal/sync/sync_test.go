package sync

import (
	"context"
	"testing"
	"time"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
	"github.com/desertthunder/narada/internal/store"
)

func newDeps(t *testing.T) Deps {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	l := shared.NewLogger(nil)
	return Deps{
		Store:       &store.Store{DB: db, Log: l},
		Tracks:      store.NewTrackStore(l),
		Likes:       store.NewLikeStore(l),
		Plays:       store.NewPlayStore(l),
		Checkpoints: store.NewCheckpointStore(l),
		Log:         l,
	}
}

func mustTrack(t *testing.T, title, artist string) domain.Track {
	t.Helper()
	a, err := domain.NewArtist(artist)
	if err != nil {
		t.Fatalf("NewArtist: %v", err)
	}
	tr, err := domain.NewTrack(title, []domain.Artist{a})
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	return tr
}

type fakeLikedTracksSource struct {
	pages []LikedTracksPage
	calls int
}

func (f *fakeLikedTracksSource) GetLikedTracks(ctx context.Context, cursor *string, limit int) (LikedTracksPage, error) {
	if f.calls >= len(f.pages) {
		return LikedTracksPage{}, nil
	}
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

func TestImportLikedTracks_ImportsAndChecksPointsAcrossPages(t *testing.T) {
	deps := newDeps(t)
	liked1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	liked2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cursor := "page2"

	source := &fakeLikedTracksSource{pages: []LikedTracksPage{
		{Tracks: []LikedTrack{{Track: mustTrack(t, "A", "X"), LikedAt: liked1}}, NextCursor: &cursor},
		{Tracks: []LikedTrack{{Track: mustTrack(t, "B", "Y"), LikedAt: liked2}}, NextCursor: nil},
	}}

	stats, err := ImportLikedTracks(context.Background(), deps, source, "user1", "spotify", nil, nil)
	if err != nil {
		t.Fatalf("ImportLikedTracks: %v", err)
	}
	if stats.Imported != 2 {
		t.Errorf("expected 2 imported, got %+v", stats)
	}

	checkpoint, err := deps.Checkpoints.GetCheckpoint(context.Background(), deps.Store.ReadSession(), "user1", "spotify", entityLikes)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if checkpoint == nil || checkpoint.LastTimestamp == nil || !checkpoint.LastTimestamp.Equal(liked2) {
		t.Errorf("expected checkpoint timestamp to be the latest liked_at, got %+v", checkpoint)
	}
}

func TestImportLikedTracks_RespectsMaxImports(t *testing.T) {
	deps := newDeps(t)
	liked := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeLikedTracksSource{pages: []LikedTracksPage{
		{Tracks: []LikedTrack{
			{Track: mustTrack(t, "A", "X"), LikedAt: liked},
			{Track: mustTrack(t, "B", "Y"), LikedAt: liked},
		}, NextCursor: nil},
	}}

	max := 1
	stats, err := ImportLikedTracks(context.Background(), deps, source, "user1", "spotify", &max, nil)
	if err != nil {
		t.Fatalf("ImportLikedTracks: %v", err)
	}
	if stats.Imported != 1 {
		t.Errorf("expected import to stop at max, got %d", stats.Imported)
	}
}

type fakeLastFMLoveClient struct {
	loved []string
}

func (f *fakeLastFMLoveClient) LoveTrack(ctx context.Context, artist, title, sessionKey string) error {
	f.loved = append(f.loved, artist+" - "+title)
	return nil
}

func TestExportLovesToLastFM_ExportsUnsyncedCanonicalLikes(t *testing.T) {
	deps := newDeps(t)
	ctx := context.Background()

	var trackID int64
	err := deps.Store.WithTransaction(ctx, func(sess *store.Session) error {
		saved, err := deps.Tracks.SaveTrack(ctx, sess, mustTrack(t, "Loved", "X"))
		if err != nil {
			return err
		}
		trackID = *saved.ID
		likedAt := time.Now().UTC()
		return deps.Likes.SetLike(ctx, sess, trackID, "narada", true, &likedAt)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	client := &fakeLastFMLoveClient{}
	stats, err := ExportLovesToLastFM(ctx, deps, client, "user1", "sesskey", nil, nil)
	if err != nil {
		t.Fatalf("ExportLovesToLastFM: %v", err)
	}
	if stats.Exported != 1 {
		t.Errorf("expected 1 export, got %+v", stats)
	}
	if len(client.loved) != 1 || client.loved[0] != "X - Loved" {
		t.Errorf("expected lastfm love call, got %v", client.loved)
	}

	stats2, err := ExportLovesToLastFM(ctx, deps, client, "user1", "sesskey", nil, nil)
	if err != nil {
		t.Fatalf("second ExportLovesToLastFM: %v", err)
	}
	if stats2.Exported != 0 {
		t.Errorf("expected already-synced like to be excluded on rerun, got %+v", stats2)
	}
	_ = trackID
}

type fakeRecentTracksClient struct {
	pages []RecentTracksPage
	calls int
}

func (f *fakeRecentTracksClient) RecentTracks(ctx context.Context, user string, from, to *time.Time, page, limit int) (RecentTracksPage, error) {
	if f.calls >= len(f.pages) {
		return RecentTracksPage{}, nil
	}
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

func TestImportPlayHistory_RecordsPlaysAndAdvancesCheckpoint(t *testing.T) {
	deps := newDeps(t)
	played := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	client := &fakeRecentTracksClient{pages: []RecentTracksPage{
		{Tracks: []RecentScrobble{{Artist: "X", Title: "A", PlayedAt: played}}, NextPage: 0, TotalPages: 1},
	}}

	stats, err := ImportPlayHistory(context.Background(), deps, client, "user1", nil)
	if err != nil {
		t.Fatalf("ImportPlayHistory: %v", err)
	}
	if stats.Imported != 1 {
		t.Errorf("expected 1 play imported, got %+v", stats)
	}

	checkpoint, err := deps.Checkpoints.GetCheckpoint(context.Background(), deps.Store.ReadSession(), "user1", "lastfm", entityPlays)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if checkpoint == nil || checkpoint.LastTimestamp == nil || !checkpoint.LastTimestamp.Equal(played) {
		t.Errorf("expected checkpoint advanced to latest play, got %+v", checkpoint)
	}
}

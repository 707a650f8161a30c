package matcher

import (
	"context"
	"testing"

	"github.com/desertthunder/narada/internal/connectors/lastfm"
	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
	"github.com/desertthunder/narada/internal/store"
)

type fakeLastFM struct {
	byMBID        map[string]lastfm.TrackInfo
	byArtistTitle map[string]lastfm.TrackInfo
	calls         int
}

func (f *fakeLastFM) GetTrackInfo(ctx context.Context, title string, artists []string, mbid, user *string) (lastfm.TrackInfo, error) {
	f.calls++
	if mbid != nil {
		if info, ok := f.byMBID[*mbid]; ok {
			return info, nil
		}
		return lastfm.TrackInfo{}, shared.ErrNotFound
	}
	key := title
	if len(artists) > 0 {
		key = artists[0] + "::" + title
	}
	if info, ok := f.byArtistTitle[key]; ok {
		return info, nil
	}
	return lastfm.TrackInfo{}, shared.ErrNotFound
}

type fakeMusicBrainz struct {
	isrcToMBID map[string]string
}

func (f *fakeMusicBrainz) BatchISRCLookup(ctx context.Context, isrcs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, isrc := range isrcs {
		if mbid, ok := f.isrcToMBID[isrc]; ok {
			out[isrc] = mbid
		}
	}
	return out, nil
}

func newMatcherFixture(t *testing.T) (*store.Store, *store.ConnectorTrackStore, *store.MetricStore) {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.RunMigrations(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	log := shared.NewLogger(nil)
	tracks := store.NewTrackStore(log)
	connTrks := store.NewConnectorTrackStore(log, tracks)
	return &store.Store{DB: db, Log: log}, connTrks, store.NewMetricStore(log)
}

func mustTrack(t *testing.T, title, artist string, opts ...domain.TrackOption) domain.Track {
	t.Helper()
	a, err := domain.NewArtist(artist)
	if err != nil {
		t.Fatalf("NewArtist: %v", err)
	}
	tr, err := domain.NewTrack(title, []domain.Artist{a}, opts...)
	if err != nil {
		t.Fatalf("NewTrack: %v", err)
	}
	return tr
}

func TestResolve_RejectsUnsupportedTarget(t *testing.T) {
	_, err := Resolve(context.Background(), MatcherDeps{}, nil, "spotify", nil)
	if err == nil {
		t.Fatal("expected error for unsupported target")
	}
}

func TestResolve_ArtistTitleFallbackWhenNoMBID(t *testing.T) {
	lfm := &fakeLastFM{byArtistTitle: map[string]lastfm.TrackInfo{
		"Artist A::Song A": {MBID: "mbid-1", UserPlayCount: intPtr(12)},
	}}

	track := mustTrack(t, "Song A", "Artist A", domain.WithDurationMS(200000))
	track = track.WithID(1)

	results, err := Resolve(context.Background(), MatcherDeps{LastFM: lfm}, []domain.Track{track}, "lastfm", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r, ok := results[1]
	if !ok || !r.Success {
		t.Fatalf("expected a successful match, got %+v", results)
	}
	if r.Mapping.MatchMethod != domain.MatchMethodArtistTitle {
		t.Errorf("expected match method %q, got %q", domain.MatchMethodArtistTitle, r.Mapping.MatchMethod)
	}
	if r.Mapping.Confidence != confidenceArtistTitle {
		t.Errorf("expected confidence %d, got %d", confidenceArtistTitle, r.Mapping.Confidence)
	}
}

func TestResolve_MissingDurationAppliesPenalty(t *testing.T) {
	lfm := &fakeLastFM{byArtistTitle: map[string]lastfm.TrackInfo{
		"Artist A::Song A": {MBID: "mbid-1"},
	}}

	track := mustTrack(t, "Song A", "Artist A")
	track = track.WithID(1)

	results, err := Resolve(context.Background(), MatcherDeps{LastFM: lfm}, []domain.Track{track}, "lastfm", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := confidenceArtistTitle - durationMissingPenalty
	if results[1].Mapping.Confidence != want {
		t.Errorf("expected confidence %d, got %d", want, results[1].Mapping.Confidence)
	}
}

func TestResolve_PreResolvedMBIDPreferredOverArtistTitle(t *testing.T) {
	lfm := &fakeLastFM{byMBID: map[string]lastfm.TrackInfo{
		"mbid-1": {MBID: "mbid-1", UserPlayCount: intPtr(5)},
	}}
	mb := &fakeMusicBrainz{isrcToMBID: map[string]string{"ISRC1": "mbid-1"}}

	track := mustTrack(t, "Song A", "Artist A", domain.WithISRC("ISRC1"), domain.WithDurationMS(1))
	track = track.WithID(1)

	results, err := Resolve(context.Background(), MatcherDeps{LastFM: lfm, MusicBrainz: mb}, []domain.Track{track}, "lastfm", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r := results[1]
	if !r.Success || r.Mapping.MatchMethod != domain.MatchMethodMBID {
		t.Fatalf("expected an mbid match, got %+v", r)
	}
	if r.Mapping.Confidence != confidenceMBID {
		t.Errorf("expected confidence %d, got %d", confidenceMBID, r.Mapping.Confidence)
	}
	if lfm.calls != 1 {
		t.Errorf("expected only the mbid lookup, got %d calls", lfm.calls)
	}
}

func TestResolve_NoMatchReturnsUnsuccessfulResult(t *testing.T) {
	lfm := &fakeLastFM{}
	track := mustTrack(t, "Unknown Song", "Unknown Artist")
	track = track.WithID(1)

	results, err := Resolve(context.Background(), MatcherDeps{LastFM: lfm}, []domain.Track{track}, "lastfm", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if results[1].Success {
		t.Errorf("expected an unsuccessful result, got %+v", results[1])
	}
}

func TestResolve_DatabasePhaseSkipsAPICallAndUsesCachedConfidence(t *testing.T) {
	s, connTrks, metrics := newMatcherFixture(t)
	ctx := context.Background()

	artist := mustArtist(t, "Artist A")
	var trackID int64
	err := s.WithTransaction(ctx, func(sess *store.Session) error {
		track, err := connTrks.IngestExternalTrack(ctx, sess, "spotify", "sp1", nil, "Song A", []domain.Artist{artist})
		if err != nil {
			return err
		}
		trackID = *track.ID
		if _, err := connTrks.MapTrackToConnector(ctx, sess, track, "lastfm", "lfm-url-1",
			domain.MatchMethodArtistTitle, 85, nil, nil); err != nil {
			return err
		}
		return metrics.SaveTrackMetrics(ctx, sess, []store.MetricPoint{
			{TrackID: trackID, ConnectorName: "lastfm", MetricType: lastfmPlayCountMetric, Value: 42},
		})
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	lfm := &fakeLastFM{}
	var results map[int64]MatchResult
	err = s.WithTransaction(ctx, func(sess *store.Session) error {
		var err error
		results, err = Resolve(ctx, MatcherDeps{
			Session: sess, LastFM: lfm, ConnTracks: connTrks, Metrics: metrics,
		}, []domain.Track{{ID: &trackID, Title: "Song A", Artists: []domain.Artist{artist}}}, "lastfm", nil)
		return err
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r := results[trackID]
	if !r.Success || r.Mapping.MatchMethod != domain.MatchMethodCached {
		t.Fatalf("expected a cached match, got %+v", r)
	}
	if r.Mapping.Confidence != confidenceCached {
		t.Errorf("expected confidence %d, got %d", confidenceCached, r.Mapping.Confidence)
	}
	if lfm.calls != 0 {
		t.Errorf("expected the database phase to skip the api entirely, got %d calls", lfm.calls)
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

func intPtr(n int) *int { return &n }

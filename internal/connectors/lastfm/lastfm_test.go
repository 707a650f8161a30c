package lastfm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/narada/internal/shared"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewConnector(shared.LastFMConfig{Key: "test-key", RateLimit: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.http.SetBaseURL(srv.URL + "/")
	return c
}

func TestGetTrackInfoFallsBackAcrossArtists(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		artist := r.URL.Query().Get("artist")
		w.Header().Set("Content-Type", "application/json")
		if artist == "Correct Artist" {
			json.NewEncoder(w).Encode(map[string]any{
				"track": map[string]string{"mbid": "mbid-1", "listeners": "100", "playcount": "500"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"error": 6, "message": "Track not found"})
	})

	info, err := c.GetTrackInfo(context.Background(), "Some Song", []string{"Wrong Artist", "Correct Artist"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.MBID != "mbid-1" {
		t.Errorf("expected mbid-1, got %s", info.MBID)
	}
	if info.Listeners != 100 {
		t.Errorf("expected 100 listeners, got %d", info.Listeners)
	}
}

func TestGetTrackInfoAllArtistsFail(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"error": 6, "message": "Track not found"})
	})

	_, err := c.GetTrackInfo(context.Background(), "Some Song", []string{"A", "B"}, nil, nil)
	if err == nil {
		t.Fatal("expected error when no artist matches")
	}
}

func TestRecentTracksSkipsNowPlaying(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"recenttracks": map[string]any{
				"track": []map[string]any{
					{"name": "Now Playing Track", "artist": map[string]string{"#text": "Artist"}, "date": map[string]string{}},
					{"name": "Past Track", "artist": map[string]string{"#text": "Artist"}, "date": map[string]string{"uts": "1600000000"}},
				},
				"@attr": map[string]string{"page": "1", "totalPages": "1"},
			},
		})
	})

	page, err := c.RecentTracks(context.Background(), "testuser", nil, nil, 1, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Tracks) != 1 {
		t.Fatalf("expected 1 track (now-playing entry skipped), got %d", len(page.Tracks))
	}
	if page.Tracks[0].Title != "Past Track" {
		t.Errorf("expected Past Track, got %s", page.Tracks[0].Title)
	}
}

package workflow

import (
	"context"
	"testing"

	"github.com/desertthunder/narada/internal/domain"
)

func TestConcatenatePlaylistsNode(t *testing.T) {
	first := domain.NewTrackList([]domain.Track{mustTrack(t, "A", "X")})
	second := domain.NewTrackList([]domain.Track{mustTrack(t, "B", "Y")})

	wfctx := map[string]any{
		"first":  map[string]any{"tracklist": first},
		"second": map[string]any{"tracklist": second},
	}

	result, err := concatenatePlaylistsNode(context.Background(), wfctx, map[string]any{
		"inputs": []any{"first", "second"},
	})
	if err != nil {
		t.Fatalf("concatenatePlaylistsNode: %v", err)
	}
	out := result["tracklist"].(domain.TrackList)
	if len(out.Tracks) != 2 {
		t.Errorf("expected 2 tracks, got %d", len(out.Tracks))
	}
}

func TestMergePlaylistsNode_Deduplicates(t *testing.T) {
	a := mustTrack(t, "A", "X").WithID(1)
	first := domain.NewTrackList([]domain.Track{a})
	second := domain.NewTrackList([]domain.Track{a})

	wfctx := map[string]any{
		"first":  map[string]any{"tracklist": first},
		"second": map[string]any{"tracklist": second},
	}

	result, err := mergePlaylistsNode(context.Background(), wfctx, map[string]any{
		"inputs": []any{"first", "second"},
	})
	if err != nil {
		t.Fatalf("mergePlaylistsNode: %v", err)
	}
	out := result["tracklist"].(domain.TrackList)
	if len(out.Tracks) != 1 {
		t.Errorf("expected merge to dedupe down to 1 track, got %d", len(out.Tracks))
	}
}

func TestInterleavePlaylistsNode(t *testing.T) {
	first := domain.NewTrackList([]domain.Track{mustTrack(t, "A1", "X"), mustTrack(t, "A2", "X")})
	second := domain.NewTrackList([]domain.Track{mustTrack(t, "B1", "Y")})

	wfctx := map[string]any{
		"first":  map[string]any{"tracklist": first},
		"second": map[string]any{"tracklist": second},
	}

	result, err := interleavePlaylistsNode(context.Background(), wfctx, map[string]any{
		"inputs":        []any{"first", "second"},
		"stop_on_empty": true,
	})
	if err != nil {
		t.Fatalf("interleavePlaylistsNode: %v", err)
	}
	out := result["tracklist"].(domain.TrackList)
	if len(out.Tracks) != 2 {
		t.Errorf("expected interleave to stop once second is exhausted, got %d tracks", len(out.Tracks))
	}
}

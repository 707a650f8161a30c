package domain

import (
	"errors"
	"testing"

	"github.com/desertthunder/narada/internal/shared"
)

func TestNewConnectorTrackMapping(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		m, err := NewConnectorTrackMapping("spotify", "abc123", MatchMethodDirect, 100, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Confidence != 100 {
			t.Errorf("expected confidence 100, got %d", m.Confidence)
		}
	})

	t.Run("invalid match method", func(t *testing.T) {
		_, err := NewConnectorTrackMapping("spotify", "abc123", "fuzzy", 50, nil)
		if !errors.Is(err, shared.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("confidence out of range", func(t *testing.T) {
		_, err := NewConnectorTrackMapping("spotify", "abc123", MatchMethodMBID, 150, nil)
		if !errors.Is(err, shared.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("empty identifiers", func(t *testing.T) {
		_, err := NewConnectorTrackMapping("", "abc123", MatchMethodDirect, 100, nil)
		if !errors.Is(err, shared.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

package domain

import (
	"fmt"

	"github.com/desertthunder/narada/internal/shared"
)

// Match methods a ConnectorTrackMapping may carry. MatchMethodISRC covers
// mappings resolved through an ISRC->MBID lookup; the upstream system this
// was ported from calls the lookup table entry "isrc_mbid" but persists the
// mapping itself with match_method "isrc" — that is the spelling kept here.
const (
	MatchMethodDirect     = "direct"
	MatchMethodISRC       = "isrc"
	MatchMethodMBID       = "mbid"
	MatchMethodArtistTitle = "artist_title"
	MatchMethodCached     = "cached"
)

var validMatchMethods = map[string]bool{
	MatchMethodDirect:      true,
	MatchMethodISRC:        true,
	MatchMethodMBID:        true,
	MatchMethodArtistTitle: true,
	MatchMethodCached:      true,
}

// ConnectorTrackMapping is the cross-service identity edge between a
// canonical Track and its representation on an external connector.
type ConnectorTrackMapping struct {
	ConnectorName    string
	ConnectorTrackID string
	MatchMethod      string
	Confidence       int
	Metadata         map[string]any
}

// NewConnectorTrackMapping validates and returns a ConnectorTrackMapping.
func NewConnectorTrackMapping(connectorName, connectorTrackID, matchMethod string, confidence int, metadata map[string]any) (ConnectorTrackMapping, error) {
	if connectorName == "" || connectorTrackID == "" {
		return ConnectorTrackMapping{}, fmt.Errorf("%w: connector name and track id must not be empty", shared.ErrValidation)
	}
	if !validMatchMethods[matchMethod] {
		return ConnectorTrackMapping{}, fmt.Errorf("%w: unknown match method %q", shared.ErrValidation, matchMethod)
	}
	if confidence < 0 || confidence > 100 {
		return ConnectorTrackMapping{}, fmt.Errorf("%w: confidence must be within [0,100], got %d", shared.ErrValidation, confidence)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ConnectorTrackMapping{
		ConnectorName:    connectorName,
		ConnectorTrackID: connectorTrackID,
		MatchMethod:      matchMethod,
		Confidence:       confidence,
		Metadata:         metadata,
	}, nil
}

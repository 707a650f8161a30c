package matcher

// Confidence scores assigned per match method, mirroring
// original_source/narada/core/matcher.py's RESOLUTION_CONFIG["confidence"]
// table.
const (
	confidenceCached       = 98
	confidenceMBID         = 95
	confidenceArtistTitle  = 85
	confidenceMissingMBID  = 90 // the ISRC->MBID mapping persisted alongside a lastfm match
	durationMissingPenalty = 5
)

// lastfmPlayCountMetric is the TrackMetric.MetricType used for lastfm play
// counts, shared with internal/metrics.FieldMappings/MetricFreshness so the
// matcher's database-phase cache and internal/metrics.Resolve populate the
// same rows.
const lastfmPlayCountMetric = "lastfm_user_playcount"

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

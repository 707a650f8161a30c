// package metrics is the declarative metric resolver registry (§4.E): a
// static {metric -> (connector, field, TTL)} table, and a Resolve function
// that reads from persisted connector metadata and writes derived metric
// rows. It is a direct port of
// original_source/narada/integrations/metrics_config.py's static tables.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/store"
)

// ConnectorMetrics lists, for each connector, the metric names its
// metadata can resolve.
var ConnectorMetrics = map[string][]string{
	"lastfm":  {"lastfm_user_playcount", "lastfm_global_playcount", "lastfm_listeners"},
	"spotify": {"spotify_popularity"},
}

// FieldMappings maps a metric name to the connector_metadata field name
// that holds its raw value.
var FieldMappings = map[string]string{
	"lastfm_user_playcount":   "user_playcount",
	"lastfm_global_playcount": "global_playcount",
	"lastfm_listeners":        "listeners",
	"spotify_popularity":      "popularity",
}

// ConnectorFor maps a metric name to the connector it is sourced from.
var ConnectorFor = map[string]string{
	"lastfm_user_playcount":   "lastfm",
	"lastfm_global_playcount": "lastfm",
	"lastfm_listeners":        "lastfm",
	"spotify_popularity":      "spotify",
}

const defaultFreshness = 24 * time.Hour

// MetricFreshness maps a metric name to its TTL. A metric absent from this
// table uses defaultFreshness (24h).
var MetricFreshness = map[string]time.Duration{
	"lastfm_user_playcount": 1 * time.Hour,
}

func freshnessFor(metricName string) time.Duration {
	if ttl, ok := MetricFreshness[metricName]; ok {
		return ttl
	}
	return defaultFreshness
}

// Resolve implements the §4.E algorithm: query TrackMetric for ids newer
// than the metric's TTL; for misses, read connector_metadata[connector][field]
// for those ids, convert to float64, upsert into TrackMetric, and merge
// into the result. Values that fail float conversion are logged and
// skipped rather than failing the whole call. The returned map is always
// integer-keyed, matching Invariant 4.
func Resolve(
	ctx context.Context, sess *store.Session, l *log.Logger,
	metricStore *store.MetricStore, connTrackStore *store.ConnectorTrackStore,
	metricName string, trackIDs []int64,
) (map[int64]float64, error) {
	connector, ok := ConnectorFor[metricName]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metricName)
	}
	field := FieldMappings[metricName]

	result, err := metricStore.GetTrackMetrics(ctx, sess, trackIDs, metricName, connector, freshnessFor(metricName))
	if err != nil {
		return nil, err
	}

	var missing []int64
	for _, id := range trackIDs {
		if _, ok := result[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	rawMeta, err := connTrackStore.GetConnectorMetadata(ctx, sess, missing, connector, &field)
	if err != nil {
		return nil, err
	}

	var points []store.MetricPoint
	for id, meta := range rawMeta {
		raw, ok := meta[field]
		if !ok {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			l.Warn("metric value could not be converted to float, skipping", "metric", metricName, "track_id", id, "value", raw)
			continue
		}
		result[id] = value
		points = append(points, store.MetricPoint{TrackID: id, ConnectorName: connector, MetricType: metricName, Value: value})
	}

	if len(points) > 0 {
		if err := metricStore.SaveTrackMetrics(ctx, sess, points); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

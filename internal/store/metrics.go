package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// MetricPoint is one upsertable (track, connector, metric_type) -> value
// observation.
type MetricPoint struct {
	TrackID       int64
	ConnectorName string
	MetricType    string
	Value         float64
}

// MetricStore persists TrackMetric points, upserting on the unique
// (track_id, connector_name, metric_type) constraint: each key holds one
// row whose value and collected_at are overwritten by every save, so reads
// see the latest value and earlier values are not kept.
type MetricStore struct {
	log *log.Logger
}

// NewMetricStore builds a MetricStore.
func NewMetricStore(l *log.Logger) *MetricStore {
	return &MetricStore{log: l}
}

// GetTrackMetrics returns the most-recent value per track for metricType
// on connector, among ids, newer than maxAge. It never returns keys
// outside ids (a Testable Property).
func (ms *MetricStore) GetTrackMetrics(ctx context.Context, sess *Session, ids []int64, metricType, connector string, maxAge time.Duration) (map[int64]float64, error) {
	started := time.Now()
	out := make(map[int64]float64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := placeholdersFor(ids)
	args = append(args, metricType, connector)
	q := fmt.Sprintf(`
		SELECT track_id, value, collected_at FROM track_metrics
		WHERE is_deleted = 0 AND track_id IN (%s) AND metric_type = ? AND connector_name = ?
		ORDER BY collected_at DESC`, placeholders)

	rows, err := sess.exec.QueryContext(ctx, q, args...)
	if err != nil {
		logTiming(ms.log, "GetTrackMetrics", started, err)
		return nil, classifyErr(err, "track_metrics")
	}
	defer rows.Close()

	cutoff := time.Now().UTC().Add(-maxAge)
	seen := make(map[int64]bool, len(ids))
	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	for rows.Next() {
		var trackID int64
		var value float64
		var collectedAt sql.NullString
		if err := rows.Scan(&trackID, &value, &collectedAt); err != nil {
			return nil, classifyErr(err, "track_metrics")
		}
		if !idSet[trackID] || seen[trackID] {
			continue
		}
		seen[trackID] = true

		if maxAge > 0 {
			ts := nullStringToTime(collectedAt)
			if ts == nil || ts.Before(cutoff) {
				continue
			}
		}
		out[trackID] = value
	}

	err = rows.Err()
	logTiming(ms.log, "GetTrackMetrics", started, err)
	return out, err
}

// SaveTrackMetrics upserts each point by its unique (track_id,
// connector_name, metric_type) constraint.
func (ms *MetricStore) SaveTrackMetrics(ctx context.Context, sess *Session, points []MetricPoint) error {
	started := time.Now()
	for _, p := range points {
		_, err := sess.exec.ExecContext(ctx, `
			INSERT INTO track_metrics (track_id, connector_name, metric_type, value, collected_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (track_id, connector_name, metric_type)
			DO UPDATE SET value = excluded.value, collected_at = excluded.collected_at, updated_at = excluded.collected_at, is_deleted = 0, deleted_at = NULL`,
			p.TrackID, p.ConnectorName, p.MetricType, p.Value, nowString())
		if err != nil {
			logTiming(ms.log, "SaveTrackMetrics", started, err)
			return classifyErr(err, "track_metrics")
		}
	}
	logTiming(ms.log, "SaveTrackMetrics", started, nil)
	return nil
}

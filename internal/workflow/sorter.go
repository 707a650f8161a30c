package workflow

import (
	"context"
	"fmt"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
	"github.com/desertthunder/narada/internal/transform"
)

func init() {
	Register("sorter.apply", sorterNode, Metadata{
		Description: "dispatches to transform.SortByAttribute by sort_by",
		Category:    CategorySorter,
	})
}

// sorterNode reads config["input"] (a task id), config["sort_by"]
// ("duration", "release_date", or "metric"), and config["reverse"]. A
// sort_by of "metric" additionally requires config["metric_name"].
func sorterNode(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	inputTask, err := stringConfig(config, "input")
	if err != nil {
		return nil, err
	}
	tl, err := trackListFrom(wfctx, inputTask)
	if err != nil {
		return nil, err
	}

	sortBy, err := stringConfig(config, "sort_by")
	if err != nil {
		return nil, err
	}
	reverse := boolConfig(config, "reverse", false)

	var keyFn func(domain.Track) *float64
	switch sortBy {
	case "duration":
		keyFn = func(t domain.Track) *float64 {
			if t.DurationMS == nil {
				return nil
			}
			v := float64(*t.DurationMS)
			return &v
		}

	case "release_date":
		keyFn = func(t domain.Track) *float64 {
			if t.ReleaseDate == nil {
				return nil
			}
			v := float64(t.ReleaseDate.Unix())
			return &v
		}

	case "metric":
		metricName, err := stringConfig(config, "metric_name")
		if err != nil {
			return nil, err
		}
		values, err := tl.MetricsFor(metricName)
		if err != nil {
			return nil, err
		}
		keyFn = func(t domain.Track) *float64 {
			if t.ID == nil {
				return nil
			}
			if v, ok := values[*t.ID]; ok {
				return &v
			}
			return nil
		}

	default:
		return nil, fmt.Errorf("%w: unknown sort_by %q", shared.ErrValidation, sortBy)
	}

	out, err := transform.SortByAttribute(keyFn, sortBy, reverse)(tl)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

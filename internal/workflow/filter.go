package workflow

import (
	"context"
	"fmt"

	"github.com/desertthunder/narada/internal/shared"
	"github.com/desertthunder/narada/internal/transform"
)

func init() {
	Register("filter.apply", filterNode, Metadata{
		Description: "dispatches to an internal/transform filter constructor by filter_type",
		Category:    CategoryFilter,
	})
}

// filterNode reads config["input"] (a task id) and config["filter_type"],
// applying the matching transform constructor. by_tracks and by_artists
// additionally read config["exclusion_source"], another task id, whose
// tracklist supplies the reference set to exclude against.
func filterNode(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	inputTask, err := stringConfig(config, "input")
	if err != nil {
		return nil, err
	}
	tl, err := trackListFrom(wfctx, inputTask)
	if err != nil {
		return nil, err
	}

	filterType, err := stringConfig(config, "filter_type")
	if err != nil {
		return nil, err
	}

	var fn transform.Func
	switch filterType {
	case "by_duplicates":
		fn = transform.FilterDuplicates()

	case "by_date_range":
		fn = transform.FilterByDateRange(intPtrConfig(config, "min_age_days"), intPtrConfig(config, "max_age_days"))

	case "by_tracks":
		exclusionSource, err := stringConfig(config, "exclusion_source")
		if err != nil {
			return nil, err
		}
		ref, err := trackListFrom(wfctx, exclusionSource)
		if err != nil {
			return nil, err
		}
		fn = transform.ExcludeTracks(ref.Tracks)

	case "by_artists":
		exclusionSource, err := stringConfig(config, "exclusion_source")
		if err != nil {
			return nil, err
		}
		ref, err := trackListFrom(wfctx, exclusionSource)
		if err != nil {
			return nil, err
		}
		fn = transform.ExcludeArtists(ref.Tracks, boolConfig(config, "all_artists", false))

	case "by_metric_range":
		metricName, err := stringConfig(config, "metric_name")
		if err != nil {
			return nil, err
		}
		fn = transform.FilterByMetricRange(metricName, floatPtrConfig(config, "min"), floatPtrConfig(config, "max"),
			boolConfig(config, "include_missing", false))

	default:
		return nil, fmt.Errorf("%w: unknown filter_type %q", shared.ErrValidation, filterType)
	}

	out, err := fn(tl)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

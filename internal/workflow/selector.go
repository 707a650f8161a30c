package workflow

import (
	"context"

	"github.com/desertthunder/narada/internal/transform"
)

func init() {
	Register("selector.limit_tracks", limitTracksNode, Metadata{
		Description: "keeps count tracks from the input tracklist by method",
		Category:    CategorySelector,
	})
}

// limitTracksNode reads config["input"] (a task id), config["count"], and
// an optional config["method"] ("first", "last", or "random"; defaults to
// "first").
func limitTracksNode(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	inputTask, err := stringConfig(config, "input")
	if err != nil {
		return nil, err
	}
	tl, err := trackListFrom(wfctx, inputTask)
	if err != nil {
		return nil, err
	}

	count, err := intConfig(config, "count")
	if err != nil {
		return nil, err
	}
	method := optionalStringConfig(config, "method", "first")

	out, err := transform.SelectByMethod(count, method)(tl)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

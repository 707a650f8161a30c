package workflow

import (
	"context"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/transform"
)

func init() {
	Register("combiner.merge_playlists", mergePlaylistsNode, Metadata{
		Description: "concatenates and deduplicates several tracklists by id",
		Category:    CategoryCombiner,
	})
	Register("combiner.concatenate_playlists", concatenatePlaylistsNode, Metadata{
		Description: "appends several tracklists in order, no dedup",
		Category:    CategoryCombiner,
	})
	Register("combiner.interleave_playlists", interleavePlaylistsNode, Metadata{
		Description: "round-robins across several tracklists",
		Category:    CategoryCombiner,
	})
}

func combinerInputs(wfctx, config map[string]any) ([]domain.TrackList, error) {
	taskIDs, err := stringSliceConfig(config, "inputs")
	if err != nil {
		return nil, err
	}
	lists := make([]domain.TrackList, 0, len(taskIDs))
	for _, id := range taskIDs {
		tl, err := trackListFrom(wfctx, id)
		if err != nil {
			return nil, err
		}
		lists = append(lists, tl)
	}
	return lists, nil
}

func mergePlaylistsNode(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	lists, err := combinerInputs(wfctx, config)
	if err != nil {
		return nil, err
	}
	merged := transform.Concatenate(lists)
	out, err := transform.FilterDuplicates()(merged)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

func concatenatePlaylistsNode(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	lists, err := combinerInputs(wfctx, config)
	if err != nil {
		return nil, err
	}
	out := transform.Concatenate(lists)
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

func interleavePlaylistsNode(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error) {
	lists, err := combinerInputs(wfctx, config)
	if err != nil {
		return nil, err
	}
	out := transform.Interleave(lists, boolConfig(config, "stop_on_empty", false))
	return map[string]any{"tracklist": out, "track_count": len(out.Tracks)}, nil
}

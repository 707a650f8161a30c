package workflow

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/narada/internal/connectors/lastfm"
	"github.com/desertthunder/narada/internal/connectors/musicbrainz"
	"github.com/desertthunder/narada/internal/connectors/spotify"
	"github.com/desertthunder/narada/internal/matcher"
	"github.com/desertthunder/narada/internal/store"
	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
)

// Deps bundles every collaborator a node factory may need. Node functions
// reach it through the reserved "_deps" key in the workflow context rather
// than as a function parameter, since NodeFunc's signature is fixed across
// every category; this mirrors source_nodes.py/destination_nodes.py
// instantiating their own connectors inline, generalized here into a
// single injected bundle so nodes stay testable against fakes.
type Deps struct {
	Store       *store.Store
	Tracks      *store.TrackStore
	ConnTracks  *store.ConnectorTrackStore
	Playlists   *store.PlaylistStore
	Metrics     *store.MetricStore
	MatcherDeps matcher.MatcherDeps
	Spotify     *spotify.Connector
	LastFM      *lastfm.Connector
	MusicBrainz *musicbrainz.Connector
	Log         *log.Logger
}

const depsKey = "_deps"

// WithDeps returns params with deps bound under the reserved dependency
// key, ready to pass as Engine.Run's params argument.
func WithDeps(params map[string]any, deps *Deps) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	params[depsKey] = deps
	return params
}

func depsFrom(wfctx map[string]any) (*Deps, error) {
	raw, ok := wfctx["parameters"]
	if ok {
		if pm, ok := raw.(map[string]any); ok {
			if d, ok := pm[depsKey].(*Deps); ok {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: workflow context has no injected dependencies", shared.ErrDependency)
}

// trackListFrom extracts the tracklist a previously-run task produced,
// looked up by task id directly in the workflow context.
func trackListFrom(wfctx map[string]any, taskID string) (domain.TrackList, error) {
	raw, ok := wfctx[taskID]
	if !ok {
		return domain.TrackList{}, fmt.Errorf("%w: workflow context has no result for task %q", shared.ErrDependency, taskID)
	}
	result, ok := raw.(map[string]any)
	if !ok {
		return domain.TrackList{}, fmt.Errorf("%w: task %q's result is not a node output map", shared.ErrDependency, taskID)
	}
	tl, ok := result["tracklist"].(domain.TrackList)
	if !ok {
		return domain.TrackList{}, fmt.Errorf("%w: task %q's result has no tracklist", shared.ErrDependency, taskID)
	}
	return tl, nil
}

func stringConfig(config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required config parameter %q", shared.ErrValidation, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: config parameter %q must be a non-empty string", shared.ErrValidation, key)
	}
	return s, nil
}

func optionalStringConfig(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intConfig(config map[string]any, key string) (int, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing required config parameter %q", shared.ErrValidation, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: config parameter %q must be a number", shared.ErrValidation, key)
	}
}

func boolConfig(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func floatPtrConfig(config map[string]any, key string) *float64 {
	switch n := config[key].(type) {
	case float64:
		return &n
	case int:
		v := float64(n)
		return &v
	default:
		return nil
	}
}

func intPtrConfig(config map[string]any, key string) *int {
	switch n := config[key].(type) {
	case float64:
		v := int(n)
		return &v
	case int:
		return &n
	default:
		return nil
	}
}

func stringSliceConfig(config map[string]any, key string) ([]string, error) {
	raw, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing required config parameter %q", shared.ErrValidation, key)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: config parameter %q must be a list", shared.ErrValidation, key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: config parameter %q must be a list of strings", shared.ErrValidation, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

// package workflow is the DAG workflow engine (§4.H/I): a process-wide
// registry of node functions grouped by category, and an engine that
// resolves a Definition's task graph into a single topologically-ordered
// run. It is a structural port of
// original_source/narada/workflows/node_registry.py's NodeRegistry and
// original_source/narada/workflows/prefect.py's build_flow/run_workflow,
// minus Prefect itself: nothing in the retrieved example corpus carries a
// Prefect-equivalent orchestrator, so the executor below is a plain
// hand-rolled DAG walk instead of a @flow/@task wrapper.
package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/desertthunder/narada/internal/shared"
)

// Category is one of the seven node kinds a workflow task may declare.
type Category string

const (
	CategorySource      Category = "source"
	CategoryEnricher    Category = "enricher"
	CategoryFilter      Category = "filter"
	CategorySorter      Category = "sorter"
	CategorySelector    Category = "selector"
	CategoryCombiner    Category = "combiner"
	CategoryDestination Category = "destination"
)

var validCategories = map[Category]bool{
	CategorySource:      true,
	CategoryEnricher:    true,
	CategoryFilter:      true,
	CategorySorter:      true,
	CategorySelector:    true,
	CategoryCombiner:    true,
	CategoryDestination: true,
}

// NodeFunc is the uniform shape every workflow node implements: given the
// accumulated workflow context and this task's (already template-resolved)
// config, produce the result map stored back into the context.
type NodeFunc func(ctx context.Context, wfctx map[string]any, config map[string]any) (map[string]any, error)

// Metadata describes a registered node for introspection and validation.
type Metadata struct {
	ID          string
	Description string
	Category    Category
}

type registeredNode struct {
	fn   NodeFunc
	meta Metadata
}

var registry = map[string]registeredNode{}

// Register adds fn to the process-wide registry under id, matching
// node_registry.py's register() decorator. It panics on an invalid
// category or a duplicate id, since both are programming errors caught at
// package init time, not conditions a caller can recover from.
func Register(id string, fn NodeFunc, meta Metadata) {
	if !validCategories[meta.Category] {
		panic(fmt.Sprintf("workflow: invalid node category %q for %q", meta.Category, id))
	}
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("workflow: duplicate node id %q", id))
	}
	meta.ID = id
	registry[id] = registeredNode{fn: fn, meta: meta}
}

// Get returns the node function and metadata registered under id.
func Get(id string) (NodeFunc, Metadata, error) {
	rn, ok := registry[id]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: workflow node %q is not registered", shared.ErrNotFound, id)
	}
	return rn.fn, rn.meta, nil
}

// ListByCategory returns the metadata of every node registered under cat,
// sorted by id for deterministic output.
func ListByCategory(cat Category) []Metadata {
	var out []Metadata
	for _, rn := range registry {
		if rn.meta.Category == cat {
			out = append(out, rn.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CriticalNodeIDs lists every node type a complete installation of this
// module registers. An application embedding the engine should call
// ValidateCriticalNodes(CriticalNodeIDs) once at startup, before accepting
// any workflow definition, to fail fast on a missing or misnamed factory
// rather than mid-run.
var CriticalNodeIDs = []string{
	"source.spotify_playlist",
	"source.lastfm_recent_tracks",
	"enricher.lastfm",
	"enricher.spotify",
	"filter.apply",
	"sorter.apply",
	"selector.limit_tracks",
	"combiner.merge_playlists",
	"combiner.concatenate_playlists",
	"combiner.interleave_playlists",
	"destination.create_internal",
	"destination.create_spotify",
	"destination.update_spotify",
}

// ValidateCriticalNodes returns an error naming every id in ids that is
// not registered, so an application can fail fast at startup rather than
// mid-run when a workflow definition first references a missing node.
func ValidateCriticalNodes(ids []string) error {
	var missing []string
	for _, id := range ids {
		if _, ok := registry[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: missing critical workflow nodes: %v", shared.ErrDependency, missing)
}

// package transform is the pure transform library (§4.G): idiomatic-Go
// functions over domain.TrackList, each recording its own provenance in
// metadata. It is a direct rendering of
// original_source/narada/core/transforms.py's curried pure functions; since
// Go lacks toolz.curry, every transform is an ordinary first-class
// func(domain.TrackList) (domain.TrackList, error) produced by a
// constructor, per the Design Notes' "Curried transforms" guidance.
package transform

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/desertthunder/narada/internal/domain"
	"github.com/desertthunder/narada/internal/shared"
)

// Func is a pure TrackList -> TrackList transformation.
type Func func(domain.TrackList) (domain.TrackList, error)

// Pipeline composes fns left to right: Pipeline(f, g, h)(tl) ==
// h(g(f(tl))).
func Pipeline(fns ...Func) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		for _, fn := range fns {
			var err error
			tl, err = fn(tl)
			if err != nil {
				return domain.TrackList{}, err
			}
		}
		return tl, nil
	}
}

// metricsMap reads metadata["metrics"] as the strict map[string]map[int64]float64
// shape Invariant 4 requires, returning a typed error (never silently
// coercing) if some other producer stashed a different shape there.
func metricsMap(tl domain.TrackList) (map[string]map[int64]float64, error) {
	raw, ok := tl.Metadata["metrics"]
	if !ok {
		return map[string]map[int64]float64{}, nil
	}
	m, ok := raw.(map[string]map[int64]float64)
	if !ok {
		return nil, fmt.Errorf("%w: metadata[metrics] must be map[string]map[int64]float64, got %T", shared.ErrValidation, raw)
	}
	return m, nil
}

// FilterByPredicate keeps tracks for which pred returns true.
func FilterByPredicate(pred func(domain.Track) bool) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		var kept []domain.Track
		for _, t := range tl.Tracks {
			if pred(t) {
				kept = append(kept, t)
			}
		}
		return tl.WithTracks(kept), nil
	}
}

// FilterDuplicates dedupes by track id, keeping the first occurrence of
// each id and every id-less track (since id-less tracks can't be compared
// for identity). Provenance: duplicates_removed, original_count,
// tracks_without_ids.
func FilterDuplicates() Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		seen := map[int64]bool{}
		var kept []domain.Track
		withoutIDs := 0
		removed := 0

		for _, t := range tl.Tracks {
			if t.ID == nil {
				kept = append(kept, t)
				withoutIDs++
				continue
			}
			if seen[*t.ID] {
				removed++
				continue
			}
			seen[*t.ID] = true
			kept = append(kept, t)
		}

		out := tl.WithTracks(kept)
		out = out.WithMetadata("duplicates_removed", removed)
		out = out.WithMetadata("original_count", len(tl.Tracks))
		out = out.WithMetadata("tracks_without_ids", withoutIDs)
		return out, nil
	}
}

// FilterByDateRange keeps tracks whose release date falls within
// [now-maxAgeDays, now-minAgeDays], using the current UTC time. A nil
// bound is unconstrained on that side. Tracks with no release date are
// excluded, since their age cannot be determined.
func FilterByDateRange(minAgeDays, maxAgeDays *int) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		now := time.Now().UTC()
		var kept []domain.Track
		for _, t := range tl.Tracks {
			if t.ReleaseDate == nil {
				continue
			}
			age := now.Sub(*t.ReleaseDate)
			if minAgeDays != nil && age < time.Duration(*minAgeDays)*24*time.Hour {
				continue
			}
			if maxAgeDays != nil && age > time.Duration(*maxAgeDays)*24*time.Hour {
				continue
			}
			kept = append(kept, t)
		}
		return tl.WithTracks(kept), nil
	}
}

func trackKeySet(reference []domain.Track) map[int64]bool {
	ids := map[int64]bool{}
	for _, t := range reference {
		if t.ID != nil {
			ids[*t.ID] = true
		}
	}
	return ids
}

// ExcludeTracks removes tracks whose id appears in referenceTracks.
// Records removed_count in provenance.
func ExcludeTracks(referenceTracks []domain.Track) Func {
	exclude := trackKeySet(referenceTracks)
	return func(tl domain.TrackList) (domain.TrackList, error) {
		var kept []domain.Track
		removed := 0
		for _, t := range tl.Tracks {
			if t.ID != nil && exclude[*t.ID] {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		out := tl.WithTracks(kept)
		return out.WithMetadata("removed_count", removed), nil
	}
}

// ExcludeArtists removes tracks that share an artist with referenceTracks.
// When allArtists is true, a track is excluded only if every one of its
// artists appears in the reference set; otherwise any shared artist
// excludes it.
func ExcludeArtists(referenceTracks []domain.Track, allArtists bool) Func {
	excludeNames := map[string]bool{}
	for _, t := range referenceTracks {
		for _, a := range t.Artists {
			excludeNames[a.Name] = true
		}
	}

	return func(tl domain.TrackList) (domain.TrackList, error) {
		var kept []domain.Track
		removed := 0
		for _, t := range tl.Tracks {
			if artistsMatch(t.Artists, excludeNames, allArtists) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		out := tl.WithTracks(kept)
		return out.WithMetadata("removed_count", removed), nil
	}
}

func artistsMatch(artists []domain.Artist, names map[string]bool, all bool) bool {
	if len(artists) == 0 {
		return false
	}
	if all {
		for _, a := range artists {
			if !names[a.Name] {
				return false
			}
		}
		return true
	}
	for _, a := range artists {
		if names[a.Name] {
			return true
		}
	}
	return false
}

// FilterByMetricRange keeps tracks whose metricName value falls within
// [min, max] (either bound nil means unconstrained). includeMissing
// controls whether tracks absent from the metric map are kept.
func FilterByMetricRange(metricName string, min, max *float64, includeMissing bool) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		all, err := metricsMap(tl)
		if err != nil {
			return domain.TrackList{}, err
		}
		values := all[metricName]

		var kept []domain.Track
		for _, t := range tl.Tracks {
			if t.ID == nil {
				if includeMissing {
					kept = append(kept, t)
				}
				continue
			}
			v, ok := values[*t.ID]
			if !ok {
				if includeMissing {
					kept = append(kept, t)
				}
				continue
			}
			if min != nil && v < *min {
				continue
			}
			if max != nil && v > *max {
				continue
			}
			kept = append(kept, t)
		}
		return tl.WithTracks(kept), nil
	}
}

// SortByAttribute sorts tl.Tracks by keyFn, ascending unless reverse is
// set. A nil key sinks to the end regardless of direction (+Inf
// ascending, -Inf descending). The computed sort key for every track is
// written back into metadata["metrics"][metricNameForProvenance]. Rejects
// a pre-existing non-integer-keyed metrics map per Invariant 4.
func SortByAttribute(keyFn func(domain.Track) *float64, metricNameForProvenance string, reverse bool) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		all, err := metricsMap(tl)
		if err != nil {
			return domain.TrackList{}, err
		}

		sentinel := math.Inf(1)
		if reverse {
			sentinel = math.Inf(-1)
		}

		keys := make([]float64, len(tl.Tracks))
		for i, t := range tl.Tracks {
			if v := keyFn(t); v != nil {
				keys[i] = *v
			} else {
				keys[i] = sentinel
			}
		}

		order := make([]int, len(tl.Tracks))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			if reverse {
				return keys[order[a]] > keys[order[b]]
			}
			return keys[order[a]] < keys[order[b]]
		})

		sorted := make([]domain.Track, len(tl.Tracks))
		written := make(map[int64]float64, len(tl.Tracks))
		for pos, idx := range order {
			sorted[pos] = tl.Tracks[idx]
			if id := tl.Tracks[idx].ID; id != nil && !math.IsInf(keys[idx], 0) {
				written[*id] = keys[idx]
			}
		}

		byMetric := make(map[string]map[int64]float64, len(all)+1)
		for k, v := range all {
			byMetric[k] = v
		}
		byMetric[metricNameForProvenance] = written

		out := tl.WithTracks(sorted)
		out = out.WithMetadata("metrics", byMetric)
		return out, nil
	}
}

// Limit keeps the first n tracks.
func Limit(n int) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		if n >= len(tl.Tracks) {
			return tl, nil
		}
		return tl.WithTracks(append([]domain.Track{}, tl.Tracks[:n]...)), nil
	}
}

// TakeLast keeps the last n tracks.
func TakeLast(n int) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		if n >= len(tl.Tracks) {
			return tl, nil
		}
		start := len(tl.Tracks) - n
		return tl.WithTracks(append([]domain.Track{}, tl.Tracks[start:]...)), nil
	}
}

// SampleRandom keeps a random sample of n tracks, preserving relative
// order is not guaranteed (sampling is order-agnostic).
func SampleRandom(n int) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		if n >= len(tl.Tracks) {
			return tl, nil
		}
		shuffled := append([]domain.Track{}, tl.Tracks...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return tl.WithTracks(shuffled[:n]), nil
	}
}

// SelectByMethod dispatches to Limit/TakeLast/SampleRandom by name and
// records selection_method/original_count in provenance.
func SelectByMethod(n int, method string) Func {
	return func(tl domain.TrackList) (domain.TrackList, error) {
		var fn Func
		switch method {
		case "first":
			fn = Limit(n)
		case "last":
			fn = TakeLast(n)
		case "random":
			fn = SampleRandom(n)
		default:
			return domain.TrackList{}, fmt.Errorf("%w: unknown selection method %q", shared.ErrValidation, method)
		}

		out, err := fn(tl)
		if err != nil {
			return domain.TrackList{}, err
		}
		out = out.WithMetadata("selection_method", method)
		out = out.WithMetadata("original_count", len(tl.Tracks))
		return out, nil
	}
}

// Concatenate returns a TrackList of all tracks from lists, in order.
func Concatenate(lists []domain.TrackList) domain.TrackList {
	var tracks []domain.Track
	for _, tl := range lists {
		tracks = append(tracks, tl.Tracks...)
	}
	return domain.NewTrackList(tracks)
}

// Interleave round-robins across lists. stopOnEmpty stops as soon as any
// list is exhausted; otherwise it continues until all are exhausted,
// skipping exhausted lists.
func Interleave(lists []domain.TrackList, stopOnEmpty bool) domain.TrackList {
	var tracks []domain.Track
	idx := make([]int, len(lists))

	for {
		if stopOnEmpty {
			for i, tl := range lists {
				if idx[i] >= len(tl.Tracks) {
					return domain.NewTrackList(tracks)
				}
			}
		}
		progressed := false
		for i, tl := range lists {
			if idx[i] >= len(tl.Tracks) {
				if stopOnEmpty {
					return domain.NewTrackList(tracks)
				}
				continue
			}
			tracks = append(tracks, tl.Tracks[idx[i]])
			idx[i]++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	return domain.NewTrackList(tracks)
}

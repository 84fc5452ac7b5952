package window

import (
	"sync"
	"time"

	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
)

// SupportedLengths are the window lengths (in bars) the engine matches on
var SupportedLengths = []int{30, 60, 90}

// MinExtraPoints is the slack required beyond windowLen + horizon for a usable series
const MinExtraPoints = 5

// MinSeriesLen is the shortest series that can produce a window of length w with
// a forward horizon of h
func MinSeriesLen(w, h int) int {
	return w + h + MinExtraPoints
}

type key struct {
	mode model.Representation
	w    int
}

// Index caches window vectors for every admissible end position, keyed by
// representation and window length. Each vector depends only on the closes of its
// own window, so an entry ending at or before an asOf cutoff is leakage free.
type Index struct {
	modes []model.Representation
	clock func() time.Time

	mu         sync.RWMutex
	vectors    map[key][]feature.Vector // slice position = window end index
	timestamps []time.Time
	builtAt    time.Time
}

// NewIndex creates an empty index that builds vectors for the given modes
func NewIndex(modes ...model.Representation) *Index {
	if len(modes) == 0 {
		modes = []model.Representation{model.LogReturnsZScore, model.RawReturns}
	}
	return &Index{
		modes:   modes,
		clock:   time.Now,
		vectors: make(map[key][]feature.Vector),
	}
}

// WithClock overrides the build timestamp source
func (ix *Index) WithClock(clock func() time.Time) *Index {
	ix.clock = clock
	return ix
}

// BuildAll populates the index in one pass over the series. Window lengths for which
// the series is shorter than MinSeriesLen(w, horizonDays) are left empty.
func (ix *Index) BuildAll(timestamps []time.Time, closes []float64, windowLengths []int, horizonDays int) {
	vectors := make(map[key][]feature.Vector)
	n := len(closes)

	for _, w := range windowLengths {
		if w <= 0 || n < MinSeriesLen(w, horizonDays) {
			continue
		}
		for _, mode := range ix.modes {
			column := make([]feature.Vector, n)
			for end := w; end < n; end++ {
				v, err := feature.BuildVector(closes[end-w:end+1], mode)
				if err != nil {
					continue
				}
				column[end] = v
			}
			vectors[key{mode: mode, w: w}] = column
		}
	}

	ix.mu.Lock()
	ix.vectors = vectors
	ix.timestamps = timestamps
	ix.builtAt = ix.clock()
	ix.mu.Unlock()
}

// Clear resets the index to empty
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.vectors = make(map[key][]feature.Vector)
	ix.timestamps = nil
	ix.builtAt = time.Time{}
}

// BuiltAt returns when the index was last built (zero if never or cleared)
func (ix *Index) BuiltAt() time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.builtAt
}

// Empty returns true if no window length produced vectors
func (ix *Index) Empty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors) == 0
}

// Has reports whether vectors for (mode, w) were built
func (ix *Index) Has(mode model.Representation, w int) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.vectors[key{mode: mode, w: w}]
	return ok
}

// Vector returns the cached vector of the window of length w ending at end
func (ix *Index) Vector(mode model.Representation, w, end int) (feature.Vector, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	column, ok := ix.vectors[key{mode: mode, w: w}]
	if !ok || end < 0 || end >= len(column) || column[end] == nil {
		return nil, false
	}
	return column[end], true
}

// Count returns the number of cached vectors for (mode, w)
func (ix *Index) Count(mode model.Representation, w int) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := 0
	for _, v := range ix.vectors[key{mode: mode, w: w}] {
		if v != nil {
			count++
		}
	}
	return count
}

// Entry is one cached window vector
type Entry struct {
	End    int
	TEnd   time.Time
	Vector feature.Vector
}

// Entries returns all cached vectors for (mode, w) in end order
func (ix *Index) Entries(mode model.Representation, w int) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	column := ix.vectors[key{mode: mode, w: w}]
	entries := make([]Entry, 0, len(column))
	for end, v := range column {
		if v == nil {
			continue
		}
		e := Entry{End: end, Vector: v}
		if end < len(ix.timestamps) {
			e.TEnd = ix.timestamps[end]
		}
		entries = append(entries, e)
	}
	return entries
}

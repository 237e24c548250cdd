// Package connectiondb keeps connections sorted by their vertical position so
// that proximity queries during a drag only scan a narrow band of the index.
package connectiondb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ritzau/blockgraph/pkg/geom"
)

// ErrNotFound is returned when removing a connection that is not indexed.
// It always indicates that the index and the graph disagree.
var ErrNotFound = errors.New("connectiondb: connection not found")

// DB is an index of connections of a single kind, ordered by Y.
// X is not part of the sort key.
type DB[T comparable] struct {
	items []T
	pos   func(T) geom.Coordinate
}

// SearchOptions tunes SearchForClosest.
type SearchOptions[T comparable] struct {
	// Preferred is the candidate currently shown as a preview, if any.
	Preferred T
	// Preference is subtracted from Preferred's distance when ranking.
	Preference float64
}

// New creates an empty index. pos must report the same Y that was passed to
// Add for as long as the item stays indexed.
func New[T comparable](pos func(T) geom.Coordinate) *DB[T] {
	return &DB[T]{pos: pos}
}

// Len returns the number of indexed connections.
func (db *DB[T]) Len() int {
	return len(db.items)
}

// All returns a copy of the index in Y order.
func (db *DB[T]) All() []T {
	out := make([]T, len(db.items))
	copy(out, db.items)
	return out
}

func (db *DB[T]) y(i int) float64 {
	return db.pos(db.items[i]).Y
}

// guess binary-searches for y and returns any index holding that Y, or the
// insertion point when no entry has it.
func (db *DB[T]) guess(y float64) int {
	lo, hi := 0, len(db.items)
	for lo < hi {
		mid := (lo + hi) / 2
		switch my := db.y(mid); {
		case my < y:
			lo = mid + 1
		case my > y:
			hi = mid
		default:
			return mid
		}
	}
	return lo
}

// Add inserts c at position y. Entries with an equal Y keep insertion order.
func (db *DB[T]) Add(c T, y float64) {
	i := sort.Search(len(db.items), func(i int) bool { return db.y(i) > y })
	var zero T
	db.items = append(db.items, zero)
	copy(db.items[i+1:], db.items[i:])
	db.items[i] = c
}

func (db *DB[T]) indexOf(c T, y float64) int {
	if len(db.items) == 0 {
		return -1
	}
	start := db.guess(y)
	// Ties on Y are common; identity decides.
	for i := start; i >= 0 && i < len(db.items) && db.y(i) == y; i-- {
		if db.items[i] == c {
			return i
		}
	}
	for i := start + 1; i < len(db.items) && db.y(i) == y; i++ {
		if db.items[i] == c {
			return i
		}
	}
	return -1
}

// Contains reports whether c is indexed at y.
func (db *DB[T]) Contains(c T, y float64) bool {
	return db.indexOf(c, y) >= 0
}

// Remove deletes c, which must have been added at y.
func (db *DB[T]) Remove(c T, y float64) error {
	i := db.indexOf(c, y)
	if i < 0 {
		return fmt.Errorf("%w (y=%g, size=%d)", ErrNotFound, y, len(db.items))
	}
	copy(db.items[i:], db.items[i+1:])
	var zero T
	db.items[len(db.items)-1] = zero
	db.items = db.items[:len(db.items)-1]
	return nil
}

// band returns the index range whose Y lies in [y-r, y+r].
func (db *DB[T]) band(y, r float64) (int, int) {
	lo := sort.Search(len(db.items), func(i int) bool { return db.y(i) >= y-r })
	hi := sort.Search(len(db.items), func(i int) bool { return db.y(i) > y+r })
	return lo, hi
}

// Neighbours returns every indexed connection within maxRadius of at,
// regardless of compatibility.
func (db *DB[T]) Neighbours(at geom.Coordinate, maxRadius float64) []T {
	var out []T
	lo, hi := db.band(at.Y, maxRadius)
	for i := lo; i < hi; i++ {
		if db.pos(db.items[i]).DistanceTo(at) <= maxRadius {
			out = append(out, db.items[i])
		}
	}
	return out
}

// SearchForClosest returns the accepted connection nearest to at within
// maxRadius, and its distance. The preferred candidate is ranked as if it
// were opts.Preference units closer. Exact ties go to the smaller X.
// When nothing qualifies it returns the zero T, maxRadius and false.
func (db *DB[T]) SearchForClosest(at geom.Coordinate, maxRadius float64, accept func(T) bool, opts SearchOptions[T]) (T, float64, bool) {
	var (
		best      T
		bestDist  = maxRadius
		bestScore float64
		bestX     float64
		found     bool
	)
	lo, hi := db.band(at.Y, maxRadius)
	for i := lo; i < hi; i++ {
		c := db.items[i]
		p := db.pos(c)
		d := p.DistanceTo(at)
		if d > maxRadius {
			continue
		}
		score := d
		if opts.Preference != 0 && c == opts.Preferred {
			score -= opts.Preference
		}
		if found && (score > bestScore || (score == bestScore && p.X >= bestX)) {
			continue
		}
		if !accept(c) {
			continue
		}
		best, bestDist, bestScore, bestX, found = c, d, score, p.X, true
	}
	if !found {
		var zero T
		return zero, maxRadius, false
	}
	return best, bestDist, true
}

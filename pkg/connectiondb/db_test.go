package connectiondb

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ritzau/blockgraph/pkg/geom"
)

type point struct {
	name string
	at   geom.Coordinate
}

func newDB() *DB[*point] {
	return New(func(p *point) geom.Coordinate { return p.at })
}

func add(db *DB[*point], name string, x, y float64) *point {
	p := &point{name: name, at: geom.Coordinate{X: x, Y: y}}
	db.Add(p, y)
	return p
}

func TestAddKeepsYOrder(t *testing.T) {
	db := newDB()
	for i, y := range []float64{30, 10, 20, 10, 0, 50} {
		add(db, string(rune('a'+i)), 0, y)
	}

	all := db.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].at.Y > all[i].at.Y {
			t.Fatalf("index out of order at %d: %v > %v", i, all[i-1].at.Y, all[i].at.Y)
		}
	}
	if db.Len() != 6 {
		t.Errorf("Expected 6 entries, got %d", db.Len())
	}
}

func TestRemoveByIdentityAmongTies(t *testing.T) {
	db := newDB()
	a := add(db, "a", 0, 10)
	b := add(db, "b", 5, 10)
	c := add(db, "c", 10, 10)
	add(db, "d", 0, 20)

	if err := db.Remove(b, 10); err != nil {
		t.Fatalf("Remove(b) error = %v", err)
	}
	if db.Contains(b, 10) {
		t.Error("b still indexed after removal")
	}
	if !db.Contains(a, 10) || !db.Contains(c, 10) {
		t.Error("removing b disturbed its equal-Y siblings")
	}
}

func TestRemoveMissingFailsLoudly(t *testing.T) {
	db := newDB()
	add(db, "a", 0, 10)
	stray := &point{name: "stray", at: geom.Coordinate{Y: 10}}

	err := db.Remove(stray, 10)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := db.Remove(stray, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown y, got %v", err)
	}
}

func TestNeighboursMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	db := newDB()
	var all []*point
	for i := 0; i < 300; i++ {
		all = append(all, add(db, "p", float64(rng.Intn(200)), float64(rng.Intn(200))))
	}

	for _, radius := range []float64{0, 5, 17.5, 40} {
		for _, probe := range all[:25] {
			got := map[*point]bool{}
			for _, n := range db.Neighbours(probe.at, radius) {
				got[n] = true
			}
			for _, p := range all {
				want := p.at.DistanceTo(probe.at) <= radius
				if got[p] != want {
					t.Fatalf("radius %v: neighbour %v of %v = %v, want %v", radius, p.at, probe.at, got[p], want)
				}
			}
		}
	}
}

func TestSearchForClosest(t *testing.T) {
	tests := []struct {
		name       string
		at         geom.Coordinate
		radius     float64
		reject     string
		preferred  string
		preference float64
		want       string
		wantDist   float64
	}{
		{name: "nearest wins", at: geom.Coordinate{X: 0, Y: 0}, radius: 10, want: "near", wantDist: 5},
		{name: "nothing in range", at: geom.Coordinate{X: 0, Y: -100}, radius: 10, want: "", wantDist: 10},
		{name: "filtered candidate skipped", at: geom.Coordinate{X: 0, Y: 0}, radius: 10, reject: "near", want: "far", wantDist: 8},
		{name: "preferred beats slightly closer", at: geom.Coordinate{X: 0, Y: 0}, radius: 10, preferred: "far", preference: 4, want: "far", wantDist: 8},
		{name: "preference too small", at: geom.Coordinate{X: 0, Y: 0}, radius: 10, preferred: "far", preference: 2, want: "near", wantDist: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newDB()
			byName := map[string]*point{
				"near": add(db, "near", 3, 4),
				"far":  add(db, "far", 0, 8),
				"out":  add(db, "out", 0, 30),
			}
			accept := func(p *point) bool { return p.name != tt.reject }
			opts := SearchOptions[*point]{Preferred: byName[tt.preferred], Preference: tt.preference}

			got, dist, ok := db.SearchForClosest(tt.at, tt.radius, accept, opts)
			if tt.want == "" {
				if ok || got != nil {
					t.Fatalf("expected no candidate, got %v", got)
				}
			} else if !ok || got != byName[tt.want] {
				t.Fatalf("expected %s, got %v (ok=%v)", tt.want, got, ok)
			}
			if dist != tt.wantDist {
				t.Errorf("expected distance %v, got %v", tt.wantDist, dist)
			}
		})
	}
}

func TestSearchTieBreaksOnX(t *testing.T) {
	db := newDB()
	add(db, "right", 3, 4)
	left := add(db, "left", -3, 4)

	got, _, ok := db.SearchForClosest(geom.Coordinate{}, 10, func(*point) bool { return true }, SearchOptions[*point]{})
	if !ok || got != left {
		t.Fatalf("expected the left candidate on an exact tie, got %v", got)
	}
}

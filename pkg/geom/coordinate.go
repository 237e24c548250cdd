package geom

import "math"

// Coordinate is a point (or offset) in workspace units.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns c + o
func (c Coordinate) Add(o Coordinate) Coordinate {
	return Coordinate{X: c.X + o.X, Y: c.Y + o.Y}
}

// Sub returns c - o
func (c Coordinate) Sub(o Coordinate) Coordinate {
	return Coordinate{X: c.X - o.X, Y: c.Y - o.Y}
}

// Scale multiplies both components by f
func (c Coordinate) Scale(f float64) Coordinate {
	return Coordinate{X: c.X * f, Y: c.Y * f}
}

// Equal reports whether both components match exactly.
func (c Coordinate) Equal(o Coordinate) bool {
	return c.X == o.X && c.Y == o.Y
}

// Magnitude returns the length of c seen as a vector.
func (c Coordinate) Magnitude() float64 {
	return math.Hypot(c.X, c.Y)
}

// DistanceTo returns the Euclidean distance between c and o.
func (c Coordinate) DistanceTo(o Coordinate) float64 {
	return math.Hypot(c.X-o.X, c.Y-o.Y)
}

// Package vision holds the shared primitives of the visitor counting
// pipeline: image-plane geometry, crossing directions, and the assignment
// solver used for detection-to-track association.
//
// Coordinates follow the usual image convention: X grows rightward,
// Y grows downward, units are pixels in the camera frame.
package vision

import (
	"fmt"
	"math"
)

// Point is a 2D position in frame coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns the vector p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Cross returns the 2D cross product (z component) of p × q.
func (p Point) Cross(q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// BBox is an axis-aligned bounding box in frame coordinates.
// X1,Y1 is the top-left corner; X2,Y2 the bottom-right.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for inverted boxes.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Centroid returns the box centre point.
func (b BBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// IsDegenerate reports whether the box has no usable extent. Degenerate
// boxes fall back to centroid-distance association costs.
func (b BBox) IsDegenerate() bool {
	return b.Area() <= 0
}

// Translate returns the box shifted by (dx, dy).
func (b BBox) Translate(dx, dy float64) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Direction is the side-to-side sense of a line crossing, relative to the
// configured virtual line's A→B orientation.
type Direction string

const (
	// DirectionLeftToRight is motion whose cross product with the line
	// direction is negative.
	DirectionLeftToRight Direction = "left_to_right"
	// DirectionRightToLeft is motion whose cross product with the line
	// direction is positive.
	DirectionRightToLeft Direction = "right_to_left"
	// DirectionBoth accepts crossings in either sense.
	DirectionBoth Direction = "both"
)

// ParseDirection validates a direction string from configuration.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionLeftToRight, DirectionRightToLeft, DirectionBoth:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid crossing direction %q (want %q, %q or %q)",
		s, DirectionLeftToRight, DirectionRightToLeft, DirectionBoth)
}

// Matches reports whether an observed crossing direction satisfies the
// configured requirement d.
func (d Direction) Matches(observed Direction) bool {
	return d == DirectionBoth || d == observed
}

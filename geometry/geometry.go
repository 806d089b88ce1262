// Package geometry holds the dimension and rectangle values used to reason
// about image sizes before any pixel is touched.
package geometry

import (
	"fmt"
	"math"
)

// Round rounds half-up, the rule used for every integer pixel accessor.
func Round(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Dimension is a width and a height. Both are never negative.
type Dimension struct {
	Width  float64
	Height float64
}

// NewDimension builds a dimension, clamping negative values to zero.
func NewDimension(width, height float64) Dimension {
	return Dimension{
		Width:  math.Max(0, width),
		Height: math.Max(0, height),
	}
}

// IntWidth returns the width rounded half-up.
func (d Dimension) IntWidth() int {
	return Round(d.Width)
}

// IntHeight returns the height rounded half-up.
func (d Dimension) IntHeight() int {
	return Round(d.Height)
}

// IsEmpty is true when either side rounds to zero pixels.
func (d Dimension) IsEmpty() bool {
	return d.IntWidth() < 1 || d.IntHeight() < 1
}

// Scale multiplies both sides by the given factor.
func (d Dimension) Scale(factor float64) Dimension {
	return NewDimension(d.Width*factor, d.Height*factor)
}

// Swap exchanges width and height.
func (d Dimension) Swap() Dimension {
	return Dimension{Width: d.Height, Height: d.Width}
}

// PixelEqual compares the rounded sizes.
func (d Dimension) PixelEqual(o Dimension) bool {
	return d.IntWidth() == o.IntWidth() && d.IntHeight() == o.IntHeight()
}

// Area returns width times height.
func (d Dimension) Area() float64 {
	return d.Width * d.Height
}

func (d Dimension) String() string {
	return fmt.Sprintf("%dx%d", d.IntWidth(), d.IntHeight())
}

// Rectangle is a region positioned at (X, Y).
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the rectangle covers no area.
func (r Rectangle) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Size returns the rectangle dimension.
func (r Rectangle) Size() Dimension {
	return NewDimension(r.Width, r.Height)
}

// Scale returns a copy scaled independently on both axes.
func (r Rectangle) Scale(xFactor, yFactor float64) Rectangle {
	return Rectangle{
		X:      r.X * xFactor,
		Y:      r.Y * yFactor,
		Width:  r.Width * xFactor,
		Height: r.Height * yFactor,
	}
}

// Move returns a copy translated by (dx, dy).
func (r Rectangle) Move(dx, dy float64) Rectangle {
	r.X += dx
	r.Y += dy
	return r
}

// Grow returns a copy with its width and height enlarged by (dw, dh).
func (r Rectangle) Grow(dw, dh float64) Rectangle {
	r.Width += dw
	r.Height += dh
	return r
}

// Intersects is true when both rectangles share some area.
func (r Rectangle) Intersects(o Rectangle) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// ClipTo returns the part of r lying within the bounds (0, 0, size).
func (r Rectangle) ClipTo(size Dimension) Rectangle {
	x := math.Max(0, r.X)
	y := math.Max(0, r.Y)
	right := math.Min(size.Width, r.X+r.Width)
	bottom := math.Min(size.Height, r.Y+r.Height)

	return Rectangle{
		X:      x,
		Y:      y,
		Width:  math.Max(0, right-x),
		Height: math.Max(0, bottom-y),
	}
}

// IntBounds returns the rounded x, y, width and height.
func (r Rectangle) IntBounds() (x, y, w, h int) {
	return Round(r.X), Round(r.Y), Round(r.Width), Round(r.Height)
}

func (r Rectangle) String() string {
	x, y, w, h := r.IntBounds()
	return fmt.Sprintf("%d,%d,%d,%d", x, y, w, h)
}

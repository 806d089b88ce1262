package operation

import (
	"math"

	"github.com/greut/iiifcache/geometry"
)

// CropMode tells how a Crop region is expressed.
type CropMode int

// Crop modes.
const (
	CropFull CropMode = iota
	CropSquare
	CropPixels
	CropPercent
)

// Crop extracts a region of the image.
//
// For CropPercent the region holds fractions of the full size; values
// beyond 1 are clamped to the image bounds when resolved.
type Crop struct {
	Mode   CropMode
	Region geometry.Rectangle
}

// NewFullCrop returns a crop keeping the whole image.
func NewFullCrop() Crop {
	return Crop{Mode: CropFull}
}

// NewSquareCrop returns a crop keeping the largest centered square.
func NewSquareCrop() Crop {
	return Crop{Mode: CropSquare}
}

// NewPixelCrop returns a crop expressed in pixels.
func NewPixelCrop(x, y, width, height float64) (Crop, error) {
	if err := checkRegion(x, y, width, height); err != nil {
		return Crop{}, err
	}
	return Crop{
		Mode:   CropPixels,
		Region: geometry.Rectangle{X: x, Y: y, Width: width, Height: height},
	}, nil
}

// NewPercentCrop returns a crop expressed in fractions of the full size,
// e.g. 0.5 for half of it.
func NewPercentCrop(x, y, width, height float64) (Crop, error) {
	if err := checkRegion(x, y, width, height); err != nil {
		return Crop{}, err
	}
	return Crop{
		Mode:   CropPercent,
		Region: geometry.Rectangle{X: x, Y: y, Width: width, Height: height},
	}, nil
}

func checkRegion(x, y, width, height float64) error {
	for _, v := range []float64{x, y, width, height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ValidationError{KindCrop, "region values must be finite"}
		}
	}
	if x < 0 || y < 0 {
		return ValidationError{KindCrop, "x and y must not be negative"}
	}
	if width <= 0 || height <= 0 {
		return ValidationError{KindCrop, "width and height must be positive"}
	}
	return nil
}

func (Crop) operation() {}

// Kind returns KindCrop.
func (Crop) Kind() Kind {
	return KindCrop
}

// Rectangle resolves the crop against the full size, clipped to the image.
func (c Crop) Rectangle(full geometry.Dimension) geometry.Rectangle {
	switch c.Mode {
	case CropSquare:
		side := math.Min(full.Width, full.Height)
		return geometry.Rectangle{
			X:      math.Floor((full.Width - side) / 2),
			Y:      math.Floor((full.Height - side) / 2),
			Width:  side,
			Height: side,
		}
	case CropPixels:
		return c.Region.ClipTo(full)
	case CropPercent:
		return c.Region.Scale(full.Width, full.Height).ClipTo(full)
	default:
		return geometry.Rectangle{Width: full.Width, Height: full.Height}
	}
}

// ResultingSize returns the size of the resolved region.
func (c Crop) ResultingSize(size geometry.Dimension) geometry.Dimension {
	return c.Rectangle(size).Size()
}

// IsNoOp is true for full crops and percentage crops covering everything.
func (c Crop) IsNoOp() bool {
	switch c.Mode {
	case CropFull:
		return true
	case CropPercent:
		r := c.Region
		return r.X == 0 && r.Y == 0 && r.Width >= 1 && r.Height >= 1
	}
	return false
}

// IsNoOpIn is true when the resolved region is the whole input.
func (c Crop) IsNoOpIn(ctx Context) bool {
	if c.IsNoOp() {
		return true
	}
	x, y, w, h := c.Rectangle(ctx.InputSize).IntBounds()
	return x == 0 && y == 0 && w == ctx.InputSize.IntWidth() && h == ctx.InputSize.IntHeight()
}

// Validate fails when the region lies outside of the image.
func (c Crop) Validate(full geometry.Dimension) error {
	if c.Rectangle(full).Size().IsEmpty() {
		return ValidationError{KindCrop, "region is outside of the image"}
	}
	return nil
}

// CanonicalMap returns the resolved pixel region.
func (c Crop) CanonicalMap(full geometry.Dimension) map[string]interface{} {
	x, y, w, h := c.Rectangle(full).IntBounds()
	return map[string]interface{}{
		"class":  KindCrop.String(),
		"x":      x,
		"y":      y,
		"width":  w,
		"height": h,
	}
}

func (c Crop) String() string {
	r := c.Region
	switch c.Mode {
	case CropSquare:
		return "crop:square"
	case CropPixels:
		return "crop:" + formatFloats(r.X, r.Y, r.Width, r.Height)
	case CropPercent:
		return "crop:pct:" + formatFloats(r.X, r.Y, r.Width, r.Height)
	default:
		return "crop:full"
	}
}

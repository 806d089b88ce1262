package operation

import (
	"fmt"
	"math"

	"github.com/greut/iiifcache/geometry"
)

// ScaleMode tells how a Scale target is expressed.
type ScaleMode int

// Scale modes.
const (
	// ScaleFull keeps the input size.
	ScaleFull ScaleMode = iota
	// ScaleMax is the largest size allowed by the server Limits.
	ScaleMax
	// ScaleAspectFitWidth scales to a width, keeping the aspect ratio.
	ScaleAspectFitWidth
	// ScaleAspectFitHeight scales to a height, keeping the aspect ratio.
	ScaleAspectFitHeight
	// ScaleAspectFitInside fits within a box, keeping the aspect ratio.
	ScaleAspectFitInside
	// ScaleNonAspectFill stretches to exactly a width and a height.
	ScaleNonAspectFill
	// ScalePercent scales both sides by a factor in (0, 1].
	ScalePercent
)

// Limits bound the size of a derivative. Zero means unbounded.
type Limits struct {
	MaxWidth  int
	MaxHeight int
	MaxArea   int
}

// IsZero is true when no limit is set.
func (l Limits) IsZero() bool {
	return l.MaxWidth == 0 && l.MaxHeight == 0 && l.MaxArea == 0
}

// Allows reports whether a width by height derivative is within limits.
func (l Limits) Allows(width, height int) bool {
	if l.MaxWidth != 0 && width > l.MaxWidth {
		return false
	}
	if l.MaxHeight != 0 && height > l.MaxHeight {
		return false
	}
	if l.MaxArea != 0 && width*height > l.MaxArea {
		return false
	}
	return true
}

// Fit downscales size, keeping its ratio, until it is within limits.
func (l Limits) Fit(size geometry.Dimension) geometry.Dimension {
	// The three ratios computed for each max value.
	rW := 1.
	rH := 1.
	rA := 1.

	if l.MaxWidth != 0 && size.Width > float64(l.MaxWidth) {
		rW = float64(l.MaxWidth) / size.Width
	}

	if l.MaxHeight != 0 && size.Height > float64(l.MaxHeight) {
		rH = float64(l.MaxHeight) / size.Height
	}

	area := size.Area()
	if l.MaxArea != 0 && area > float64(l.MaxArea) {
		rA = math.Sqrt(float64(l.MaxArea) / area)
	}

	// Picking the smallest ratio enforces the smallest limitation
	return size.Scale(math.Min(math.Min(rW, rH), rA))
}

// Scale resizes the image. It never upscales: targets larger than the
// input leave that side unchanged.
type Scale struct {
	Mode    ScaleMode
	Width   int
	Height  int
	Percent float64
	Limits  Limits
}

// NewFullScale keeps the input size.
func NewFullScale() Scale {
	return Scale{Mode: ScaleFull}
}

// NewMaxScale scales down to the given limits.
func NewMaxScale(limits Limits) Scale {
	return Scale{Mode: ScaleMax, Limits: limits}
}

// NewScaleToWidth fits to a width.
func NewScaleToWidth(width int) (Scale, error) {
	if width <= 0 {
		return Scale{}, ValidationError{KindScale, "width must be positive"}
	}
	return Scale{Mode: ScaleAspectFitWidth, Width: width}, nil
}

// NewScaleToHeight fits to a height.
func NewScaleToHeight(height int) (Scale, error) {
	if height <= 0 {
		return Scale{}, ValidationError{KindScale, "height must be positive"}
	}
	return Scale{Mode: ScaleAspectFitHeight, Height: height}, nil
}

// NewScaleToFit fits inside a width by height box.
func NewScaleToFit(width, height int) (Scale, error) {
	if width <= 0 || height <= 0 {
		return Scale{}, ValidationError{KindScale, "width and height must be positive"}
	}
	return Scale{Mode: ScaleAspectFitInside, Width: width, Height: height}, nil
}

// NewScaleToFill stretches to width by height.
func NewScaleToFill(width, height int) (Scale, error) {
	if width <= 0 || height <= 0 {
		return Scale{}, ValidationError{KindScale, "width and height must be positive"}
	}
	return Scale{Mode: ScaleNonAspectFill, Width: width, Height: height}, nil
}

// NewPercentScale scales by a factor in (0, 1].
func NewPercentScale(percent float64) (Scale, error) {
	if math.IsNaN(percent) || percent <= 0 || percent > 1 {
		return Scale{}, ValidationError{KindScale, fmt.Sprintf("percent %v is not in (0, 1]", percent)}
	}
	return Scale{Mode: ScalePercent, Percent: percent}, nil
}

func (Scale) operation() {}

// Kind returns KindScale.
func (Scale) Kind() Kind {
	return KindScale
}

// ResultingSize applies the scale to size.
func (s Scale) ResultingSize(size geometry.Dimension) geometry.Dimension {
	switch s.Mode {
	case ScaleMax:
		return s.Limits.Fit(size)
	case ScaleAspectFitWidth:
		if float64(s.Width) >= size.Width {
			return size
		}
		return size.Scale(float64(s.Width) / size.Width)
	case ScaleAspectFitHeight:
		if float64(s.Height) >= size.Height {
			return size
		}
		return size.Scale(float64(s.Height) / size.Height)
	case ScaleAspectFitInside:
		ratio := math.Min(float64(s.Width)/size.Width, float64(s.Height)/size.Height)
		if ratio >= 1 {
			return size
		}
		return size.Scale(ratio)
	case ScaleNonAspectFill:
		return geometry.NewDimension(
			math.Min(float64(s.Width), size.Width),
			math.Min(float64(s.Height), size.Height),
		)
	case ScalePercent:
		return size.Scale(s.Percent)
	default:
		return size
	}
}

// IsNoOp is true when the scale keeps any input size.
func (s Scale) IsNoOp() bool {
	switch s.Mode {
	case ScaleFull:
		return true
	case ScaleMax:
		return s.Limits.IsZero()
	case ScalePercent:
		return s.Percent == 1
	}
	return false
}

// IsNoOpIn is true when the scale keeps the input pixel size.
func (s Scale) IsNoOpIn(ctx Context) bool {
	return s.IsNoOp() || s.ResultingSize(ctx.InputSize).PixelEqual(ctx.InputSize)
}

// CanonicalMap describes the target size, resolved against the full size.
func (s Scale) CanonicalMap(full geometry.Dimension) map[string]interface{} {
	size := s.ResultingSize(full)
	return map[string]interface{}{
		"class":  KindScale.String(),
		"mode":   s.modeName(),
		"width":  size.IntWidth(),
		"height": size.IntHeight(),
	}
}

func (s Scale) modeName() string {
	switch s.Mode {
	case ScaleMax:
		return "max"
	case ScaleAspectFitWidth:
		return "aspect-fit-width"
	case ScaleAspectFitHeight:
		return "aspect-fit-height"
	case ScaleAspectFitInside:
		return "aspect-fit-inside"
	case ScaleNonAspectFill:
		return "non-aspect-fill"
	case ScalePercent:
		return "percent"
	default:
		return "full"
	}
}

func (s Scale) String() string {
	switch s.Mode {
	case ScaleMax:
		if s.Limits.IsZero() {
			return "scale:max"
		}
		l := s.Limits
		return fmt.Sprintf("scale:max:%d,%d,%d", l.MaxWidth, l.MaxHeight, l.MaxArea)
	case ScaleAspectFitWidth:
		return fmt.Sprintf("scale:%d,", s.Width)
	case ScaleAspectFitHeight:
		return fmt.Sprintf("scale:,%d", s.Height)
	case ScaleAspectFitInside:
		return fmt.Sprintf("scale:!%d,%d", s.Width, s.Height)
	case ScaleNonAspectFill:
		return fmt.Sprintf("scale:%d,%d", s.Width, s.Height)
	case ScalePercent:
		return "scale:pct:" + formatFloat(s.Percent)
	default:
		return "scale:full"
	}
}

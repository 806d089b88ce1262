package operation

import (
	"strconv"

	"github.com/greut/iiifcache/geometry"
)

// Redaction blacks out a region given in full image pixels.
type Redaction struct {
	Region geometry.Rectangle
}

func (Redaction) operation() {}

// Kind returns KindRedaction.
func (Redaction) Kind() Kind {
	return KindRedaction
}

// ResultingSize returns size.
func (Redaction) ResultingSize(size geometry.Dimension) geometry.Dimension {
	return size
}

// IsNoOp is true for an empty region.
func (r Redaction) IsNoOp() bool {
	return r.Region.IsEmpty()
}

// IsNoOpIn is true when the region misses the cropped area.
func (r Redaction) IsNoOpIn(ctx Context) bool {
	if r.IsNoOp() {
		return true
	}
	area := geometry.Rectangle{Width: ctx.FullSize.Width, Height: ctx.FullSize.Height}
	if ctx.List != nil {
		area = ctx.List.CropRegion(ctx.FullSize)
	}
	return !r.Region.Intersects(area)
}

// CanonicalMap returns the redacted region.
func (r Redaction) CanonicalMap(geometry.Dimension) map[string]interface{} {
	x, y, w, h := r.Region.IntBounds()
	return map[string]interface{}{
		"class":  KindRedaction.String(),
		"x":      x,
		"y":      y,
		"width":  w,
		"height": h,
	}
}

func (r Redaction) String() string {
	g := r.Region
	return "redact:" + formatFloats(g.X, g.Y, g.Width, g.Height)
}

// Position anchors an overlay.
type Position string

// Overlay positions.
const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
	Center      Position = "center"
	Repeat      Position = "repeat"
)

// ParsePosition checks a position name.
func ParsePosition(s string) (Position, bool) {
	switch p := Position(s); p {
	case TopLeft, TopRight, BottomLeft, BottomRight, Center, Repeat:
		return p, true
	}
	return "", false
}

// Overlay draws another image on top of the derivative.
type Overlay struct {
	// Image locates the overlay image, a path for the bundled processors.
	Image    string
	Position Position
	Inset    int
}

func (Overlay) operation() {}

// Kind returns KindOverlay.
func (Overlay) Kind() Kind {
	return KindOverlay
}

// ResultingSize returns size.
func (Overlay) ResultingSize(size geometry.Dimension) geometry.Dimension {
	return size
}

// IsNoOp is true without an image.
func (o Overlay) IsNoOp() bool {
	return o.Image == ""
}

// IsNoOpIn is the same as IsNoOp.
func (o Overlay) IsNoOpIn(Context) bool {
	return o.IsNoOp()
}

// CanonicalMap describes the overlay.
func (o Overlay) CanonicalMap(geometry.Dimension) map[string]interface{} {
	return map[string]interface{}{
		"class":    KindOverlay.String(),
		"image":    o.Image,
		"position": string(o.Position),
		"inset":    o.Inset,
	}
}

func (o Overlay) String() string {
	return "overlay:" + escape(o.Image) + "," + string(o.Position) + "," + strconv.Itoa(o.Inset)
}

// MetadataCopy carries the source metadata over to the derivative.
type MetadataCopy struct{}

func (MetadataCopy) operation() {}

// Kind returns KindMetadataCopy.
func (MetadataCopy) Kind() Kind {
	return KindMetadataCopy
}

// ResultingSize returns size.
func (MetadataCopy) ResultingSize(size geometry.Dimension) geometry.Dimension {
	return size
}

// IsNoOp is always false, the output bytes differ.
func (MetadataCopy) IsNoOp() bool {
	return false
}

// IsNoOpIn is always false.
func (MetadataCopy) IsNoOpIn(Context) bool {
	return false
}

// CanonicalMap names the operation.
func (MetadataCopy) CanonicalMap(geometry.Dimension) map[string]interface{} {
	return map[string]interface{}{
		"class": KindMetadataCopy.String(),
	}
}

func (MetadataCopy) String() string {
	return "metadata"
}

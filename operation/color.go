package operation

import "github.com/greut/iiifcache/geometry"

// Color is the kind of a ColorTransform.
type Color int

// Color transforms.
const (
	Gray Color = iota
	Bitonal
)

func (c Color) String() string {
	if c == Bitonal {
		return "bitonal"
	}
	return "gray"
}

// ColorTransform reduces the colors of the image. It always has an effect.
type ColorTransform struct {
	Color Color
}

func (ColorTransform) operation() {}

// Kind returns KindColorTransform.
func (ColorTransform) Kind() Kind {
	return KindColorTransform
}

// ResultingSize returns size.
func (ColorTransform) ResultingSize(size geometry.Dimension) geometry.Dimension {
	return size
}

// IsNoOp is always false.
func (ColorTransform) IsNoOp() bool {
	return false
}

// IsNoOpIn is always false.
func (ColorTransform) IsNoOpIn(Context) bool {
	return false
}

// CanonicalMap names the transform.
func (c ColorTransform) CanonicalMap(geometry.Dimension) map[string]interface{} {
	return map[string]interface{}{
		"class": KindColorTransform.String(),
		"type":  c.Color.String(),
	}
}

func (c ColorTransform) String() string {
	return "color:" + c.Color.String()
}

package operation

import (
	"math"

	"github.com/greut/iiifcache/geometry"
)

// Rotate turns the image clockwise by Degrees, after mirroring it
// horizontally when Mirror is set.
type Rotate struct {
	Degrees float64
	Mirror  bool
}

// NewRotate accepts degrees in [0, 360]; 360 is stored as 0.
func NewRotate(degrees float64, mirror bool) (Rotate, error) {
	if math.IsNaN(degrees) || degrees < 0 || degrees > 360 {
		return Rotate{}, ValidationError{KindRotate, "degrees must be within [0, 360]"}
	}
	return Rotate{Degrees: normalizeDegrees(degrees), Mirror: mirror}, nil
}

func normalizeDegrees(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// AddDegrees returns a rotation by r.Degrees+degrees, modulo 360.
func (r Rotate) AddDegrees(degrees float64) Rotate {
	r.Degrees = normalizeDegrees(r.Degrees + degrees)
	return r
}

// IsRightAngle is true for multiples of 90 degrees.
func (r Rotate) IsRightAngle() bool {
	return math.Mod(r.Degrees, 90) == 0
}

func (Rotate) operation() {}

// Kind returns KindRotate.
func (Rotate) Kind() Kind {
	return KindRotate
}

// ResultingSize returns the bounding box of the rotated image.
func (r Rotate) ResultingSize(size geometry.Dimension) geometry.Dimension {
	if r.IsRightAngle() {
		if math.Mod(r.Degrees, 180) == 0 {
			return size
		}
		return size.Swap()
	}
	rad := r.Degrees * math.Pi / 180
	sin := math.Abs(math.Sin(rad))
	cos := math.Abs(math.Cos(rad))
	return geometry.NewDimension(
		size.Width*cos+size.Height*sin,
		size.Height*cos+size.Width*sin,
	)
}

// IsNoOp is true without rotation nor mirroring.
func (r Rotate) IsNoOp() bool {
	return r.Degrees == 0 && !r.Mirror
}

// IsNoOpIn is the same as IsNoOp.
func (r Rotate) IsNoOpIn(Context) bool {
	return r.IsNoOp()
}

// CanonicalMap describes the rotation.
func (r Rotate) CanonicalMap(geometry.Dimension) map[string]interface{} {
	return map[string]interface{}{
		"class":   KindRotate.String(),
		"degrees": r.Degrees,
		"mirror":  r.Mirror,
	}
}

func (r Rotate) String() string {
	if r.Mirror {
		return "rotate:!" + formatFloat(r.Degrees)
	}
	return "rotate:" + formatFloat(r.Degrees)
}

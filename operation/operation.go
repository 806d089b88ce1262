// Package operation models an IIIF request as an ordered list of image
// operations and computes what they produce without touching any pixel.
//
// The set of operations is closed: Crop, Redaction, Scale, Rotate,
// ColorTransform, Overlay and MetadataCopy. Whatever the order they are
// added in, a List applies them in that order.
package operation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/greut/iiifcache/geometry"
)

// Kind identifies an operation variant. Its numeric value is the
// application order inside a List.
type Kind int

// Operation kinds, in application order.
const (
	KindCrop Kind = iota
	KindRedaction
	KindScale
	KindRotate
	KindColorTransform
	KindOverlay
	KindMetadataCopy
)

var kindNames = [...]string{
	KindCrop:           "Crop",
	KindRedaction:      "Redaction",
	KindScale:          "Scale",
	KindRotate:         "Rotate",
	KindColorTransform: "ColorTransform",
	KindOverlay:        "Overlay",
	KindMetadataCopy:   "MetadataCopy",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Context locates an operation within a list when deciding whether it
// changes anything.
type Context struct {
	// FullSize is the size of the source image.
	FullSize geometry.Dimension
	// InputSize is the size produced by the preceding operations.
	InputSize geometry.Dimension
	// List is the list the operation belongs to. It may be nil.
	List *List
}

// Operation is implemented by every operation variant of this package.
type Operation interface {
	// Kind tells the variant.
	Kind() Kind
	// ResultingSize returns the size obtained by applying the operation
	// to an image of the given size.
	ResultingSize(size geometry.Dimension) geometry.Dimension
	// IsNoOp is true when the operation can never change an image.
	IsNoOp() bool
	// IsNoOpIn is true when the operation leaves the image unchanged at
	// the given position.
	IsNoOpIn(ctx Context) bool
	// CanonicalMap describes the operation as resolved against the full
	// size, for metadata export.
	CanonicalMap(fullSize geometry.Dimension) map[string]interface{}
	// String returns the canonical form used in cache keys. Two
	// operations with different effects never share it.
	String() string

	operation()
}

// ValidationError is returned when an operation cannot apply to an image.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloats(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ",")
}

// escape makes a free-form value safe to embed in a canonical string.
// The underscore separates operations, so it is escaped as well.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "_", "%5F")
}

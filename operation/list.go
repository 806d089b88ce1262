package operation

import (
	"errors"
	"sort"
	"strings"

	"github.com/greut/iiifcache/geometry"
)

// ErrFrozen is returned when a frozen list is modified.
var ErrFrozen = errors.New("operation list is frozen")

// List is the ordered set of operations producing one derivative of one
// identifier in one output format.
//
// Operations are kept sorted by Kind, insertion order only matters
// between operations of the same kind. A List belongs to a single request
// and is not safe for concurrent mutation.
type List struct {
	identifier Identifier
	format     Format
	ops        []Operation
	options    map[string]string
	frozen     bool
}

// NewList builds a list from the given operations.
func NewList(id Identifier, format Format, ops ...Operation) *List {
	l := &List{
		identifier: id,
		format:     format,
		options:    make(map[string]string),
	}
	for _, op := range ops {
		l.insert(op)
	}
	return l
}

// Identifier returns the source identifier.
func (l *List) Identifier() Identifier {
	return l.identifier
}

// Format returns the output format.
func (l *List) Format() Format {
	return l.format
}

// Operations returns a copy of the operations, in application order.
func (l *List) Operations() []Operation {
	ops := make([]Operation, len(l.ops))
	copy(ops, l.ops)
	return ops
}

// Options returns a copy of the extra options.
func (l *List) Options() map[string]string {
	opts := make(map[string]string, len(l.options))
	for k, v := range l.options {
		opts[k] = v
	}
	return opts
}

// Add inserts an operation at its place in the application order.
func (l *List) Add(op Operation) error {
	if l.frozen {
		return ErrFrozen
	}
	l.insert(op)
	return nil
}

func (l *List) insert(op Operation) {
	i := sort.Search(len(l.ops), func(i int) bool {
		return l.ops[i].Kind() > op.Kind()
	})
	l.ops = append(l.ops, nil)
	copy(l.ops[i+1:], l.ops[i:])
	l.ops[i] = op
}

// SetOption records an extra option taking part in the canonical string.
func (l *List) SetOption(key, value string) error {
	if l.frozen {
		return ErrFrozen
	}
	l.options[key] = value
	return nil
}

// Freeze forbids any further modification.
func (l *List) Freeze() {
	l.frozen = true
}

// IsFrozen tells whether Freeze was called.
func (l *List) IsFrozen() bool {
	return l.frozen
}

// First returns the first operation of the given kind.
func (l *List) First(kind Kind) (Operation, bool) {
	for _, op := range l.ops {
		if op.Kind() == kind {
			return op, true
		}
	}
	return nil, false
}

// CropRegion returns the area of the full image kept by the crops.
func (l *List) CropRegion(full geometry.Dimension) geometry.Rectangle {
	region := geometry.Rectangle{Width: full.Width, Height: full.Height}
	for _, op := range l.ops {
		c, ok := op.(Crop)
		if !ok {
			continue
		}
		r := c.Rectangle(region.Size())
		region = r.Move(region.X, region.Y)
	}
	return region
}

// ResultingSize folds every operation, in order, over the full size.
func (l *List) ResultingSize(full geometry.Dimension) geometry.Dimension {
	size := full
	for _, op := range l.ops {
		size = op.ResultingSize(size)
	}
	return size
}

// IsNoOp is true when every operation is a no-op and the output format
// is the one inferred from the identifier.
func (l *List) IsNoOp() bool {
	return l.IsNoOpFrom(InferFormat(l.identifier))
}

// IsNoOpFrom is true when every operation is a no-op and the output
// format is the source format.
func (l *List) IsNoOpFrom(source Format) bool {
	if source == Unknown || source != l.format {
		return false
	}
	for _, op := range l.ops {
		if !op.IsNoOp() {
			return false
		}
	}
	return true
}

// IsNoOpFor is like IsNoOpFrom but evaluates each operation against the
// size produced by its predecessors.
func (l *List) IsNoOpFor(full geometry.Dimension, source Format) bool {
	if source == Unknown || source != l.format {
		return false
	}
	ctx := Context{FullSize: full, InputSize: full, List: l}
	for _, op := range l.ops {
		if !op.IsNoOpIn(ctx) {
			return false
		}
		ctx.InputSize = op.ResultingSize(ctx.InputSize)
	}
	return true
}

type validator interface {
	Validate(full geometry.Dimension) error
}

// Validate fails when an operation cannot apply to an image of the full
// size or when the result would be empty.
func (l *List) Validate(full geometry.Dimension) error {
	for _, op := range l.ops {
		if v, ok := op.(validator); ok {
			if err := v.Validate(full); err != nil {
				return err
			}
		}
	}
	if l.ResultingSize(full).IsEmpty() {
		return ValidationError{KindScale, "resulting image would be empty"}
	}
	return nil
}

// CanonicalMap describes the list, resolved against the full size.
func (l *List) CanonicalMap(full geometry.Dimension) map[string]interface{} {
	ops := make([]map[string]interface{}, 0, len(l.ops))
	ctx := Context{FullSize: full, InputSize: full, List: l}
	for _, op := range l.ops {
		if !op.IsNoOpIn(ctx) {
			ops = append(ops, op.CanonicalMap(full))
		}
		ctx.InputSize = op.ResultingSize(ctx.InputSize)
	}
	return map[string]interface{}{
		"identifier": string(l.identifier),
		"format":     string(l.format),
		"operations": ops,
		"options":    l.Options(),
	}
}

// String returns the canonical string: the identifier, every operation
// that is not a no-op, the options sorted by key and the extension.
func (l *List) String() string {
	parts := []string{string(l.identifier)}
	for _, op := range l.ops {
		if !op.IsNoOp() {
			parts = append(parts, op.String())
		}
	}

	keys := make([]string, 0, len(l.options))
	for k := range l.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, escape(k)+":"+escape(l.options[k]))
	}

	return strings.Join(parts, "_") + "." + l.format.Extension()
}

// Filename is the canonical string, used to name cached derivatives.
func (l *List) Filename() string {
	return l.String()
}

// Equal compares the identifiers, formats, effective operations and
// options of both lists.
func (l *List) Equal(o *List) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.Compare(o) == 0
}

// Compare orders lists by identifier, then format, then canonical string.
// The identifier is not escaped in the canonical string, so it cannot tell
// "a" cropped from an identifier "a_crop:1,1,1,1" on its own.
func (l *List) Compare(o *List) int {
	if c := strings.Compare(string(l.identifier), string(o.identifier)); c != 0 {
		return c
	}
	if c := strings.Compare(string(l.format), string(o.format)); c != 0 {
		return c
	}
	return strings.Compare(l.String(), o.String())
}

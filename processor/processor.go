// Package processor defines the capability that turns a source image and an
// operation list into derivative bytes, and the processors bundled with the
// server.
package processor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/greut/iiifcache/geometry"
	"github.com/greut/iiifcache/operation"
)

// Info is what a processor learns about a source without decoding it.
type Info struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	TileWidth  int              `json:"tileWidth,omitempty"`
	TileHeight int              `json:"tileHeight,omitempty"`
	Format     operation.Format `json:"format"`
}

// Size returns the full size of the source.
func (i Info) Size() geometry.Dimension {
	return geometry.NewDimension(float64(i.Width), float64(i.Height))
}

// Processor reads and transforms images.
type Processor interface {
	// AvailableOutputFormats lists what can be written from a source format.
	AvailableOutputFormats(source operation.Format) []operation.Format
	// ReadInfo inspects the source stream.
	ReadInfo(ctx context.Context, src io.Reader) (Info, error)
	// Process applies ops to the source and writes the encoded result.
	Process(ctx context.Context, ops *operation.List, info Info, src io.Reader, dst io.Writer) error
}

// Supports is true when p can write format from source.
func Supports(p Processor, source, format operation.Format) bool {
	for _, f := range p.AvailableOutputFormats(source) {
		if f == format {
			return true
		}
	}
	return false
}

// UnsupportedFormatError is returned when no output of Format can be
// produced from a Source image.
type UnsupportedFormatError struct {
	Format operation.Format
	Source operation.Format
}

func (e UnsupportedFormatError) Error() string {
	if e.Source == operation.Unknown {
		return fmt.Sprintf("cannot read this format as of yet, cannot output %#v", string(e.Format))
	}
	return fmt.Sprintf("cannot output the format %#v from %#v as of yet", string(e.Format), string(e.Source))
}

// UnsupportedError is returned for an operation the processor cannot
// perform, like an arbitrary rotation with libvips.
type UnsupportedError struct {
	Processor string
	Message   string
}

func (e UnsupportedError) Error() string {
	return e.Processor + " " + e.Message
}

// Factory builds a processor from its free-form options.
type Factory func(options map[string]interface{}) (Processor, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a processor available by name. It panics when the name
// is taken.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("processor: Register called twice for " + name)
	}
	registry[name] = factory
}

// New builds the processor registered under name.
func New(name string, options map[string]interface{}) (Processor, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("processor: unknown processor %q (known: %v)", name, Names())
	}
	return factory(options)
}

// Names lists the registered processors.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package source resolves identifiers into byte streams.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/greut/iiifcache/operation"
)

// Resolver locates source images.
type Resolver interface {
	// CheckAccess returns a NotFoundError or an AccessDeniedError when the
	// source cannot be read.
	CheckAccess(ctx context.Context, id operation.Identifier) error
	// SourceFormat returns the format of the source, Unknown when it
	// cannot be told.
	SourceFormat(ctx context.Context, id operation.Identifier) (operation.Format, error)
	// Open returns a stream of the source bytes.
	Open(ctx context.Context, id operation.Identifier) (io.ReadCloser, error)
}

// NotFoundError is returned when a source does not exist.
type NotFoundError struct {
	Identifier operation.Identifier
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("source not found: %#v", string(e.Identifier))
}

// AccessDeniedError is returned when a source exists but is not readable.
type AccessDeniedError struct {
	Identifier operation.Identifier
}

func (e AccessDeniedError) Error() string {
	return fmt.Sprintf("source is not readable: %#v", string(e.Identifier))
}

// ScrubIdentifier removes the parent directory references, until none
// is left: "....//" would otherwise become "../".
func ScrubIdentifier(id operation.Identifier) string {
	s := string(id)
	for strings.Contains(s, "../") {
		s = strings.Replace(s, "../", "", -1)
	}
	return s
}

// sniffFormat tells the format from the first bytes of a stream.
func sniffFormat(header []byte) operation.Format {
	// DetectContentType ignores TIFF.
	if strings.HasPrefix(string(header), "II*\x00") || strings.HasPrefix(string(header), "MM\x00*") {
		return operation.TIF
	}
	mediaType := http.DetectContentType(header)
	if mediaType == "application/pdf" {
		return operation.PDF
	}
	f, _ := operation.ParseFormat(strings.TrimPrefix(mediaType, "image/"))
	return f
}

// Factory builds a resolver from its free-form options.
type Factory func(options map[string]interface{}) (Resolver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a resolver available by name. It panics when the name
// is taken.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("source: Register called twice for " + name)
	}
	registry[name] = factory
}

// New builds the resolver registered under name.
func New(name string, options map[string]interface{}) (Resolver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Errorf("source: unknown resolver %q (known: %v)", name, Names())
	}
	return factory(options)
}

// Names lists the registered resolvers.
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

// Package cache stores sources, derivatives and info records on the
// filesystem, and keeps the info records of recent sources in memory.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"

	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
)

// ErrMiss is returned by the readers when no valid entry exists. It is not
// a failure: the caller processes the request live.
var ErrMiss = errors.New("cache: miss")

// UnavailableError wraps a filesystem failure. The caller logs it and
// carries on without the cache.
type UnavailableError struct {
	Op   string
	Path string
	Err  error
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e UnavailableError) Unwrap() error {
	return e.Err
}

// Entry is a cached file opened for reading.
type Entry struct {
	billy.File
	ModTime time.Time
	Size    int64
}

// Cache is the storage consulted before any source is resolved.
type Cache interface {
	// Source opens the cached copy of a source.
	Source(ctx context.Context, id operation.Identifier) (*Entry, error)
	// NewSourceWriter stores a copy of a source once closed.
	NewSourceWriter(ctx context.Context, id operation.Identifier) (*Writer, error)
	// Derivative opens a cached derivative. It freezes ops.
	Derivative(ctx context.Context, ops *operation.List) (*Entry, error)
	// NewDerivativeWriter stores a derivative once closed. It freezes ops.
	NewDerivativeWriter(ctx context.Context, ops *operation.List) (*Writer, error)
	// Info reads a persisted info record.
	Info(ctx context.Context, id operation.Identifier) (processor.Info, error)
	// PutInfo persists an info record.
	PutInfo(ctx context.Context, id operation.Identifier, info processor.Info) error
	// Purge removes everything stored about a source.
	Purge(ctx context.Context, id operation.Identifier) error
	// PurgeInvalid removes the entries past their time to live.
	PurgeInvalid(ctx context.Context) error
	// PurgeInfos removes every info record.
	PurgeInfos(ctx context.Context) error
	// PurgeAll empties the cache.
	PurgeAll(ctx context.Context) error
	// Sweep removes the files older than the minimum cleanable age.
	Sweep(ctx context.Context) error
}

// Options configures a cache.
type Options struct {
	// Path is the root directory.
	Path string
	// Depth and NameLength shape the hashed directories.
	Depth      int
	NameLength int

	// SourceTTL bounds the age of source copies, zero disables them.
	SourceTTL time.Duration
	// DerivativeTTL bounds the age of derivatives and info records, zero
	// keeps them until swept or purged.
	DerivativeTTL time.Duration
	// MinCleanableAge is the age a file must reach before a sweep
	// removes it. It has to exceed the longest write.
	MinCleanableAge time.Duration

	SourceEnabled     bool
	DerivativeEnabled bool
	InfoEnabled       bool

	// Concurrency bounds the directories swept in parallel.
	Concurrency int

	Logger *zerolog.Logger
}

// New builds the cache registered under name: "filesystem", or "none" to
// disable caching.
func New(name string, opts Options) (Cache, error) {
	switch name {
	case "filesystem":
		return NewFilesystemCache(opts)
	case "none", "":
		return NullCache{}, nil
	}
	return nil, fmt.Errorf("cache: unknown cache %q", name)
}

// NullCache never hits.
type NullCache struct{}

// Source misses.
func (NullCache) Source(context.Context, operation.Identifier) (*Entry, error) {
	return nil, ErrMiss
}

// NewSourceWriter discards.
func (NullCache) NewSourceWriter(context.Context, operation.Identifier) (*Writer, error) {
	return discard(), nil
}

// Derivative misses.
func (NullCache) Derivative(_ context.Context, ops *operation.List) (*Entry, error) {
	ops.Freeze()
	return nil, ErrMiss
}

// NewDerivativeWriter discards.
func (NullCache) NewDerivativeWriter(_ context.Context, ops *operation.List) (*Writer, error) {
	ops.Freeze()
	return discard(), nil
}

// Info misses.
func (NullCache) Info(context.Context, operation.Identifier) (processor.Info, error) {
	return processor.Info{}, ErrMiss
}

// PutInfo does nothing.
func (NullCache) PutInfo(context.Context, operation.Identifier, processor.Info) error {
	return nil
}

// Purge does nothing.
func (NullCache) Purge(context.Context, operation.Identifier) error { return nil }

// PurgeInvalid does nothing.
func (NullCache) PurgeInvalid(context.Context) error { return nil }

// PurgeInfos does nothing.
func (NullCache) PurgeInfos(context.Context) error { return nil }

// PurgeAll does nothing.
func (NullCache) PurgeAll(context.Context) error { return nil }

// Sweep does nothing.
func (NullCache) Sweep(context.Context) error { return nil }

var _ io.WriteCloser = (*Writer)(nil)

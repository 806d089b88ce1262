package cache

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
)

// FilesystemCache lays its entries out below a root directory:
//
//	source/<hash fragment>/<identifier>
//	image/<hash fragment>/<identifier>/<operation list>
//	info/<hash fragment>/<identifier>.json
//
// Every write goes through a temporary file renamed into place, so
// concurrent readers, writers and sweeps never see a partial entry.
type FilesystemCache struct {
	fs       billy.Filesystem
	layout   Layout
	opts     Options
	logger   zerolog.Logger
	inflight sync.Map
	now      func() time.Time
}

// NewFilesystemCache validates the options and creates the root.
func NewFilesystemCache(opts Options) (*FilesystemCache, error) {
	if opts.Path == "" {
		return nil, errors.New("cache: path is required")
	}
	if err := checkLayout(opts.Depth, opts.NameLength); err != nil {
		return nil, errors.Wrap(err, "cache")
	}
	if opts.SourceTTL < 0 || opts.DerivativeTTL < 0 {
		return nil, errors.New("cache: time to live cannot be negative")
	}
	if opts.MinCleanableAge <= 0 {
		return nil, errors.New("cache: minCleanableAge must be positive")
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cache: creating %v", opts.Path)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &FilesystemCache{
		fs:     osfs.New(opts.Path),
		layout: Layout{Depth: opts.Depth, NameLength: opts.NameLength},
		opts:   opts,
		logger: logger.With().Str("cache", opts.Path).Logger(),
		now:    time.Now,
	}, nil
}

// Layout returns the path scheme in use.
func (c *FilesystemCache) Layout() Layout {
	return c.layout
}

func (c *FilesystemCache) expired(modTime time.Time, ttl time.Duration) bool {
	return ttl > 0 && c.now().Sub(modTime) > ttl
}

// read opens name, removing it when it outlived ttl.
func (c *FilesystemCache) read(name string, ttl time.Duration) (*Entry, error) {
	stat, err := c.fs.Stat(name)
	if os.IsNotExist(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, UnavailableError{"stat", name, err}
	}

	if c.expired(stat.ModTime(), ttl) {
		c.logger.Debug().Str("path", name).Msg("cache entry expired")
		if err := c.fs.Remove(name); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", name).Msg("cannot remove the expired entry")
		}
		return nil, ErrMiss
	}

	f, err := c.fs.Open(name)
	if os.IsNotExist(err) {
		// Swept or purged since the stat.
		return nil, ErrMiss
	}
	if err != nil {
		return nil, UnavailableError{"open", name, err}
	}
	return &Entry{File: f, ModTime: stat.ModTime(), Size: stat.Size()}, nil
}

// newWriter starts a temporary file next to name. A second writer for the
// same name, within this process, gets a discarding writer.
func (c *FilesystemCache) newWriter(ctx context.Context, name string) (*Writer, error) {
	if _, busy := c.inflight.LoadOrStore(name, struct{}{}); busy {
		c.logger.Debug().Str("path", name).Msg("cache entry is being written already")
		return discard(), nil
	}
	release := func() { c.inflight.Delete(name) }

	temp, f, err := c.createTemp(path.Dir(name))
	if err != nil {
		release()
		return nil, err
	}

	return &Writer{
		ctx:     ctx,
		fs:      c.fs,
		file:    f,
		temp:    temp,
		target:  name,
		release: release,
		logger:  c.logger,
	}, nil
}

// createTemp opens a new temporary file in dir. A sweep may prune dir
// between its creation and the opening of the file, so it is tried twice.
func (c *FilesystemCache) createTemp(dir string) (string, billy.File, error) {
	temp := path.Join(dir, tempPrefix+uuid.NewString())
	for attempt := 0; ; attempt++ {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return "", nil, UnavailableError{"mkdir", dir, err}
		}
		f, err := c.fs.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return temp, f, nil
		}
		if !os.IsNotExist(err) || attempt > 0 {
			return "", nil, UnavailableError{"create", temp, err}
		}
		c.logger.Debug().Str("path", dir).Msg("cache directory pruned while writing, retrying")
	}
}

func (c *FilesystemCache) sourceEnabled() bool {
	return c.opts.SourceEnabled && c.opts.SourceTTL > 0
}

// Source opens the copy of a source.
func (c *FilesystemCache) Source(ctx context.Context, id operation.Identifier) (*Entry, error) {
	if !c.sourceEnabled() {
		return nil, ErrMiss
	}
	return c.read(c.layout.SourcePath(id), c.opts.SourceTTL)
}

// NewSourceWriter stores a copy of a source.
func (c *FilesystemCache) NewSourceWriter(ctx context.Context, id operation.Identifier) (*Writer, error) {
	if !c.sourceEnabled() {
		return discard(), nil
	}
	return c.newWriter(ctx, c.layout.SourcePath(id))
}

// Derivative opens a derivative.
func (c *FilesystemCache) Derivative(ctx context.Context, ops *operation.List) (*Entry, error) {
	ops.Freeze()
	if !c.opts.DerivativeEnabled {
		return nil, ErrMiss
	}
	return c.read(c.layout.DerivativePath(ops), c.opts.DerivativeTTL)
}

// NewDerivativeWriter stores a derivative.
func (c *FilesystemCache) NewDerivativeWriter(ctx context.Context, ops *operation.List) (*Writer, error) {
	ops.Freeze()
	if !c.opts.DerivativeEnabled {
		return discard(), nil
	}
	return c.newWriter(ctx, c.layout.DerivativePath(ops))
}

// Info reads an info record.
func (c *FilesystemCache) Info(ctx context.Context, id operation.Identifier) (processor.Info, error) {
	var info processor.Info
	if !c.opts.InfoEnabled {
		return info, ErrMiss
	}

	name := c.layout.InfoPath(id)
	entry, err := c.read(name, c.opts.DerivativeTTL)
	if err != nil {
		return info, err
	}
	defer entry.Close()

	if err := json.NewDecoder(entry).Decode(&info); err != nil {
		return info, UnavailableError{"decode", name, err}
	}
	return info, nil
}

// PutInfo writes an info record.
func (c *FilesystemCache) PutInfo(ctx context.Context, id operation.Identifier, info processor.Info) error {
	if !c.opts.InfoEnabled {
		return nil
	}

	w, err := c.newWriter(ctx, c.layout.InfoPath(id))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(info); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// Purge removes the source copy, the info record and every derivative of
// a source.
func (c *FilesystemCache) Purge(ctx context.Context, id operation.Identifier) error {
	for _, name := range []string{c.layout.SourcePath(id), c.layout.InfoPath(id)} {
		if err := c.fs.Remove(name); err != nil && !os.IsNotExist(err) {
			return UnavailableError{"remove", name, err}
		}
		c.prune(path.Dir(name))
	}

	dir := c.layout.DerivativeDir(id)
	if err := util.RemoveAll(c.fs, dir); err != nil {
		return UnavailableError{"remove", dir, err}
	}
	c.prune(path.Dir(dir))

	c.logger.Info().Str("identifier", string(id)).Msg("purged")
	return nil
}

// PurgeInvalid removes the entries past their time to live. Every source
// copy goes when source caching is disabled.
func (c *FilesystemCache) PurgeInvalid(ctx context.Context) error {
	trees := map[string]func(os.FileInfo) bool{
		sourceDir: func(fi os.FileInfo) bool {
			return !c.sourceEnabled() || c.expired(fi.ModTime(), c.opts.SourceTTL)
		},
		derivativeDir: func(fi os.FileInfo) bool {
			return c.expired(fi.ModTime(), c.opts.DerivativeTTL)
		},
		infoDir: func(fi os.FileInfo) bool {
			return c.expired(fi.ModTime(), c.opts.DerivativeTTL)
		},
	}

	var removed int64
	err := c.walkTrees(ctx, trees, func(name string, fi os.FileInfo) bool {
		// Temporary files are the sweep's business.
		return !isTemp(name)
	}, &removed)

	c.logger.Info().Int64("removed", removed).Msg("invalid entries purged")
	return err
}

// PurgeInfos removes every info record.
func (c *FilesystemCache) PurgeInfos(ctx context.Context) error {
	if err := util.RemoveAll(c.fs, infoDir); err != nil {
		return UnavailableError{"remove", infoDir, err}
	}
	c.logger.Info().Msg("info records purged")
	return nil
}

// PurgeAll removes everything.
func (c *FilesystemCache) PurgeAll(ctx context.Context) error {
	for _, dir := range []string{sourceDir, derivativeDir, infoDir} {
		if err := util.RemoveAll(c.fs, dir); err != nil {
			return UnavailableError{"remove", dir, err}
		}
	}
	c.logger.Info().Msg("cache purged")
	return nil
}

// Sweep removes every file, temporary ones included, older than the
// minimum cleanable age, then the empty directories.
func (c *FilesystemCache) Sweep(ctx context.Context) error {
	deadline := c.now().Add(-c.opts.MinCleanableAge)
	old := func(fi os.FileInfo) bool {
		return fi.ModTime().Before(deadline)
	}

	trees := map[string]func(os.FileInfo) bool{
		sourceDir:     old,
		derivativeDir: old,
		infoDir:       old,
	}

	var removed int64
	err := c.walkTrees(ctx, trees, nil, &removed)
	c.logger.Info().Int64("removed", removed).Dur("minCleanableAge", c.opts.MinCleanableAge).Msg("cache swept")
	return err
}

// walkTrees visits the top level directories of each tree in parallel,
// removing the files matching both predicates.
func (c *FilesystemCache) walkTrees(ctx context.Context, trees map[string]func(os.FileInfo) bool, filter func(string, os.FileInfo) bool, removed *int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for tree, stale := range trees {
		match := func(name string, fi os.FileInfo) bool {
			if filter != nil && !filter(name, fi) {
				return false
			}
			return stale(fi)
		}

		entries, err := c.fs.ReadDir(tree)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return UnavailableError{"readdir", tree, err}
		}

		for _, fi := range entries {
			name := path.Join(tree, fi.Name())
			if !fi.IsDir() {
				if match(name, fi) {
					c.remove(name, removed)
				}
				continue
			}
			g.Go(func() error {
				return c.walk(ctx, name, match, removed)
			})
		}
	}

	return g.Wait()
}

// walk removes the matching files below dir, then dir when it is left
// empty.
func (c *FilesystemCache) walk(ctx context.Context, dir string, match func(string, os.FileInfo) bool, removed *int64) error {
	entries, err := c.fs.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return UnavailableError{"readdir", dir, err}
	}

	for _, fi := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := path.Join(dir, fi.Name())
		if fi.IsDir() {
			if err := c.walk(ctx, name, match, removed); err != nil {
				return err
			}
			continue
		}
		if match(name, fi) {
			c.remove(name, removed)
		}
	}

	c.removeIfEmpty(dir)
	return nil
}

func (c *FilesystemCache) remove(name string, removed *int64) {
	if err := c.fs.Remove(name); err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", name).Msg("cannot remove the cache entry")
		}
		return
	}
	atomic.AddInt64(removed, 1)
}

// removeIfEmpty removes dir when it holds no entry. A writer racing it
// recreates the directory once, see createTemp.
func (c *FilesystemCache) removeIfEmpty(dir string) bool {
	entries, err := c.fs.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return false
	}
	return c.fs.Remove(dir) == nil
}

// prune removes dir and its parents while they are empty, up to the tree.
func (c *FilesystemCache) prune(dir string) {
	for dir != "." && dir != "/" && path.Dir(dir) != "." {
		if !c.removeIfEmpty(dir) {
			return
		}
		dir = path.Dir(dir)
	}
}

package iiif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/greut/iiifcache/cache"
	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
	"github.com/greut/iiifcache/source"
)

var maxSizeError = "The given `size` is out of the limits %vx%v (%vx%v or area %v)"

// ServiceOptions wires the components of a Service.
type ServiceOptions struct {
	Version   int
	Limits    operation.Limits
	Resolver  source.Resolver
	Processor processor.Processor
	// Cache defaults to cache.NullCache.
	Cache cache.Cache
	// InfoEntries bounds the info records kept in memory.
	InfoEntries int

	Overlay      *operation.Overlay
	Redactions   map[operation.Identifier][]operation.Redaction
	CopyMetadata bool
	// PurgeMissing removes the cached entries of a source that vanished.
	PurgeMissing bool
	// MaxAge is sent in the Cache-Control header.
	MaxAge time.Duration

	Logger *zerolog.Logger
}

// Service answers image and info requests, from the cache when it can.
type Service struct {
	Parser *Parser
	MaxAge time.Duration

	resolver  source.Resolver
	processor processor.Processor
	cache     cache.Cache
	infos     *cache.InfoCache
	group     singleflight.Group
	logger    zerolog.Logger

	overlay      *operation.Overlay
	redactions   map[operation.Identifier][]operation.Redaction
	copyMetadata bool
	purgeMissing bool
}

// NewService checks the options.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Resolver == nil {
		return nil, errors.New("iiif: a resolver is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("iiif: a processor is required")
	}
	if opts.Version == 0 {
		opts.Version = 2
	}
	if opts.Cache == nil {
		opts.Cache = cache.NullCache{}
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Service{
		Parser:       NewParser(opts.Version, opts.Limits),
		MaxAge:       opts.MaxAge,
		resolver:     opts.Resolver,
		processor:    opts.Processor,
		cache:        opts.Cache,
		infos:        cache.NewInfoCache(opts.InfoEntries),
		logger:       logger,
		overlay:      opts.Overlay,
		redactions:   opts.Redactions,
		copyMetadata: opts.CopyMetadata,
		purgeMissing: opts.PurgeMissing,
	}, nil
}

// log prefers the request logger.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// Derivative is an encoded image ready to be served.
type Derivative struct {
	io.ReadSeeker
	ModTime time.Time
	Format  operation.Format
	closer  io.Closer
}

// Close releases the cache entry backing the derivative, if any.
func (d *Derivative) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// Formats lists the output formats available for a source.
func (s *Service) Formats(info processor.Info) []operation.Format {
	return s.processor.AvailableOutputFormats(info.Format)
}

// decorate adds the server side operations to a parsed list.
func (s *Service) decorate(ops *operation.List) error {
	if ops.IsFrozen() {
		return nil
	}
	for _, r := range s.redactions[ops.Identifier()] {
		if err := ops.Add(r); err != nil {
			return err
		}
	}
	if s.overlay != nil {
		if err := ops.Add(*s.overlay); err != nil {
			return err
		}
	}
	if s.copyMetadata {
		if err := ops.Add(operation.MetadataCopy{}); err != nil {
			return err
		}
	}
	return nil
}

// Derivative produces the image described by ops: from the derivative
// cache, as the untouched source when ops is a no-op, or processed live
// and stored. Cache failures are logged, never returned.
func (s *Service) Derivative(ctx context.Context, ops *operation.List) (*Derivative, error) {
	logger := s.log(ctx)
	if err := s.decorate(ops); err != nil {
		return nil, err
	}
	ops.Freeze()

	entry, err := s.cache.Derivative(ctx, ops)
	switch {
	case err == nil:
		logger.Debug().Str("operations", ops.String()).Msg("derivative cache hit")
		return &Derivative{ReadSeeker: entry, ModTime: entry.ModTime, Format: ops.Format(), closer: entry}, nil
	case errors.Is(err, cache.ErrMiss):
		logger.Debug().Str("operations", ops.String()).Msg("derivative cache miss")
	default:
		logger.Warn().Err(err).Msg("derivative cache unavailable")
	}

	id := ops.Identifier()
	info, err := s.Info(ctx, id)
	if err != nil {
		return nil, err
	}

	full := info.Size()
	if err := ops.Validate(full); err != nil {
		return nil, err
	}
	size := ops.ResultingSize(full)
	if l := s.Parser.Limits; !l.Allows(size.IntWidth(), size.IntHeight()) {
		message := fmt.Sprintf(maxSizeError, size.IntWidth(), size.IntHeight(), l.MaxWidth, l.MaxHeight, l.MaxArea)
		return nil, HTTPError{http.StatusBadRequest, message}
	}

	noop := ops.IsNoOpFor(full, info.Format)
	if !noop && !processor.Supports(s.processor, info.Format, ops.Format()) {
		return nil, processor.UnsupportedFormatError{Format: ops.Format(), Source: info.Format}
	}

	src, err := s.openSource(ctx, id)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if noop {
		logger.Debug().Str("identifier", string(id)).Msg("serving the source as is")
		buffer, err := ioutil.ReadAll(src)
		if err != nil {
			return nil, err
		}
		return &Derivative{ReadSeeker: bytes.NewReader(buffer), ModTime: time.Now(), Format: ops.Format()}, nil
	}

	var buffer bytes.Buffer
	var dst io.Writer = &buffer

	w, err := s.cache.NewDerivativeWriter(ctx, ops)
	if err != nil {
		logger.Warn().Err(err).Msg("derivative cache unavailable")
		w = nil
	}
	tee := &cacheTee{dst: &buffer, cache: w}
	if w != nil {
		dst = tee
	}

	if err := s.processor.Process(ctx, ops, info, src, dst); err != nil {
		if w != nil {
			w.Abort()
		}
		return nil, err
	}

	if w != nil {
		if tee.err != nil {
			logger.Warn().Err(tee.err).Msg("derivative not cached")
			w.Abort()
		} else if err := w.Close(); err != nil {
			logger.Warn().Err(err).Msg("derivative not cached")
		}
	}

	return &Derivative{ReadSeeker: bytes.NewReader(buffer.Bytes()), ModTime: time.Now(), Format: ops.Format()}, nil
}

// Info returns the record of a source, from memory, the cache or the
// source itself. Concurrent lookups of one source share the work; a caller
// giving up does not cancel it for the others.
func (s *Service) Info(ctx context.Context, id operation.Identifier) (processor.Info, error) {
	if info, ok := s.infos.Get(id); ok {
		return info, nil
	}

	// The lookup is shared: it must outlive the caller that started it.
	ch := s.group.DoChan(string(id), func() (interface{}, error) {
		return s.readInfo(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return processor.Info{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return processor.Info{}, res.Err
		}
		return res.Val.(processor.Info), nil
	}
}

func (s *Service) readInfo(ctx context.Context, id operation.Identifier) (processor.Info, error) {
	logger := s.log(ctx)

	info, err := s.cache.Info(ctx, id)
	switch {
	case err == nil:
		s.infos.Put(id, info)
		return info, nil
	case errors.Is(err, cache.ErrMiss):
	default:
		logger.Warn().Err(err).Msg("info cache unavailable")
	}

	if err := s.checkAccess(ctx, id); err != nil {
		return info, err
	}

	format, err := s.resolver.SourceFormat(ctx, id)
	if err != nil {
		return info, err
	}

	src, err := s.openSource(ctx, id)
	if err != nil {
		return info, err
	}
	defer src.Close()

	info, err = s.processor.ReadInfo(ctx, src)
	if err != nil {
		return info, err
	}
	if format != operation.Unknown {
		info.Format = format
	}

	if err := s.cache.PutInfo(ctx, id, info); err != nil {
		logger.Warn().Err(err).Msg("info not cached")
	}
	s.infos.Put(id, info)
	return info, nil
}

// checkAccess asks the resolver.
func (s *Service) checkAccess(ctx context.Context, id operation.Identifier) error {
	err := s.resolver.CheckAccess(ctx, id)
	s.forgetMissing(ctx, id, err)
	return err
}

// forgetMissing purges what is cached about a source the resolver no
// longer finds.
func (s *Service) forgetMissing(ctx context.Context, id operation.Identifier, err error) {
	var notFound source.NotFoundError
	if !s.purgeMissing || !errors.As(err, &notFound) {
		return
	}

	s.infos.Remove(id)
	if perr := s.cache.Purge(ctx, id); perr != nil {
		s.log(ctx).Warn().Err(perr).Str("identifier", string(id)).Msg("cannot purge the missing source")
		return
	}
	s.log(ctx).Info().Str("identifier", string(id)).Msg("missing source purged")
}

// openSource reads the cached copy of a source, or the source itself
// while copying it into the cache.
func (s *Service) openSource(ctx context.Context, id operation.Identifier) (io.ReadCloser, error) {
	logger := s.log(ctx)

	entry, err := s.cache.Source(ctx, id)
	switch {
	case err == nil:
		logger.Debug().Str("identifier", string(id)).Msg("source cache hit")
		return entry, nil
	case errors.Is(err, cache.ErrMiss):
	default:
		logger.Warn().Err(err).Msg("source cache unavailable")
	}

	rc, err := s.resolver.Open(ctx, id)
	if err != nil {
		s.forgetMissing(ctx, id, err)
		return nil, err
	}

	w, err := s.cache.NewSourceWriter(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("source cache unavailable")
		return rc, nil
	}
	if w.Discards() {
		return rc, nil
	}
	return &sourceTee{src: rc, cache: w, logger: logger}, nil
}

// cacheTee writes to dst and to the cache, giving up on the cache at its
// first failure.
type cacheTee struct {
	dst   io.Writer
	cache *cache.Writer
	err   error
}

func (t *cacheTee) Write(p []byte) (int, error) {
	n, err := t.dst.Write(p)
	if t.err == nil && n > 0 {
		if _, werr := t.cache.Write(p[:n]); werr != nil {
			t.err = werr
		}
	}
	return n, err
}

// sourceTee copies what is read from a source into the cache. On Close,
// the rest of the source is copied and the entry published, or dropped
// after any failure.
type sourceTee struct {
	src    io.ReadCloser
	cache  *cache.Writer
	logger *zerolog.Logger
	err    error
	eof    bool
}

func (t *sourceTee) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if t.err == nil && n > 0 {
		if _, werr := t.cache.Write(p[:n]); werr != nil {
			t.err = werr
		}
	}
	switch {
	case err == io.EOF:
		t.eof = true
	case err != nil && t.err == nil:
		t.err = err
	}
	return n, err
}

func (t *sourceTee) Close() error {
	if t.err == nil && !t.eof {
		if _, err := io.Copy(t.cache, t.src); err != nil {
			t.err = err
		}
	}

	err := t.src.Close()
	if t.err != nil {
		t.logger.Warn().Err(t.err).Msg("source not cached")
		t.cache.Abort()
		return err
	}
	if cerr := t.cache.Close(); cerr != nil {
		t.logger.Warn().Err(cerr).Msg("source not cached")
	}
	return err
}

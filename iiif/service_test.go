package iiif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greut/iiifcache/cache"
	"github.com/greut/iiifcache/geometry"
	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
	"github.com/greut/iiifcache/source"
)

func readDerivative(t *testing.T, d *Derivative) []byte {
	t.Helper()
	defer d.Close()
	b, err := ioutil.ReadAll(d)
	require.NoError(t, err)
	return b
}

func parse(t *testing.T, s *Service, id, region, size, rotation, qualityFormat string) *operation.List {
	t.Helper()
	ops, err := s.Parser.ParseRequest(id, region, size, rotation, qualityFormat)
	require.NoError(t, err)
	return ops
}

func TestServiceNoOp(t *testing.T) {
	root := fixtures(t)
	s := newService(t, root, ServiceOptions{})
	ctx := context.Background()

	d, err := s.Derivative(ctx, parse(t, s, "test.png", "full", "max", "0", "default.png"))
	require.NoError(t, err)

	original, err := ioutil.ReadFile(filepath.Join(root, "test.png"))
	require.NoError(t, err)
	require.Equal(t, original, readDerivative(t, d))
}

func TestServiceDerivativeCache(t *testing.T) {
	root := fixtures(t)
	c := newFilesystemCache(t)
	s := newService(t, root, ServiceOptions{Cache: c})
	ctx := context.Background()

	first, err := s.Derivative(ctx, parse(t, s, "test.png", "full", "150,", "0", "default.png"))
	require.NoError(t, err)
	body := readDerivative(t, first)

	entry, err := c.Derivative(ctx, parse(t, s, "test.png", "full", "150,", "0", "default.png"))
	require.NoError(t, err, "the derivative should be cached")
	entry.Close()

	src, err := c.Source(ctx, "test.png")
	require.NoError(t, err, "the source should be cached")
	src.Close()

	info, err := c.Info(ctx, "test.png")
	require.NoError(t, err, "the info should be cached")
	require.Equal(t, 300, info.Width)
	require.Equal(t, operation.PNG, info.Format)

	// Served from the cache once the source is gone.
	require.NoError(t, os.Remove(filepath.Join(root, "test.png")))
	second, err := s.Derivative(ctx, parse(t, s, "test.png", "full", "150,", "0", "default.png"))
	require.NoError(t, err)
	require.Equal(t, body, readDerivative(t, second))
}

func TestServicePurgeMissing(t *testing.T) {
	root := fixtures(t)
	c, err := cache.New("filesystem", cache.Options{
		Path:              t.TempDir(),
		Depth:             1,
		NameLength:        2,
		MinCleanableAge:   time.Minute,
		DerivativeEnabled: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	s := newService(t, root, ServiceOptions{Cache: c})
	d, err := s.Derivative(ctx, parse(t, s, "test.png", "full", "150,", "0", "default.png"))
	require.NoError(t, err)
	d.Close()

	require.NoError(t, os.Remove(filepath.Join(root, "test.png")))

	fresh := newService(t, root, ServiceOptions{Cache: c, PurgeMissing: true})
	_, err = fresh.Derivative(ctx, parse(t, fresh, "test.png", "full", "100,", "0", "default.png"))
	var notFound source.NotFoundError
	require.True(t, errors.As(err, &notFound), "got %v", err)

	_, err = c.Derivative(ctx, parse(t, s, "test.png", "full", "150,", "0", "default.png"))
	require.ErrorIs(t, err, cache.ErrMiss, "the derivatives of a missing source are purged")
}

func TestServiceDecorations(t *testing.T) {
	root := fixtures(t)
	s := newService(t, root, ServiceOptions{
		Redactions: map[operation.Identifier][]operation.Redaction{
			"test.png": {{Region: geometry.Rectangle{X: 0, Y: 0, Width: 10, Height: 10}}},
		},
		CopyMetadata: true,
	})
	ctx := context.Background()

	ops := parse(t, s, "test.png", "full", "max", "0", "default.png")
	d, err := s.Derivative(ctx, ops)
	require.NoError(t, err)

	var kinds []operation.Kind
	for _, op := range ops.Operations() {
		kinds = append(kinds, op.Kind())
	}
	require.Contains(t, kinds, operation.KindRedaction)
	require.Contains(t, kinds, operation.KindMetadataCopy)
	require.True(t, ops.IsFrozen())

	img, _, err := image.Decode(bytes.NewReader(readDerivative(t, d)))
	require.NoError(t, err)

	r, g, b, _ := img.At(5, 5).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("redacted pixel: got %v,%v,%v want black", r, g, b)
	}
	r, g, b, _ = img.At(50, 50).RGBA()
	if r == 0 && g == 0 && b == 0 {
		t.Errorf("pixel outside of the redaction should be untouched")
	}

	// Other sources are not redacted.
	plain := parse(t, s, "images/test.png", "full", "max", "0", "default.png")
	_, err = s.Derivative(ctx, plain)
	require.NoError(t, err)
	for _, op := range plain.Operations() {
		if op.Kind() == operation.KindRedaction {
			t.Errorf("images/test.png should not be redacted")
		}
	}
}

func TestServiceLimits(t *testing.T) {
	s := newService(t, fixtures(t), ServiceOptions{Limits: operation.Limits{MaxWidth: 100}})

	scale, err := operation.NewScaleToWidth(300)
	require.NoError(t, err)

	_, err = s.Derivative(context.Background(), operation.NewList("test.png", operation.PNG, scale))
	var httpErr HTTPError
	require.True(t, errors.As(err, &httpErr), "got %v", err)
	require.Equal(t, 400, httpErr.StatusCode)
}

func TestServiceUnsupportedFormat(t *testing.T) {
	s := newService(t, fixtures(t), ServiceOptions{})

	_, err := s.Derivative(context.Background(), parse(t, s, "test.png", "full", "max", "0", "default.webp"))
	var formatErr processor.UnsupportedFormatError
	require.True(t, errors.As(err, &formatErr), "got %v", err)
	require.Equal(t, operation.WEBP, formatErr.Format)
	require.Equal(t, operation.PNG, formatErr.Source)
}

func TestServiceConcurrentInfo(t *testing.T) {
	s := newService(t, fixtures(t), ServiceOptions{Cache: newFilesystemCache(t)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := s.Info(ctx, "test.png")
			if err != nil {
				t.Error(err)
				return
			}
			if info.Width != 300 || info.Height != 200 {
				t.Errorf("info: got %vx%v want 300x200", info.Width, info.Height)
			}
		}()
	}
	wg.Wait()
}

// slowResolver holds CheckAccess until released, or its context is done.
type slowResolver struct {
	source.Resolver
	entered chan struct{}
	release chan struct{}
}

func (r *slowResolver) CheckAccess(ctx context.Context, id operation.Identifier) error {
	r.entered <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Resolver.CheckAccess(ctx, id)
}

func TestServiceInfoOutlivesCaller(t *testing.T) {
	resolver, err := source.NewFilesystemResolver(fixtures(t))
	require.NoError(t, err)
	slow := &slowResolver{
		Resolver: resolver,
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	p, err := processor.New("go", nil)
	require.NoError(t, err)
	s, err := NewService(ServiceOptions{Resolver: slow, Processor: p})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Info(ctx, "test.png")
		first <- err
	}()
	<-slow.entered

	second := make(chan error, 1)
	go func() {
		info, err := s.Info(context.Background(), "test.png")
		if err == nil && info.Width != 300 {
			err = fmt.Errorf("width: got %v want 300", info.Width)
		}
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(slow.release)
	require.NoError(t, <-second)
}

func TestNewServiceRequirements(t *testing.T) {
	_, err := NewService(ServiceOptions{})
	require.Error(t, err)
}

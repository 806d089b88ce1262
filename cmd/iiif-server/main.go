package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/greut/iiifcache/cache"
	"github.com/greut/iiifcache/config"
	"github.com/greut/iiifcache/iiif"
	"github.com/greut/iiifcache/processor"
	"github.com/greut/iiifcache/source"

	// Registers the libvips processor.
	_ "github.com/greut/iiifcache/processor/vips"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Configuration
	var configFile = flag.String("config", "config.toml", "Define the configuration file to use (.toml or .yaml).")
	var verbose = flag.Bool("verbose", false, "Log at the debug level.")
	flag.Parse()

	if flag.NArg() > 0 {
		*configFile = flag.Arg(0)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("config", *configFile).Msg("reading configuration")
	c, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := c.CheckCacheRoot(); err != nil {
		log.Fatal().Err(err).Msg("unusable cache")
	}

	resolver, err := source.New(c.Source.Name, c.Source.Options)
	if err != nil {
		log.Fatal().Err(err).Strs("available", source.Names()).Msg("cannot build the source resolver")
	}

	p, err := processor.New(c.Processor.Name, c.Processor.Options)
	if err != nil {
		log.Fatal().Err(err).Strs("available", processor.Names()).Msg("cannot build the processor")
	}

	logger := log.Logger
	store, err := cache.New(c.Cache.Name, c.CacheOptions(&logger))
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build the cache")
	}

	opts := iiif.ServiceOptions{
		Version:      c.Version,
		Limits:       c.Limits(),
		Resolver:     resolver,
		Processor:    p,
		Cache:        store,
		InfoEntries:  c.Cache.InfoEntries,
		Redactions:   c.RedactionOperations(),
		CopyMetadata: c.Processor.CopyMetadata,
		PurgeMissing: c.PurgeMissing,
		MaxAge:       time.Duration(c.HTTPCache),
		Logger:       &logger,
	}
	if overlay, ok := c.OverlayOperation(); ok {
		opts.Overlay = &overlay
	}

	service, err := iiif.NewService(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build the service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := time.Duration(c.Cache.SweepInterval); c.Cache.Enabled() && interval > 0 {
		go sweep(ctx, store, interval)
	}

	// Serving
	listen := fmt.Sprintf("%v:%v", c.Host, c.Port)
	srv := &http.Server{
		Addr:    listen,
		Handler: iiif.NewHandler(service),
	}

	go func() {
		log.Info().
			Str("listen", listen).
			Str("source", c.Source.Name).
			Str("processor", c.Processor.Name).
			Str("cache", c.Cache.Name).
			Str("processors", strings.Join(processor.Names(), ",")).
			Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdown); err != nil {
		log.Fatal().Err(err).Msg("cannot shut down")
	}
	log.Info().Msg("server stopped")
}

// sweep runs the cache sweep at every interval until ctx is done.
func sweep(ctx context.Context, store cache.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/greut/iiifcache/cache"
	"github.com/greut/iiifcache/config"
	"github.com/greut/iiifcache/operation"
)

const usage = `usage: iiif-cache [-config config.toml] command

commands:
  sweep            remove the files older than minCleanableAge
  purge <id>...    remove everything cached about the sources
  purge-invalid    remove the entries past their time to live
  purge-infos      remove every info record
  purge-all        empty the cache
`

func main() {
	var configFile = flag.String("config", "config.toml", "Define the configuration file to use (.toml or .yaml).")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !c.Cache.Enabled() {
		log.Fatal().Msg("the cache is disabled")
	}

	logger := log.Logger
	store, err := cache.New(c.Cache.Name, c.CacheOptions(&logger))
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open the cache")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, store, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("failed")
	}
}

func run(ctx context.Context, store cache.Cache, command string, args []string) error {
	switch command {
	case "sweep":
		return store.Sweep(ctx)
	case "purge":
		if len(args) == 0 {
			return fmt.Errorf("purge needs at least one identifier")
		}
		for _, id := range args {
			if err := store.Purge(ctx, operation.Identifier(id)); err != nil {
				return err
			}
		}
		return nil
	case "purge-invalid":
		return store.PurgeInvalid(ctx)
	case "purge-infos":
		return store.PurgeInfos(ctx)
	case "purge-all":
		return store.PurgeAll(ctx)
	}
	return fmt.Errorf("unknown command %#v", command)
}

package main

import (
	"context"
	"flag"

	"github.com/GriffinCanCode/Builder-sub007/internal/cache"
	"github.com/GriffinCanCode/Builder-sub007/internal/env"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
)

func cmdCache(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	cacheDir := fs.String("cache_dir", defaultCacheDir(), "action cache root directory")
	fs.Parse(args)

	sub := "gc"
	rest := fs.Args()
	if len(rest) > 0 {
		sub, rest = rest[0], rest[1:]
	}

	cfg, err := env.Load()
	if err != nil {
		return err
	}
	limits := cache.Limits{
		MaxBytes:   cfg.ActionCache.MaxSizeBytes,
		MaxEntries: cfg.ActionCache.MaxEntries,
	}
	store, err := cache.Open(*cacheDir, cacheSecret(), limits)
	if err != nil {
		return err
	}

	switch sub {
	case "gc":
		return store.Evict()
	default:
		return errs.New(errs.KindUser, "UnknownSubcommand", sub, nil)
	}
}

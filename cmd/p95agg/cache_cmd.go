package main

import (
	"fmt"
	"time"

	"github.com/panbanda/p95agg/internal/cache"
	"github.com/panbanda/p95agg/internal/output"
	"github.com/urfave/cli/v2"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the result cache",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show cache entry count and size",
				Action: runCacheStats,
			},
			{
				Name:   "clear",
				Usage:  "Remove all cached results",
				Action: runCacheClear,
			},
		},
	}
}

func openCache(c *cli.Context) (*cache.Cache, *output.Formatter, error) {
	loaded, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	cfg := loaded.Config
	rc, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL, true)
	if err != nil {
		return nil, nil, err
	}
	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return nil, nil, err
	}
	return rc, formatter, nil
}

func runCacheStats(c *cli.Context) error {
	rc, formatter, err := openCache(c)
	if err != nil {
		return err
	}
	defer formatter.Close()

	st, err := rc.GetStats()
	if err != nil {
		return err
	}
	return formatter.Output(output.NewTable(
		"Cache",
		[]string{"Entries", "Size (bytes)", "Oldest", "Newest"},
		[][]string{{
			fmt.Sprint(st.Entries),
			fmt.Sprint(st.TotalSize),
			st.OldestAge.Round(time.Second).String(),
			st.NewestAge.Round(time.Second).String(),
		}},
		nil,
		st,
	))
}

func runCacheClear(c *cli.Context) error {
	rc, formatter, err := openCache(c)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if err := rc.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	formatter.Success("Cache cleared")
	return nil
}

package main

import (
	"fmt"

	"github.com/panbanda/p95agg/internal/output"
	"github.com/panbanda/p95agg/pkg/config"
	"github.com/urfave/cli/v2"
)

// loadConfig loads the config named by --config, or searches the default
// locations.
func loadConfig(c *cli.Context) (*config.LoadResult, error) {
	var opts []config.LoadOption
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithPath(path))
	}
	return config.LoadConfig(opts...)
}

// newFormatter creates a formatter from the --format and --output flags,
// falling back to the configured output format.
func newFormatter(c *cli.Context, cfg *config.Config) (*output.Formatter, error) {
	format := c.String("format")
	if format == "" {
		format = cfg.Output.Format
	}
	return output.NewFormatter(output.ParseFormat(format), c.String("output"), cfg.Output.Color)
}

// validateWorkers validates the --workers flag.
func validateWorkers(workers int) error {
	if workers < 0 {
		return fmt.Errorf("--workers must not be negative (got %d)", workers)
	}
	return nil
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

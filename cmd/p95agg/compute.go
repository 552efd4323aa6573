package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/panbanda/p95agg/internal/batch"
	"github.com/panbanda/p95agg/internal/cache"
	"github.com/panbanda/p95agg/internal/output"
	"github.com/panbanda/p95agg/internal/progress"
	"github.com/panbanda/p95agg/internal/rows"
	"github.com/panbanda/p95agg/pkg/aggregate"
	"github.com/panbanda/p95agg/pkg/config"
	"github.com/panbanda/p95agg/pkg/stats"
	"github.com/panbanda/p95agg/pkg/watch"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// progressThreshold is the group count above which a progress bar is shown.
const progressThreshold = 1000

func computeCmd() *cli.Command {
	return &cli.Command{
		Name:      "compute",
		Aliases:   []string{"run"},
		Usage:     "Compute p95 per group for CSV or JSON-lines input",
		ArgsUsage: "[file...] (use - for stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Percentile policy: linear-interpolation, nearest-rank-ceiling",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Key column (name, or index with --no-header); empty for a single group",
			},
			&cli.StringFlag{
				Name:  "value",
				Usage: "Value column (name, or index with --no-header)",
			},
			&cli.StringFlag{
				Name:  "input-format",
				Usage: "Input format: csv, jsonl (default: from file extension)",
			},
			&cli.BoolFlag{
				Name:  "no-header",
				Usage: "CSV input has no header row",
			},
			&cli.StringFlag{
				Name:  "delimiter",
				Usage: "CSV field delimiter",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of parallel workers (0 = 2x CPU count)",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Include count, nulls, min, max and mean per group",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Recompute whenever an input file changes",
			},
		},
		Action: runComputeCmd,
	}
}

// groupRow is one group's result in a report.
type groupRow struct {
	Key     string         `json:"key" toon:"key"`
	P95     *int64         `json:"p95" toon:"p95"`
	Summary *stats.Summary `json:"summary,omitempty" toon:"summary,omitempty"`
}

// fileReport is the result of aggregating one input.
type fileReport struct {
	File   string     `json:"file" toon:"file"`
	Policy string     `json:"policy" toon:"policy"`
	Rows   int        `json:"rows" toon:"rows"`
	Groups []groupRow `json:"groups" toon:"groups"`
}

// computeOptions is the resolved configuration of one compute run.
type computeOptions struct {
	policy  stats.Policy
	workers int
	summary bool
	input   config.InputConfig
}

func runComputeCmd(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("no input files given (use - for stdin)")
	}

	loaded, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg := loaded.Config
	if err := applyComputeFlags(c, cfg); err != nil {
		return err
	}

	logger := loggerFrom(c)
	if loaded.Source != "" {
		logger.Debug("loaded config", zap.String("source", loaded.Source))
	}

	opts := computeOptions{
		policy:  cfg.Policy(),
		workers: cfg.Aggregate.Workers,
		summary: cfg.Aggregate.Summary,
		input:   cfg.Input,
	}

	resultCache, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL, cfg.Cache.Enabled && !c.Bool("no-cache"))
	if err != nil {
		logger.Warn("cache disabled", zap.Error(err))
		resultCache, _ = cache.New("", 0, false)
	}

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func(paths []string) error {
		for _, path := range paths {
			report, err := computeFile(ctx, path, opts, resultCache, logger)
			if err != nil {
				return err
			}
			if err := formatter.Output(reportTable(report)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := run(paths); err != nil {
		return err
	}
	if !c.Bool("watch") {
		return nil
	}

	var files []string
	for _, p := range paths {
		if p != "-" {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("--watch requires at least one input file")
	}

	w, err := watch.NewWatcher(files, time.Duration(cfg.Watch.DebounceMS)*time.Millisecond, logger)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	w.SetCallback(func(path string) {
		color.Yellow("\nInput changed: %s", path)
		if err := run([]string{path}); err != nil {
			color.Red("Error: %v", err)
		}
	})

	color.Cyan("Watching %d file(s) for changes. Press Ctrl+C to stop.", len(files))
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func applyComputeFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("policy") {
		cfg.Aggregate.Policy = c.String("policy")
	}
	if c.IsSet("workers") {
		if err := validateWorkers(c.Int("workers")); err != nil {
			return err
		}
		cfg.Aggregate.Workers = c.Int("workers")
	}
	if c.IsSet("summary") {
		cfg.Aggregate.Summary = c.Bool("summary")
	}
	if c.IsSet("key") {
		cfg.Input.KeyColumn = c.String("key")
	}
	if c.IsSet("value") {
		cfg.Input.ValueColumn = c.String("value")
	}
	if c.IsSet("input-format") {
		cfg.Input.Format = c.String("input-format")
	}
	if c.Bool("no-header") {
		cfg.Input.Header = false
	}
	if c.IsSet("delimiter") {
		cfg.Input.Delimiter = c.String("delimiter")
	}
	return cfg.Validate()
}

// readerOptions converts the input config into reader options for path.
func readerOptions(in config.InputConfig, path string) rows.Options {
	opts := rows.Options{
		Format:      rows.ParseFormat(in.Format, path),
		Header:      in.Header,
		KeyColumn:   in.KeyColumn,
		ValueColumn: in.ValueColumn,
		NullTokens:  in.NullTokens,
	}
	if d := []rune(in.Delimiter); len(d) == 1 {
		opts.Delimiter = d[0]
	}
	return opts
}

// computeFile aggregates one input, consulting the cache for regular files.
func computeFile(ctx context.Context, path string, opts computeOptions, resultCache *cache.Cache, logger *zap.Logger) (*fileReport, error) {
	ropts := readerOptions(opts.input, path)

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var key, hash string
	if path != "-" && resultCache.Enabled() {
		if abs, err := filepath.Abs(path); err == nil {
			key = abs
		} else {
			key = path
		}
		hash = cache.Fingerprint(data, fingerprintOptions(opts, ropts)...)
		if cached, ok := resultCache.Get(key, hash); ok {
			var report fileReport
			if err := json.Unmarshal(cached, &report); err == nil {
				logger.Debug("cache hit", zap.String("file", path))
				return &report, nil
			}
		}
	}

	groups, err := rows.Read(bytes.NewReader(data), ropts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	start := time.Now()
	report, err := evaluateGroups(ctx, groups, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	report.File = path
	logger.Debug("aggregated",
		zap.String("file", path),
		zap.Int("groups", len(report.Groups)),
		zap.Int("rows", report.Rows),
		zap.String("policy", report.Policy),
		zap.Duration("elapsed", time.Since(start)))

	if key != "" {
		if encoded, err := json.Marshal(report); err == nil {
			if err := resultCache.Set(key, hash, encoded); err != nil {
				logger.Warn("cache write failed", zap.String("file", path), zap.Error(err))
			}
		}
	}
	return report, nil
}

func fingerprintOptions(opts computeOptions, ropts rows.Options) []string {
	parts := []string{
		string(opts.policy),
		strconv.FormatBool(opts.summary),
		string(ropts.Format),
		strconv.FormatBool(ropts.Header),
		string(ropts.Delimiter),
		ropts.KeyColumn,
		ropts.ValueColumn,
	}
	return append(parts, ropts.NullTokens...)
}

// evaluateGroups computes every group's row on the worker pool.
func evaluateGroups(ctx context.Context, groups []aggregate.Group, opts computeOptions) (report *fileReport, err error) {
	var onProgress batch.ProgressFunc
	if len(groups) >= progressThreshold {
		tracker := progress.NewTracker("Aggregating groups...", len(groups))
		defer func() {
			if err != nil {
				tracker.FinishError(err)
			} else {
				tracker.FinishSuccess()
			}
		}()
		onProgress = tracker.Tick
	}

	report = &fileReport{Policy: opts.policy.String()}
	for _, g := range groups {
		report.Rows += len(g.Values)
	}

	if opts.summary {
		summaries, err := batch.MapGroups(ctx, groups, opts.workers, func(g aggregate.Group) (stats.Summary, error) {
			return stats.Summarize(g.Values, opts.policy), nil
		}, onProgress)
		if err != nil {
			return nil, err
		}
		for i, g := range groups {
			s := summaries[i]
			report.Groups = append(report.Groups, groupRow{Key: g.Key, P95: s.P95, Summary: &s})
		}
		return report, nil
	}

	fn, err := aggregate.BuildWithPolicy(opts.policy)
	if err != nil {
		return nil, err
	}
	col, err := batch.Evaluate(ctx, fn, groups, opts.workers, onProgress)
	if err != nil {
		return nil, err
	}
	for i, g := range groups {
		report.Groups = append(report.Groups, groupRow{Key: g.Key, P95: stats.Ptr(col.Get(i))})
	}
	return report, nil
}

// reportTable renders a report as a table.
func reportTable(report *fileReport) *output.Table {
	headers := []string{"Key", "P95"}
	withSummary := len(report.Groups) > 0 && report.Groups[0].Summary != nil
	if withSummary {
		headers = append(headers, "Count", "Nulls", "Min", "Max", "Mean")
	}

	rowsOut := make([][]string, 0, len(report.Groups))
	nulls := 0
	for _, g := range report.Groups {
		if g.P95 == nil {
			nulls++
		}
		row := []string{truncate(g.Key, 48), output.Int64String(g.P95)}
		if g.Summary != nil {
			row = append(row,
				strconv.Itoa(g.Summary.Count),
				strconv.Itoa(g.Summary.Nulls),
				output.Int64String(g.Summary.Min),
				output.Int64String(g.Summary.Max),
				fmt.Sprintf("%.2f", g.Summary.Mean),
			)
		}
		rowsOut = append(rowsOut, row)
	}

	footer := make([]string, len(headers))
	footer[0] = fmt.Sprintf("Groups: %d", len(report.Groups))
	footer[1] = fmt.Sprintf("Null: %d", nulls)

	return output.NewTable(
		fmt.Sprintf("P95 (%s): %s", report.Policy, report.File),
		headers,
		rowsOut,
		footer,
		report,
	)
}

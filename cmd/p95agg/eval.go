package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/panbanda/p95agg/internal/output"
	"github.com/panbanda/p95agg/pkg/aggregate"
	"github.com/panbanda/p95agg/pkg/stats"
	"github.com/urfave/cli/v2"
)

func evalCmd() *cli.Command {
	return &cli.Command{
		Name:      "eval",
		Usage:     "Compute p95 of values given on the command line",
		ArgsUsage: "<value...> (use null for an absent value)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Percentile policy: linear-interpolation, nearest-rank-ceiling",
			},
			&cli.BoolFlag{
				Name:  "all-policies",
				Usage: "Report the result under every policy",
			},
		},
		Action: runEvalCmd,
	}
}

// evalRow is the result of one policy in eval output.
type evalRow struct {
	Policy string `json:"policy" toon:"policy"`
	P95    *int64 `json:"p95" toon:"p95"`
}

// evalResult is the eval command's output.
type evalResult struct {
	Values  int       `json:"values" toon:"values"`
	Nulls   int       `json:"nulls" toon:"nulls"`
	Results []evalRow `json:"results" toon:"results"`
}

func runEvalCmd(c *cli.Context) error {
	values, err := parseValues(c.Args().Slice())
	if err != nil {
		return err
	}

	loaded, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg := loaded.Config

	policies := []stats.Policy{cfg.Policy()}
	switch {
	case c.Bool("all-policies"):
		policies = stats.Policies()
	case c.IsSet("policy"):
		p, err := stats.ParsePolicy(c.String("policy"))
		if err != nil {
			return err
		}
		policies = []stats.Policy{p}
	}

	result := evalResult{Values: len(values)}
	for _, v := range values {
		if !v.Valid {
			result.Nulls++
		}
	}
	for _, p := range policies {
		calc, err := stats.NewCalculator(p)
		if err != nil {
			return err
		}
		result.Results = append(result.Results, evalRow{
			Policy: p.String(),
			P95:    stats.Ptr(calc.P95(values)),
		})
	}

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	tableRows := make([][]string, 0, len(result.Results))
	for _, r := range result.Results {
		tableRows = append(tableRows, []string{r.Policy, output.Int64String(r.P95)})
	}
	return formatter.Output(output.NewTable(
		fmt.Sprintf("P95 of %d values (%d null)", result.Values, result.Nulls),
		[]string{"Policy", "P95"},
		tableRows,
		nil,
		result,
	))
}

// parseValues converts command-line arguments into nullable values.
// "null", "NULL" and "\N" are absent.
func parseValues(args []string) ([]sql.NullInt64, error) {
	values := make([]sql.NullInt64, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			switch field {
			case "null", "NULL", `\N`:
				values = append(values, sql.NullInt64{})
				continue
			}
			n, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q: expected an integer or null", field)
			}
			values = append(values, sql.NullInt64{Int64: n, Valid: true})
		}
	}
	return values, nil
}

func policiesCmd() *cli.Command {
	return &cli.Command{
		Name:  "policies",
		Usage: "List percentile policies and aggregate function names",
		Action: func(c *cli.Context) error {
			loaded, err := loadConfig(c)
			if err != nil {
				return err
			}
			formatter, err := newFormatter(c, loaded.Config)
			if err != nil {
				return err
			}
			defer formatter.Close()

			type functionRow struct {
				Name   string `json:"name" toon:"name"`
				Policy string `json:"policy" toon:"policy"`
			}

			var data []functionRow
			var tableRows [][]string
			for _, name := range aggregate.Names() {
				p, err := aggregate.PolicyOf(name)
				if err != nil {
					return err
				}
				policy := p.String()
				if name == aggregate.NameP95 {
					policy += " (default)"
				}
				data = append(data, functionRow{Name: name, Policy: policy})
				tableRows = append(tableRows, []string{name, policy})
			}

			return formatter.Output(output.NewTable(
				"Aggregate Functions",
				[]string{"Function", "Policy"},
				tableRows,
				nil,
				data,
			))
		},
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/panbanda/p95agg/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runApp runs the CLI with JSON output redirected to a temp file and returns
// what was written.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.json")
	app := newApp()
	app.Writer = &bytes.Buffer{}
	full := append([]string{"p95agg", "-f", "json", "-o", out}, args...)
	err := app.Run(full)
	data, readErr := os.ReadFile(out)
	if readErr != nil && !os.IsNotExist(readErr) {
		t.Fatalf("read output: %v", readErr)
	}
	return string(data), err
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testutil.WriteFile(t, path, content)
	return path
}

const latencyCSV = `key,value
a,1
a,2
a,3
a,4
a,5
a,6
a,7
a,8
a,9
a,10
b,
b,null
c,10
`

func decodeReport(t *testing.T, out string) fileReport {
	t.Helper()
	var report fileReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	return report
}

func p95Of(t *testing.T, report fileReport, key string) *int64 {
	t.Helper()
	for _, g := range report.Groups {
		if g.Key == key {
			return g.P95
		}
	}
	t.Fatalf("group %q not found in %+v", key, report.Groups)
	return nil
}

func TestComputeCommand(t *testing.T) {
	input := writeInput(t, "latency.csv", latencyCSV)

	tests := []struct {
		name   string
		policy string
		wantA  int64
	}{
		{"default policy", "", 9},
		{"linear", "linear-interpolation", 9},
		{"nearest rank", "nearest-rank-ceiling", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"--no-cache", "compute"}
			if tt.policy != "" {
				args = append(args, "--policy", tt.policy)
			}
			out, err := runApp(t, append(args, input)...)
			require.NoError(t, err)

			report := decodeReport(t, out)
			assert.Equal(t, input, report.File)
			assert.Equal(t, 13, report.Rows)
			require.Len(t, report.Groups, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{report.Groups[0].Key, report.Groups[1].Key, report.Groups[2].Key})

			a := p95Of(t, report, "a")
			require.NotNil(t, a)
			assert.Equal(t, tt.wantA, *a)
			assert.Nil(t, p95Of(t, report, "b"))
			c := p95Of(t, report, "c")
			require.NotNil(t, c)
			assert.Equal(t, int64(10), *c)
		})
	}
}

func TestComputeSummary(t *testing.T) {
	input := writeInput(t, "latency.csv", latencyCSV)

	out, err := runApp(t, "--no-cache", "compute", "--summary", input)
	require.NoError(t, err)

	report := decodeReport(t, out)
	require.Len(t, report.Groups, 3)

	a := report.Groups[0].Summary
	require.NotNil(t, a)
	assert.Equal(t, 10, a.Count)
	assert.Equal(t, 0, a.Nulls)
	require.NotNil(t, a.Min)
	require.NotNil(t, a.Max)
	assert.Equal(t, int64(1), *a.Min)
	assert.Equal(t, int64(10), *a.Max)
	assert.InDelta(t, 5.5, a.Mean, 1e-9)

	b := report.Groups[1].Summary
	require.NotNil(t, b)
	assert.Equal(t, 2, b.Nulls)
	assert.Nil(t, b.P95)
}

func TestComputeJSONLines(t *testing.T) {
	input := writeInput(t, "latency.jsonl", `{"route":"/a","ms":100}
{"route":"/a","ms":null}
{"route":"/a","ms":200}
{"route":"/b"}
`)

	out, err := runApp(t, "--no-cache", "compute", "--key", "route", "--value", "ms", input)
	require.NoError(t, err)

	report := decodeReport(t, out)
	a := p95Of(t, report, "/a")
	require.NotNil(t, a)
	assert.Equal(t, int64(195), *a)
	assert.Nil(t, p95Of(t, report, "/b"))
}

func TestComputeInvalidValue(t *testing.T) {
	input := writeInput(t, "bad.csv", "key,value\na,1\na,1.5\n")

	_, err := runApp(t, "--no-cache", "compute", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestComputeUnknownPolicy(t *testing.T) {
	input := writeInput(t, "latency.csv", latencyCSV)

	_, err := runApp(t, "--no-cache", "compute", "--policy", "p99", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate.policy")
}

func TestComputeNoArgs(t *testing.T) {
	_, err := runApp(t, "--no-cache", "compute")
	require.Error(t, err)
}

func TestComputeUsesCache(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	cfgPath := filepath.Join(dir, "p95agg.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[cache]\nenabled = true\ndir = \""+filepath.ToSlash(cacheDir)+"\"\nttl = 1\n"), 0o644))
	input := writeInput(t, "latency.csv", latencyCSV)

	first, err := runApp(t, "-c", cfgPath, "compute", input)
	require.NoError(t, err)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	second, err := runApp(t, "-c", cfgPath, "compute", input)
	require.NoError(t, err)
	assert.JSONEq(t, first, second)

	// A different policy must not reuse the cached result.
	third, err := runApp(t, "-c", cfgPath, "compute", "--policy", "nearest-rank-ceiling", input)
	require.NoError(t, err)
	a := p95Of(t, decodeReport(t, third), "a")
	require.NotNil(t, a)
	assert.Equal(t, int64(10), *a)
}

func TestEvalCommand(t *testing.T) {
	out, err := runApp(t, "eval", "--all-policies", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "null")
	require.NoError(t, err)

	var result evalResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, 11, result.Values)
	assert.Equal(t, 1, result.Nulls)
	require.Len(t, result.Results, 2)

	got := map[string]int64{}
	for _, r := range result.Results {
		require.NotNil(t, r.P95)
		got[r.Policy] = *r.P95
	}
	assert.Equal(t, map[string]int64{
		"linear-interpolation": 9,
		"nearest-rank-ceiling": 10,
	}, got)
}

func TestEvalAllNull(t *testing.T) {
	out, err := runApp(t, "eval", "null", "null")
	require.NoError(t, err)

	var result evalResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Results, 1)
	assert.Nil(t, result.Results[0].P95)
}

func TestParseValues(t *testing.T) {
	values, err := parseValues([]string{"1,2", "null", `\N`, "-3"})
	require.NoError(t, err)
	require.Len(t, values, 5)
	assert.True(t, values[0].Valid)
	assert.Equal(t, int64(2), values[1].Int64)
	assert.False(t, values[2].Valid)
	assert.False(t, values[3].Valid)
	assert.Equal(t, int64(-3), values[4].Int64)

	_, err = parseValues([]string{"abc"})
	assert.Error(t, err)
}

func TestPoliciesCommand(t *testing.T) {
	out, err := runApp(t, "policies")
	require.NoError(t, err)
	assert.Contains(t, out, "p95_nearest_rank")
	assert.Contains(t, out, "nearest-rank-ceiling")
	assert.Contains(t, out, "linear-interpolation (default)")
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "p95agg.toml")

	_, err := runApp(t, "init", "--path", path)
	require.NoError(t, err)

	require.True(t, testutil.FileExists(path))
	assert.Contains(t, testutil.ReadFile(t, path), "linear-interpolation")

	_, err = runApp(t, "init", "--path", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runApp(t, "init", "--path", path, "--force")
	require.NoError(t, err)

	// The generated file must load back as a valid config.
	_, err = runApp(t, "-c", path, "config", "validate")
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	cfgPath := writeInput(t, "p95agg.toml", "[aggregate]\npolicy = \"nearest-rank-ceiling\"\n")

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	require.NoError(t, app.Run([]string{"p95agg", "-c", cfgPath, "config", "show"}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Configuration from: "+cfgPath))
	assert.Contains(t, out, "nearest-rank-ceiling")
}

func TestConfigValidateRejectsUnknownPolicy(t *testing.T) {
	cfgPath := writeInput(t, "p95agg.toml", "[aggregate]\npolicy = \"median\"\n")

	_, err := runApp(t, "-c", cfgPath, "config", "validate")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
	}
}

package stats

import (
	"database/sql"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vals(xs ...int64) []sql.NullInt64 {
	out := make([]sql.NullInt64, len(xs))
	for i, x := range xs {
		out[i] = sql.NullInt64{Int64: x, Valid: true}
	}
	return out
}

var null = sql.NullInt64{}

func calc(t *testing.T, p Policy) Calculator {
	t.Helper()
	c, err := NewCalculator(p)
	require.NoError(t, err)
	return c
}

func TestP95Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		values []sql.NullInt64
		want   sql.NullInt64
	}{
		{"nil input", nil, null},
		{"empty input", []sql.NullInt64{}, null},
		{"all null", []sql.NullInt64{null, null}, null},
		{"single value", vals(10), sql.NullInt64{Int64: 10, Valid: true}},
		{"single value among nulls", []sql.NullInt64{null, {Int64: -3, Valid: true}, null}, sql.NullInt64{Int64: -3, Valid: true}},
	}

	for _, tt := range tests {
		for _, p := range Policies() {
			t.Run(tt.name+"/"+p.String(), func(t *testing.T) {
				assert.Equal(t, tt.want, calc(t, p).P95(tt.values))
			})
		}
	}
}

func TestP95PolicyDivergence(t *testing.T) {
	in := vals(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	linear := calc(t, PolicyLinearInterpolation).P95(in)
	nearest := calc(t, PolicyNearestRankCeiling).P95(in)

	// 9*0.45 + 10*0.55 = 9.55, truncated rather than rounded.
	assert.Equal(t, sql.NullInt64{Int64: 9, Valid: true}, linear)
	assert.Equal(t, sql.NullInt64{Int64: 10, Valid: true}, nearest)
	assert.NotEqual(t, linear, nearest)
}

func TestP95DefaultIsLinear(t *testing.T) {
	in := vals(10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	assert.Equal(t, int64(9), P95(in).Int64)
	assert.Equal(t, PolicyLinearInterpolation, Calculator{}.Policy())

	got, err := P95Result(in)
	require.NoError(t, err)
	assert.Equal(t, P95(in), got)
}

func TestP95LinearInterpolation(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		want   int64
	}{
		{"two values", []int64{0, 100}, 95},
		{"exact rank", []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21}, 20},
		{"duplicates", []int64{5, 5, 5, 5}, 5},
		{"negative truncates toward zero", []int64{-10, -9}, -9},
		{"crosses zero", []int64{-1, 0}, 0},
		{"unsorted input", []int64{50, 10, 40, 20, 30}, 48},
		{"full int64 range", []int64{math.MinInt64, math.MaxInt64}, 8301034833169298226},
		{"max values", []int64{math.MaxInt64, math.MaxInt64}, math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc(t, PolicyLinearInterpolation).P95(vals(tt.values...))
			require.True(t, got.Valid)
			assert.Equal(t, tt.want, got.Int64)
		})
	}
}

func TestP95NearestRankCeiling(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		want   int64
	}{
		{"two values", []int64{1, 2}, 2},
		{"twenty values exact rank", seq(20), 19},
		{"hundred values", seq(100), 95},
		{"hundred and one values", seq(101), 96},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc(t, PolicyNearestRankCeiling).P95(vals(tt.values...))
			require.True(t, got.Valid)
			assert.Equal(t, tt.want, got.Int64)
		})
	}
}

// seq returns 1..n.
func seq(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestP95DoesNotMutateInput(t *testing.T) {
	in := []sql.NullInt64{{Int64: 3, Valid: true}, null, {Int64: 1, Valid: true}, {Int64: 2, Valid: true}}
	before := slices.Clone(in)
	P95(in)
	assert.Equal(t, before, in)
}

func TestP95WithinRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		in := randomValues(r, r.IntN(50)+1)
		sample := Present(in)
		for _, p := range Policies() {
			got := calc(t, p).P95(in)
			if len(sample) == 0 {
				require.False(t, got.Valid)
				continue
			}
			require.True(t, got.Valid, "policy %s input %v", p, in)
			assert.GreaterOrEqual(t, got.Int64, slices.Min(sample))
			assert.LessOrEqual(t, got.Int64, slices.Max(sample))
		}
	}
}

func TestP95Monotonic(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 500; i++ {
		in := vals(randomSample(r, r.IntN(40)+1)...)
		j := r.IntN(len(in))
		bumped := slices.Clone(in)
		bumped[j].Int64 += r.Int64N(1000) + 1

		for _, p := range Policies() {
			c := calc(t, p)
			before, after := c.P95(in), c.P95(bumped)
			assert.GreaterOrEqual(t, after.Int64, before.Int64, "policy %s: %v -> %v", p, in, bumped)
		}
	}
}

func TestP95OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 200; i++ {
		in := randomValues(r, r.IntN(30)+1)
		shuffled := slices.Clone(in)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		for _, p := range Policies() {
			c := calc(t, p)
			assert.Equal(t, c.P95(in), c.P95(shuffled))
		}
	}
}

func TestP95Concurrent(t *testing.T) {
	const workers = 64
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(n), 7))
			in := make([]sql.NullInt64, 0, 2*n)
			for i := 0; i < n; i++ {
				in = append(in, sql.NullInt64{Int64: int64(i), Valid: true}, null)
			}
			r.Shuffle(len(in), func(a, b int) { in[a], in[b] = in[b], in[a] })

			// Sample 0..n-1 puts the interpolated value at rank itself.
			want := int64(Percent * (n - 1) / 100)
			for k := 0; k < 100; k++ {
				if got := P95(in); !got.Valid || got.Int64 != want {
					errs <- errors.New("unexpected p95 under concurrency")
					return
				}
			}
		}(w + 1)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
	}{
		{"", DefaultPolicy},
		{"linear", PolicyLinearInterpolation},
		{"Linear-Interpolation", PolicyLinearInterpolation},
		{"nearest-rank", PolicyNearestRankCeiling},
		{" nearest-rank-ceiling ", PolicyNearestRankCeiling},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePolicy("median")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	_, err = NewCalculator("round-half-up")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestP95SortedEmpty(t *testing.T) {
	for _, p := range Policies() {
		_, ok := P95Sorted(nil, p)
		assert.False(t, ok)
	}
}

func randomSample(r *rand.Rand, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = r.Int64N(2000) - 1000
	}
	return out
}

func randomValues(r *rand.Rand, n int) []sql.NullInt64 {
	out := make([]sql.NullInt64, n)
	for i := range out {
		if r.IntN(4) == 0 {
			continue
		}
		out[i] = sql.NullInt64{Int64: r.Int64N(2000) - 1000, Valid: true}
	}
	return out
}

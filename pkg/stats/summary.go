package stats

import (
	"database/sql"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Summary describes one group of nullable values alongside its p95.
type Summary struct {
	Count int     `json:"count" toon:"count"`
	Nulls int     `json:"nulls" toon:"nulls"`
	Min   *int64  `json:"min" toon:"min"`
	Max   *int64  `json:"max" toon:"max"`
	Mean  float64 `json:"mean" toon:"mean"`
	P95   *int64  `json:"p95" toon:"p95"`
}

// Summarize computes a Summary of values under the given policy.
func Summarize(values []sql.NullInt64, policy Policy) Summary {
	sample := Present(values)
	s := Summary{
		Count: len(sample),
		Nulls: len(values) - len(sample),
	}
	if len(sample) == 0 {
		return s
	}
	slices.Sort(sample)

	floats := make([]float64, len(sample))
	for i, v := range sample {
		floats[i] = float64(v)
	}
	s.Mean = stat.Mean(floats, nil)
	s.Min = &sample[0]
	s.Max = &sample[len(sample)-1]
	if v, ok := P95Sorted(sample, policy); ok {
		s.P95 = &v
	}
	return s
}

// Package stats provides the p95 aggregate and related summary statistics
// over nullable 64-bit integers.
package stats

import (
	"database/sql"
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"strings"
)

// Percent is the percentile computed by this package, in hundredths.
const Percent = 95

// Policy selects how a fractional rank maps to an output value.
type Policy string

const (
	// PolicyLinearInterpolation interpolates between the two order statistics
	// around rank 0.95*(n-1) and truncates toward zero.
	PolicyLinearInterpolation Policy = "linear-interpolation"
	// PolicyNearestRankCeiling selects the order statistic at the ceiling of
	// the nearest rank 0.95*n, without interpolation.
	PolicyNearestRankCeiling Policy = "nearest-rank-ceiling"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyLinearInterpolation

// ErrUnknownPolicy is returned when a policy name is not recognized.
var ErrUnknownPolicy = errors.New("unknown percentile policy")

// Policies returns all supported policies, default first.
func Policies() []Policy {
	return []Policy{PolicyLinearInterpolation, PolicyNearestRankCeiling}
}

// ParsePolicy converts a policy name to a Policy. An empty name yields the
// default policy. Short aliases "linear" and "nearest-rank" are accepted.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultPolicy, nil
	case "linear-interpolation", "linear":
		return PolicyLinearInterpolation, nil
	case "nearest-rank-ceiling", "nearest-rank", "nearest":
		return PolicyNearestRankCeiling, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Valid reports whether p names a supported policy.
func (p Policy) Valid() bool {
	return p == PolicyLinearInterpolation || p == PolicyNearestRankCeiling
}

func (p Policy) String() string {
	return string(p)
}

// Calculator computes p95 under a fixed policy. The zero value uses
// DefaultPolicy. A Calculator holds no mutable state and is safe for
// concurrent use.
type Calculator struct {
	policy Policy
}

// NewCalculator returns a Calculator for the given policy.
func NewCalculator(policy Policy) (Calculator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	if !policy.Valid() {
		return Calculator{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, string(policy))
	}
	return Calculator{policy: policy}, nil
}

// Policy returns the calculator's policy.
func (c Calculator) Policy() Policy {
	if c.policy == "" {
		return DefaultPolicy
	}
	return c.policy
}

// P95 returns the 95th percentile of the non-null values, or an invalid
// NullInt64 when there are none. values is not modified.
func (c Calculator) P95(values []sql.NullInt64) sql.NullInt64 {
	sample := Present(values)
	if len(sample) == 0 {
		return sql.NullInt64{}
	}
	slices.Sort(sample)
	v, ok := P95Sorted(sample, c.Policy())
	return sql.NullInt64{Int64: v, Valid: ok}
}

// P95 computes the 95th percentile with DefaultPolicy.
func P95(values []sql.NullInt64) sql.NullInt64 {
	return Calculator{}.P95(values)
}

// P95Result is P95 with the error-carrying signature some hosts require for
// every registered aggregate. It always succeeds; the error is always nil.
func P95Result(values []sql.NullInt64) (sql.NullInt64, error) {
	return P95(values), nil
}

// Present returns a new slice holding the valid values in input order.
func Present(values []sql.NullInt64) []int64 {
	n := 0
	for _, v := range values {
		if v.Valid {
			n++
		}
	}
	sample := make([]int64, 0, n)
	for _, v := range values {
		if v.Valid {
			sample = append(sample, v.Int64)
		}
	}
	return sample
}

// P95Sorted selects the 95th percentile from a sample sorted in ascending
// order. It reports false for an empty sample, and for a nearest-rank index
// outside the sample. Unknown policies fall back to DefaultPolicy.
func P95Sorted(sorted []int64, policy Policy) (int64, bool) {
	n := len(sorted)
	if n == 0 {
		return 0, false
	}
	switch policy {
	case PolicyNearestRankCeiling:
		return nearestRankCeiling(sorted)
	default:
		return linearInterpolation(sorted), true
	}
}

// nearestRankCeiling picks the order statistic with one-based rank
// ceil(0.95*n), computed in integers so exact ranks never round up.
func nearestRankCeiling(sorted []int64) (int64, bool) {
	n := len(sorted)
	idx := (Percent*n+99)/100 - 1
	if idx < 0 || idx >= n {
		return 0, false
	}
	return sorted[idx], true
}

// linearInterpolation evaluates trunc(s[lo]*(1-w) + s[hi]*w) for
// rank = 0.95*(n-1). The rank is split exactly into lo and a weight in
// hundredths, and the interpolation is carried out in 128-bit integer
// arithmetic so the result never leaves [s[lo], s[hi]].
func linearInterpolation(sorted []int64) int64 {
	scaled := Percent * (len(sorted) - 1)
	lo, frac := scaled/100, uint64(scaled%100)
	if frac == 0 {
		return sorted[lo]
	}
	a, b := sorted[lo], sorted[lo+1]

	// b >= a, so the unsigned difference is exact even across the int64 range.
	diff := uint64(b) - uint64(a)
	hi, low := bits.Mul64(diff, frac)
	step, rem := bits.Div64(hi, low, 100)

	v := int64(uint64(a) + step)
	if rem != 0 && v < 0 {
		// a+step is the floor; truncation toward zero of a negative
		// non-integer is one above it.
		v++
	}
	return v
}

// Ptr converts a NullInt64 to a pointer, nil when invalid.
func Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// FromPtr converts a pointer to a NullInt64.
func FromPtr(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// Package aggregate adapts the p95 percentile to the partial-result
// aggregate function interface used by grouped query execution.
package aggregate

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/panbanda/p95agg/pkg/stats"
)

// ErrUnknownFunction is returned by Build for unregistered names.
var ErrUnknownFunction = errors.New("unknown aggregate function")

// PartialResult is the per-group state owned by an AggFunc.
type PartialResult any

// Column receives one final value per group.
type Column struct {
	values []sql.NullInt64
}

// AppendNull appends an absent value.
func (c *Column) AppendNull() {
	c.values = append(c.values, sql.NullInt64{})
}

// AppendInt64 appends a present value.
func (c *Column) AppendInt64(v int64) {
	c.values = append(c.values, sql.NullInt64{Int64: v, Valid: true})
}

// Len returns the number of appended values.
func (c *Column) Len() int {
	return len(c.values)
}

// Get returns the i-th value.
func (c *Column) Get(i int) sql.NullInt64 {
	return c.values[i]
}

// Values returns a copy of the appended values.
func (c *Column) Values() []sql.NullInt64 {
	return slices.Clone(c.values)
}

// AggFunc evaluates an aggregate over rows that all belong to one group.
type AggFunc interface {
	// Name returns the registered function name.
	Name() string

	// AllocPartialResult allocates the state for a new group.
	AllocPartialResult() PartialResult

	// ResetPartialResult returns a partial result to its initial state so it
	// can be reused for another group.
	ResetPartialResult(pr PartialResult)

	// UpdatePartialResult folds rowsInGroup into the partial result. It may
	// be called any number of times for the same group.
	UpdatePartialResult(rowsInGroup []sql.NullInt64, pr PartialResult) error

	// AppendFinalResult computes the group's final value and appends it to
	// out. The partial result is left unchanged.
	AppendFinalResult(pr PartialResult, out *Column) error
}

// partialResult4P95 buffers the present values of one group.
type partialResult4P95 struct {
	sample []int64
}

type p95 struct {
	name   string
	policy stats.Policy
}

func (e *p95) Name() string {
	return e.name
}

func (e *p95) AllocPartialResult() PartialResult {
	return &partialResult4P95{}
}

func (e *p95) ResetPartialResult(pr PartialResult) {
	p := pr.(*partialResult4P95)
	p.sample = p.sample[:0]
}

func (e *p95) UpdatePartialResult(rowsInGroup []sql.NullInt64, pr PartialResult) error {
	p := pr.(*partialResult4P95)
	for _, row := range rowsInGroup {
		if row.Valid {
			p.sample = append(p.sample, row.Int64)
		}
	}
	return nil
}

func (e *p95) AppendFinalResult(pr PartialResult, out *Column) error {
	p := pr.(*partialResult4P95)
	sorted := slices.Clone(p.sample)
	slices.Sort(sorted)
	v, ok := stats.P95Sorted(sorted, e.policy)
	if !ok {
		out.AppendNull()
		return nil
	}
	out.AppendInt64(v)
	return nil
}

// Function names accepted by Build.
const (
	NameP95            = "p95"
	NameP95Linear      = "p95_linear"
	NameP95NearestRank = "p95_nearest_rank"
)

var builders = map[string]stats.Policy{
	NameP95:            stats.DefaultPolicy,
	NameP95Linear:      stats.PolicyLinearInterpolation,
	NameP95NearestRank: stats.PolicyNearestRankCeiling,
}

// Build returns the aggregate registered under name.
func Build(name string) (AggFunc, error) {
	policy, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return &p95{name: name, policy: policy}, nil
}

// BuildWithPolicy returns a p95 aggregate for an explicit policy.
func BuildWithPolicy(policy stats.Policy) (AggFunc, error) {
	if _, err := stats.NewCalculator(policy); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = stats.DefaultPolicy
	}
	return &p95{name: NameP95, policy: policy}, nil
}

// PolicyOf returns the percentile policy of the function registered under
// name.
func PolicyOf(name string) (stats.Policy, error) {
	policy, ok := builders[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return policy, nil
}

// Names returns the registered function names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Group is one key's batch of values as supplied by the host.
type Group struct {
	Key    string          `json:"key" toon:"key"`
	Values []sql.NullInt64 `json:"-" toon:"-"`
}

// Evaluate runs fn over each group serially, reusing one partial result,
// and returns a column with one value per group in input order.
func Evaluate(fn AggFunc, groups []Group) (*Column, error) {
	out := &Column{values: make([]sql.NullInt64, 0, len(groups))}
	pr := fn.AllocPartialResult()
	for _, g := range groups {
		fn.ResetPartialResult(pr)
		if err := fn.UpdatePartialResult(g.Values, pr); err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Key, err)
		}
		if err := fn.AppendFinalResult(pr, out); err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Key, err)
		}
	}
	return out, nil
}

// EvaluateGroup computes fn's final value for a single group.
func EvaluateGroup(fn AggFunc, g Group) (sql.NullInt64, error) {
	col, err := Evaluate(fn, []Group{g})
	if err != nil {
		return sql.NullInt64{}, err
	}
	return col.Get(0), nil
}

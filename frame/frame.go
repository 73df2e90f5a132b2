// Package frame implements a small time indexed table with two-level column
// names, the shape in which gordo servers exchange model input and output.
package frame

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Top level column names produced by gordo models
const (
	ModelInput           = "model-input"
	ModelOutput          = "model-output"
	TagAnomalyUnscaled   = "tag-anomaly-unscaled"
	TotalAnomalyUnscaled = "total-anomaly-unscaled"
	Start                = "start"
	End                  = "end"
)

// Column identifies frame column, single level columns have empty Sub
type Column struct {
	Top string
	Sub string
}

// String returns column name as used in CSV headers
func (c Column) String() string {
	if c.Sub == "" {
		return c.Top
	}
	return c.Top + "|" + c.Sub
}

func less(a, b Column) bool {
	if a.Top != b.Top {
		return a.Top < b.Top
	}
	return a.Sub < b.Sub
}

// Frame is a column major table indexed by time. Missing values are NaN.
type Frame struct {
	Index     []time.Time
	Columns   []Column
	Frequency time.Duration // optional, used to derive start/end of each row

	values [][]float64
}

// New creates frame with given index and columns filled with NaN
func New(index []time.Time, columns ...Column) *Frame {
	f := &Frame{Index: append([]time.Time(nil), index...)}
	for _, c := range columns {
		f.Columns = append(f.Columns, c)
		f.values = append(f.values, nanSlice(len(index)))
	}
	return f
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Len returns number of rows
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Index)
}

func (f *Frame) position(col Column) int {
	for i, c := range f.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Set adds or replaces column values
func (f *Frame) Set(col Column, values []float64) error {
	if len(values) != len(f.Index) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", col, len(values), len(f.Index))
	}
	vals := append([]float64(nil), values...)
	if i := f.position(col); i >= 0 {
		f.values[i] = vals
		return nil
	}
	f.Columns = append(f.Columns, col)
	f.values = append(f.values, vals)
	return nil
}

// Values returns column values
func (f *Frame) Values(col Column) ([]float64, bool) {
	i := f.position(col)
	if i < 0 {
		return nil, false
	}
	return f.values[i], true
}

// Row returns values of i-th row in column order
func (f *Frame) Row(i int) []float64 {
	row := make([]float64, len(f.Columns))
	for j := range f.Columns {
		row[j] = f.values[j][i]
	}
	return row
}

// Slice returns frame with rows [i, j)
func (f *Frame) Slice(i, j int) *Frame {
	out := &Frame{
		Index:     append([]time.Time(nil), f.Index[i:j]...),
		Columns:   append([]Column(nil), f.Columns...),
		Frequency: f.Frequency,
	}
	for _, v := range f.values {
		out.values = append(out.values, append([]float64(nil), v[i:j]...))
	}
	return out
}

// Pick returns frame with given columns only, in given order
func (f *Frame) Pick(columns ...Column) (*Frame, error) {
	out := &Frame{Index: append([]time.Time(nil), f.Index...), Frequency: f.Frequency}
	for _, c := range columns {
		v, ok := f.Values(c)
		if !ok {
			return nil, fmt.Errorf("frame has no column %s", c)
		}
		out.Columns = append(out.Columns, c)
		out.values = append(out.values, append([]float64(nil), v...))
	}
	return out, nil
}

// Select returns columns under given top level name
func (f *Frame) Select(top string) *Frame {
	out := &Frame{Index: append([]time.Time(nil), f.Index...), Frequency: f.Frequency}
	for i, c := range f.Columns {
		if c.Top == top {
			out.Columns = append(out.Columns, c)
			out.values = append(out.values, append([]float64(nil), f.values[i]...))
		}
	}
	return out
}

// TopLevelNames returns unique top level column names in column order
func (f *Frame) TopLevelNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, c := range f.Columns {
		if !seen[c.Top] {
			seen[c.Top] = true
			names = append(names, c.Top)
		}
	}
	return names
}

// Concat appends rows of given frames, nil and empty frames are skipped.
// All non empty frames should have the same columns.
func Concat(frames ...*Frame) (*Frame, error) {
	var out *Frame
	for _, f := range frames {
		if f.Len() == 0 {
			continue
		}
		if out == nil {
			out = f.Slice(0, f.Len())
			continue
		}
		if len(f.Columns) != len(out.Columns) {
			return nil, fmt.Errorf("unable to concat frames with %d and %d columns", len(out.Columns), len(f.Columns))
		}
		out.Index = append(out.Index, f.Index...)
		for i, c := range out.Columns {
			v, ok := f.Values(c)
			if !ok {
				return nil, fmt.Errorf("unable to concat frames, column %s is missing", c)
			}
			out.values[i] = append(out.values[i], v...)
		}
	}
	return out, nil
}

// Sort orders columns by (top, sub) name
func (f *Frame) Sort() {
	idx := make([]int, len(f.Columns))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(f.Columns[idx[a]], f.Columns[idx[b]]) })
	cols := make([]Column, len(idx))
	vals := make([][]float64, len(idx))
	for i, j := range idx {
		cols[i] = f.Columns[j]
		vals[i] = f.values[j]
	}
	f.Columns, f.values = cols, vals
}

// ApproxEqual compares index, columns and values of two frames within
// given tolerance. NaN values are equal to each other.
func (f *Frame) ApproxEqual(o *Frame, tol float64) bool {
	if f.Len() != o.Len() || len(f.Columns) != len(o.Columns) {
		return false
	}
	for i := range f.Index {
		if !f.Index[i].Equal(o.Index[i]) {
			return false
		}
	}
	for i, c := range f.Columns {
		ov, ok := o.Values(c)
		if !ok {
			return false
		}
		a := append([]float64(nil), f.values[i]...)
		b := append([]float64(nil), ov...)
		for k := range a {
			switch {
			case math.IsNaN(a[k]) && math.IsNaN(b[k]):
				a[k], b[k] = 0, 0
			case math.IsNaN(a[k]) || math.IsNaN(b[k]):
				return false
			}
		}
		if !floats.EqualApprox(a, b, tol) {
			return false
		}
	}
	return true
}

// MakeBase builds model output frame with model-input and model-output top
// level columns. Inputs are row major, targetTags default to tags.
func MakeBase(tags []string, modelInput, modelOutput [][]float64, index []time.Time, targetTags []string, frequency time.Duration) (*Frame, error) {
	if len(targetTags) == 0 {
		targetTags = tags
	}
	if len(modelInput) != len(index) || len(modelOutput) != len(index) {
		return nil, fmt.Errorf("index has %d rows, model input %d and model output %d", len(index), len(modelInput), len(modelOutput))
	}
	f := New(index)
	f.Frequency = frequency
	add := func(top string, names []string, data [][]float64) error {
		for j, name := range names {
			col := make([]float64, len(data))
			for i, row := range data {
				if len(row) != len(names) {
					return fmt.Errorf("%s row %d has %d values, expected %d", top, i, len(row), len(names))
				}
				col[i] = row[j]
			}
			if err := f.Set(Column{Top: top, Sub: name}, col); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(ModelInput, tags, modelInput); err != nil {
		return nil, err
	}
	if err := add(ModelOutput, targetTags, modelOutput); err != nil {
		return nil, err
	}
	return f, nil
}

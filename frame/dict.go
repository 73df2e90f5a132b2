package frame

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// timestamp key format of the dict representation
const keyFormat = time.RFC3339Nano

func key(t time.Time) string {
	return t.UTC().Format(keyFormat)
}

func jsonValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// ToDict converts frame into its JSON friendly representation. Two level
// columns give top -> sub -> timestamp -> value, single level columns give
// top -> timestamp -> value. NaN values become nulls.
func (f *Frame) ToDict() map[string]any {
	out := make(map[string]any)
	for i, c := range f.Columns {
		series := make(map[string]any, len(f.Index))
		for k, t := range f.Index {
			series[key(t)] = jsonValue(f.values[i][k])
		}
		if c.Sub == "" {
			out[c.Top] = series
			continue
		}
		sub, ok := out[c.Top].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			out[c.Top] = sub
		}
		sub[c.Sub] = series
	}
	if f.Frequency > 0 {
		start := make(map[string]any, len(f.Index))
		end := make(map[string]any, len(f.Index))
		for _, t := range f.Index {
			start[key(t)] = key(t)
			end[key(t)] = key(t.Add(f.Frequency))
		}
		out[Start] = start
		out[End] = end
	}
	return out
}

// MarshalJSON encodes frame in its dict representation
func (f *Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToDict())
}

// UnmarshalJSON decodes frame from its dict representation
func (f *Frame) UnmarshalJSON(data []byte) error {
	var d map[string]any
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	out, err := FromDict(d)
	if err != nil {
		return err
	}
	*f = *out
	return nil
}

// FromDict reconstructs frame from the dict representation. The start and
// end entries are skipped, rows are sorted by time and columns by name.
func FromDict(d map[string]any) (*Frame, error) {
	series := make(map[Column]map[string]any)
	for top, v := range d {
		if top == Start || top == End {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("column %q should be an object, got %T", top, v)
		}
		if isTwoLevel(m) {
			for sub, sv := range m {
				sm, ok := sv.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("column %q/%q should be an object, got %T", top, sub, sv)
				}
				series[Column{Top: top, Sub: sub}] = sm
			}
			continue
		}
		series[Column{Top: top}] = m
	}

	keys := make(map[string]time.Time)
	for c, s := range series {
		for k := range s {
			if _, ok := keys[k]; ok {
				continue
			}
			t, err := time.Parse(keyFormat, k)
			if err != nil {
				return nil, fmt.Errorf("column %s has invalid timestamp %q: %w", c, k, err)
			}
			keys[k] = t
		}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return keys[ordered[i]].Before(keys[ordered[j]]) })
	index := make([]time.Time, len(ordered))
	for i, k := range ordered {
		index[i] = keys[k]
	}

	f := New(index)
	for c, s := range series {
		vals := nanSlice(len(index))
		for i, k := range ordered {
			raw, ok := s[k]
			if !ok {
				continue
			}
			v, err := toFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("column %s at %s: %w", c, k, err)
			}
			vals[i] = v
		}
		if err := f.Set(c, vals); err != nil {
			return nil, err
		}
	}
	f.Sort()
	return f, nil
}

// two level column holds objects, single level column holds values
func isTwoLevel(m map[string]any) bool {
	for _, v := range m {
		if _, ok := v.(map[string]any); ok {
			return true
		}
		return false
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("unsupported value %v of type %T", v, v)
}

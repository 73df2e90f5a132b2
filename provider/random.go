package provider

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/machine"
)

// RandomDataProviderType is the registered type name of RandomDataProvider
const RandomDataProviderType = "RandomDataProvider"

func init() {
	Register(RandomDataProviderType, func(config map[string]any) (DataProvider, error) {
		p := NewRandomDataProvider()
		if err := decode(config, p); err != nil {
			return nil, errors.Wrap(err, "invalid RandomDataProvider config")
		}
		if p.MinSize <= 0 || p.MaxSize < p.MinSize {
			return nil, errors.Errorf("invalid RandomDataProvider sizes min=%d max=%d", p.MinSize, p.MaxSize)
		}
		return p, nil
	})
}

// RandomDataProvider generates random raw points for every tag and
// resamples them to the requested resolution. Same request and seed always
// produce the same data.
type RandomDataProvider struct {
	MinSize int       `json:"min_size"`
	MaxSize int       `json:"max_size"`
	Seed    int64     `json:"seed"`
	Since   time.Time `json:"since"` // no data exists before this time
}

// NewRandomDataProvider returns provider with default sizes
func NewRandomDataProvider() *RandomDataProvider {
	return &RandomDataProvider{MinSize: 100, MaxSize: 300}
}

// ToDict returns provider configuration
func (p *RandomDataProvider) ToDict() map[string]any {
	out := map[string]any{
		"type":     RandomDataProviderType,
		"min_size": p.MinSize,
		"max_size": p.MaxSize,
		"seed":     p.Seed,
	}
	if !p.Since.IsZero() {
		out["since"] = p.Since.UTC().Format(time.RFC3339)
	}
	return out
}

// Load implements DataProvider
func (p *RandomDataProvider) Load(ctx context.Context, start, end time.Time, tags []machine.SensorTag, resolution time.Duration) (*frame.Frame, error) {
	if resolution <= 0 {
		return nil, errors.Errorf("invalid resolution %s", resolution)
	}
	if !start.Before(end) {
		return nil, errors.Errorf("start %s should be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if !p.Since.IsZero() && !end.After(p.Since) {
		return nil, errors.Wrapf(ErrNoData, "window %s - %s is before %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339), p.Since.Format(time.RFC3339))
	}
	if !p.Since.IsZero() && start.Before(p.Since) {
		start = p.Since
	}
	buckets := int(math.Ceil(float64(end.Sub(start)) / float64(resolution)))
	if buckets == 0 {
		return nil, ErrNoData
	}
	index := make([]time.Time, buckets)
	for i := range index {
		index[i] = start.Add(time.Duration(i) * resolution).UTC()
	}
	f := frame.New(index)
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals := p.series(start, end, tag.Name, buckets, resolution)
		if err := f.Set(frame.Column{Top: tag.Name}, vals); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// series generates raw points and averages them within resolution buckets,
// empty buckets take the closest previous value
func (p *RandomDataProvider) series(start, end time.Time, tag string, buckets int, resolution time.Duration) []float64 {
	h := fnv.New64a()
	h.Write([]byte(tag))
	rnd := rand.New(rand.NewSource(p.Seed ^ int64(h.Sum64()) ^ start.Unix()))

	size := p.MinSize
	if p.MaxSize > p.MinSize {
		size += rnd.Intn(p.MaxSize - p.MinSize + 1)
	}
	span := end.Sub(start)
	offsets := make([]time.Duration, size)
	for i := range offsets {
		offsets[i] = time.Duration(rnd.Int63n(int64(span)))
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	sums := make([]float64, buckets)
	counts := make([]int, buckets)
	for _, off := range offsets {
		b := int(off / resolution)
		sums[b] += rnd.Float64()
		counts[b]++
	}
	vals := make([]float64, buckets)
	last := math.NaN()
	for i := range vals {
		if counts[i] > 0 {
			last = sums[i] / float64(counts[i])
		}
		vals[i] = last
	}
	// leading empty buckets take the first available value
	for i := range vals {
		if !math.IsNaN(vals[i]) {
			for j := 0; j < i; j++ {
				vals[j] = vals[i]
			}
			break
		}
	}
	return vals
}

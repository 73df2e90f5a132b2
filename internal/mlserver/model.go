package mlserver

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/machine"
)

// helper function to build frame columns from tag names
func columns(names []string) []frame.Column {
	return lo.Map(names, func(n string, _ int) frame.Column { return frame.Column{Top: n} })
}

// predict runs fixture model of the machine: every target tag is
// reconstructed as the mean of input tags of the same row. With anomaly the
// output also holds per tag and total absolute reconstruction errors.
func predict(m *machine.Machine, X, y *frame.Frame, anomaly bool, resolution time.Duration) (*frame.Frame, error) {
	input, err := X.Pick(columns(m.TagNames())...)
	if err != nil {
		return nil, err
	}
	if y != nil && y.Len() != X.Len() {
		return nil, fmt.Errorf("X has %d rows while y has %d rows", X.Len(), y.Len())
	}
	out := frame.New(input.Index)
	out.Frequency = resolution
	for _, c := range input.Columns {
		vals, _ := input.Values(c)
		if err := out.Set(frame.Column{Top: frame.ModelInput, Sub: c.Top}, vals); err != nil {
			return nil, err
		}
	}
	means := make([]float64, input.Len())
	for i := range means {
		means[i] = rowMean(input.Row(i))
	}
	total := make([]float64, input.Len())
	for _, tag := range m.TargetTagNames() {
		if err := out.Set(frame.Column{Top: frame.ModelOutput, Sub: tag}, means); err != nil {
			return nil, err
		}
		if !anomaly {
			continue
		}
		truth, ok := targetValues(tag, X, y)
		if !ok {
			return nil, fmt.Errorf("no data for target tag %s", tag)
		}
		diff := make([]float64, len(means))
		for i := range diff {
			diff[i] = math.Abs(truth[i] - means[i])
			total[i] += diff[i] * diff[i]
		}
		if err := out.Set(frame.Column{Top: frame.TagAnomalyUnscaled, Sub: tag}, diff); err != nil {
			return nil, err
		}
	}
	if anomaly {
		for i := range total {
			total[i] = math.Sqrt(total[i])
		}
		if err := out.Set(frame.Column{Top: frame.TotalAnomalyUnscaled}, total); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// target values are taken from y and then from X
func targetValues(tag string, X, y *frame.Frame) ([]float64, bool) {
	if y != nil {
		if v, ok := y.Values(frame.Column{Top: tag}); ok {
			return v, true
		}
	}
	return X.Values(frame.Column{Top: tag})
}

func rowMean(row []float64) float64 {
	var sum float64
	var n int
	for _, v := range row {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

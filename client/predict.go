package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/internal/metrics"
	"github.com/vkuznet/gordo-client/machine"
)

// maximum sleep between prediction retries
const maxRetryInterval = 300 * time.Second

// PredictionResult holds predictions of a single machine
type PredictionResult struct {
	Name          string
	Predictions   *frame.Frame
	ErrorMessages []string
}

// Predict fetches predictions of served machines for [start, end). When
// machineNames is given only those machines are predicted, names which are
// not served are ignored. Results keep machine order.
func (c *Client) Predict(ctx context.Context, start, end time.Time, machineNames []string, revision string) ([]PredictionResult, error) {
	if !start.Before(end) {
		return nil, errors.Errorf("start %s should be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	machines, err := c.GetMachines(ctx, revision, nil)
	if err != nil {
		return nil, err
	}
	if len(machineNames) > 0 {
		machines = lo.Filter(machines, func(m *machine.Machine, _ int) bool {
			return lo.Contains(machineNames, m.Name)
		})
	}
	results := make([]PredictionResult, len(machines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, m := range machines {
		i, m := i, m
		g.Go(func() error {
			results[i] = c.PredictSingleMachine(gctx, m, start, end, revision)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// PredictSingleMachine fetches predictions of given machine. All failures
// are reported in the result error messages.
func (c *Client) PredictSingleMachine(ctx context.Context, m *machine.Machine, start, end time.Time, revision string) PredictionResult {
	res := PredictionResult{Name: m.Name}
	resolution, err := m.Dataset.ResolutionDuration()
	if err != nil {
		res.ErrorMessages = append(res.ErrorMessages, err.Error())
		return res
	}

	var frames []*frame.Frame
	var sensors *frame.Frame
	if c.opts.DataProvider != nil {
		var X, y *frame.Frame
		X, y, sensors, err = c.loadData(ctx, m, start, end, resolution)
		if err != nil {
			res.ErrorMessages = append(res.ErrorMessages,
				fmt.Sprintf("unable to load data of machine %s: %v", m.Name, err))
			return res
		}
		for i := 0; i < X.Len(); i += c.opts.BatchSize {
			if err := ctx.Err(); err != nil {
				res.ErrorMessages = append(res.ErrorMessages, err.Error())
				break
			}
			j := min(i+c.opts.BatchSize, X.Len())
			f, err := c.sendPredictionRequest(ctx, m, X.Slice(i, j), y.Slice(i, j), X.Index[i], end, revision)
			if err != nil {
				res.ErrorMessages = append(res.ErrorMessages, err.Error())
				continue
			}
			frames = append(frames, f)
		}
	} else {
		window := predictionWindow(c.opts.BatchSize, resolution, end.Sub(start))
		for ws := start; ws.Before(end); ws = ws.Add(window) {
			if err := ctx.Err(); err != nil {
				res.ErrorMessages = append(res.ErrorMessages, err.Error())
				break
			}
			we := ws.Add(window)
			if we.After(end) {
				we = end
			}
			f, err := c.sendPredictionRequest(ctx, m, nil, nil, ws, we, revision)
			if err != nil {
				res.ErrorMessages = append(res.ErrorMessages, err.Error())
				continue
			}
			frames = append(frames, f)
		}
	}

	predictions, err := frame.Concat(frames...)
	if err != nil {
		res.ErrorMessages = append(res.ErrorMessages, err.Error())
		return res
	}
	res.Predictions = predictions
	if predictions.Len() == 0 {
		return res
	}
	metrics.PredictionRowsTotal.WithLabelValues(m.Name).Add(float64(predictions.Len()))
	if c.opts.Forwarder != nil {
		req := ForwardRequest{Machine: m, Predictions: predictions, Metadata: c.opts.Metadata}
		if c.opts.ForwardResampledSensors {
			req.ResampledSensorData = sensors
		}
		if err := c.opts.Forwarder.Forward(ctx, req); err != nil {
			res.ErrorMessages = append(res.ErrorMessages,
				fmt.Sprintf("unable to forward predictions of machine %s: %v", m.Name, err))
		}
	}
	return res
}

// helper function to load model input X and target y of the machine,
// the third frame holds all resampled sensors
func (c *Client) loadData(ctx context.Context, m *machine.Machine, start, end time.Time, resolution time.Duration) (*frame.Frame, *frame.Frame, *frame.Frame, error) {
	tags := lo.UniqBy(append(append([]machine.SensorTag{}, m.Dataset.TagList...), m.TargetTags()...),
		func(t machine.SensorTag) string { return t.Name })
	data, err := c.opts.DataProvider.Load(ctx, start, end, tags, resolution)
	if err != nil {
		return nil, nil, nil, err
	}
	if data.Len() == 0 {
		return nil, nil, nil, errors.Errorf("no data for %s - %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	columns := func(names []string) []frame.Column {
		return lo.Map(names, func(n string, _ int) frame.Column { return frame.Column{Top: n} })
	}
	X, err := data.Pick(columns(m.TagNames())...)
	if err != nil {
		return nil, nil, nil, err
	}
	y, err := data.Pick(columns(m.TargetTagNames())...)
	if err != nil {
		return nil, nil, nil, err
	}
	return X, y, data, nil
}

// predictionWindow returns time span of batchSize rows, capped by span
func predictionWindow(batchSize int, resolution, span time.Duration) time.Duration {
	if resolution <= 0 || int64(batchSize) > math.MaxInt64/int64(resolution) {
		return span
	}
	return min(time.Duration(batchSize)*resolution, span)
}

// helper function to build retry schedule, intervals grow as
// min(2^(attempt+2), 300) seconds
func (c *Client) retryBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 8 * time.Second
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxRetryInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(*c.opts.NRetries))
}

func (c *Client) predictionPath(name string, anomaly bool) string {
	if anomaly {
		return "/" + name + "/anomaly/prediction"
	}
	return "/" + name + "/prediction"
}

// helper function to send single prediction request. With X the data is
// posted to the server, otherwise server loads data for [start, end) itself.
// Server and transport failures are retried with exponential backoff.
func (c *Client) sendPredictionRequest(ctx context.Context, m *machine.Machine, X, y *frame.Frame, start, end time.Time, revision string) (*frame.Frame, error) {
	query := url.Values{"revision": {c.revisionOrCurrent(revision)}}
	method := http.MethodGet
	var body []byte
	if X != nil {
		method = http.MethodPost
		payload := map[string]any{"X": X.ToDict()}
		if y != nil {
			payload["y"] = y.ToDict()
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to encode prediction request of machine %s", m.Name)
		}
		body = data
	} else {
		query.Set("start", start.UTC().Format(time.RFC3339))
		query.Set("end", end.UTC().Format(time.RFC3339))
	}

	anomaly := *c.opts.UseAnomaly
	bo := c.retryBackOff()
	for {
		resource := fmt.Sprintf("Prediction for machine %s from %s to %s",
			m.Name, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
		data, _, err := c.do(ctx, method, c.predictionPath(m.Name, anomaly), query, body, resource)
		if err == nil {
			return decodePredictions(data, m.Name)
		}
		if errors.Is(err, ErrUnprocessableEntity) && anomaly {
			c.log.Warn("anomaly prediction is not supported, using plain prediction", "machine", m.Name)
			anomaly = false
			continue
		}
		if errors.Is(err, ErrUnprocessableEntity) || errors.Is(err, ErrBadRequest) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		next := bo.NextBackOff()
		if next == backoff.Stop {
			return nil, errors.Wrapf(err, "failed to get predictions for machine %s after %d retries", m.Name, *c.opts.NRetries)
		}
		metrics.PredictionRetriesTotal.WithLabelValues(m.Name).Inc()
		c.log.Warn("prediction request failed, retrying", "machine", m.Name, "sleep", next, "error", err)
		if err := c.sleep(ctx, next); err != nil {
			return nil, err
		}
	}
}

// helper function to decode server prediction response
func decodePredictions(data []byte, name string) (*frame.Frame, error) {
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrapf(err, "unable to decode predictions of machine %s", name)
	}
	if resp.Data == nil {
		return nil, errors.Errorf("prediction response of machine %s has no data", name)
	}
	f, err := frame.FromDict(resp.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decode predictions of machine %s", name)
	}
	return f, nil
}

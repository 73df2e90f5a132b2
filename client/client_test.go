package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/internal/metrics"
	"github.com/vkuznet/gordo-client/machine"
	"github.com/vkuznet/gordo-client/provider"
)

var (
	testStart = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)
)

func TestClientGetMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.client(t, Options{})

	metadata, err := c.GetMetadata(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, metadata, 2)
	assert.Equal(t, "machine-1", metadata["machine-1"]["name"])

	// metadata is cached per revision
	hits := f.hits("/metadata")
	_, err = c.GetMetadata(ctx, "", []string{"machine-2"})
	require.NoError(t, err)
	assert.Equal(t, hits, f.hits("/metadata"))

	// can't get metadata for non-existent target
	c = f.client(t, Options{Target: "no-such-target"})
	_, err = c.GetMetadata(ctx, "", nil)
	assert.ErrorIs(t, err, ErrMachineNotFound)
}

func TestClientGetMachines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	machines, err := f.client(t, Options{}).GetMachines(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, machines, 2)
	assert.Equal(t, "machine-1", machines[0].Name)
	assert.Equal(t, testProject, machines[0].Project)
	assert.Equal(t, []string{"TRC3"}, machines[1].TargetTagNames())

	machines, err = f.client(t, Options{Target: "machine-2"}).GetMachines(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, "machine-2", machines[0].Name)
}

func TestClientPredictSpecificTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.client(t, Options{})

	// should not actually call any predictions because this machine name doesn't exist
	results, err := c.Predict(ctx, testStart, testEnd, []string{"non-existent-machine"}, "")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.hits("/prediction"))

	// should be called for this machine only
	results, err = c.Predict(ctx, testStart, testEnd, []string{"machine-1"}, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "machine-1", results[0].Name)
	assert.Empty(t, results[0].ErrorMessages)
	assert.Positive(t, f.hits("machine-1/anomaly/prediction"))
	assert.Zero(t, f.hits("machine-2/anomaly/prediction"))

	_, err = c.Predict(ctx, testEnd, testStart, nil, "")
	assert.Error(t, err)
}

func TestClientDownloadModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	models, err := f.client(t, Options{Target: "machine-1"}).DownloadModel(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Contains(t, string(models["machine-1"]), "RowMeanModel")

	models, err = f.client(t, Options{}).DownloadModel(ctx, oldRevision, []string{"machine-2"})
	require.NoError(t, err)
	assert.Contains(t, string(models["machine-2"]), "revision="+oldRevision)

	// can't download model for non-existent target
	_, err = f.client(t, Options{Target: "non-existent-target"}).DownloadModel(ctx, "", nil)
	assert.ErrorIs(t, err, ErrMachineNotFound)
}

func TestClientPredictionsDiffBatchSizes(t *testing.T) {
	for _, batchSize := range []int{10, 100} {
		for _, useProvider := range []bool{true, false} {
			t.Run(fmt.Sprintf("batch_size=%d/provider=%v", batchSize, useProvider), func(t *testing.T) {
				ctx := context.Background()
				f := newFixture(t)

				var mu sync.Mutex
				forwarded := make(map[string]ForwardRequest)
				opts := Options{
					BatchSize:   batchSize,
					Parallelism: 10,
					Metadata:    map[string]string{"key": "value"},
					Forwarder: ForwarderFunc(func(_ context.Context, req ForwardRequest) error {
						mu.Lock()
						defer mu.Unlock()
						forwarded[req.Machine.Name] = req
						return nil
					}),
					ForwardResampledSensors: true,
				}
				if useProvider {
					opts.DataProvider = &provider.RandomDataProvider{MinSize: 100, MaxSize: 300, Seed: 1}
				}
				c := f.client(t, opts)

				results, err := c.Predict(ctx, testStart, testEnd, nil, "")
				require.NoError(t, err)
				require.Len(t, results, 2)

				// 12 hours of 10 minutes resolution
				rows := 72
				requests := (rows + batchSize - 1) / batchSize
				for _, res := range results {
					assert.Empty(t, res.ErrorMessages, res.Name)
					require.NotNil(t, res.Predictions, res.Name)
					assert.Equal(t, rows, res.Predictions.Len(), res.Name)
					assert.True(t, res.Predictions.Index[0].Equal(testStart))
					assert.Contains(t, forwarded, res.Name)
					assert.Equal(t, "value", forwarded[res.Name].Metadata["key"])
					if useProvider {
						require.NotNil(t, forwarded[res.Name].ResampledSensorData)
						assert.Len(t, forwarded[res.Name].ResampledSensorData.Columns, 3)
					} else {
						assert.Nil(t, forwarded[res.Name].ResampledSensorData)
					}
				}
				assert.Contains(t, results[0].Predictions.TopLevelNames(), frame.TotalAnomalyUnscaled)
				// machine-2 is not an anomaly model and falls back to plain predictions
				assert.NotContains(t, results[1].Predictions.TopLevelNames(), frame.TotalAnomalyUnscaled)
				assert.Equal(t, requests, f.hits("machine-1/anomaly/prediction"))
				assert.Equal(t, requests, f.hits("machine-2/anomaly/prediction"))
				assert.Equal(t, requests, f.hits("machine-2/prediction"))
			})
		}
	}
}

func TestClientPredictNoData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	since := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	c := f.client(t, Options{DataProvider: &provider.RandomDataProvider{MinSize: 10, MaxSize: 10, Since: since}})

	start := time.Date(1888, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := c.Predict(ctx, start, start.Add(time.Hour), nil, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Nil(t, res.Predictions)
		require.Len(t, res.ErrorMessages, 1)
		assert.Contains(t, res.ErrorMessages[0], "no data")
	}
	assert.Zero(t, f.hits("/prediction"))
}

func TestClientForwarderError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.client(t, Options{
		Forwarder: ForwarderFunc(func(context.Context, ForwardRequest) error {
			return fmt.Errorf("destination is down")
		}),
	})
	res := c.PredictSingleMachine(ctx, mustMachine(t, c, "machine-1"), testStart, testStart.Add(time.Hour), "")
	require.NotNil(t, res.Predictions)
	require.Len(t, res.ErrorMessages, 1)
	assert.Contains(t, res.ErrorMessages[0], "destination is down")
}

func mustMachine(t *testing.T, c *Client, name string) *machine.Machine {
	t.Helper()
	machines, err := c.GetMachines(context.Background(), "", []string{name})
	require.NoError(t, err)
	require.Len(t, machines, 1)
	return machines[0]
}

func TestClientSetRevision(t *testing.T) {
	f := newFixture(t)
	for _, revision := range []string{"", oldRevision, latestRevision} {
		c := f.client(t, Options{Revision: revision})
		expected := revision
		if expected == "" {
			expected = latestRevision
		}
		assert.Equal(t, expected, c.Revision())
		assert.Equal(t, expected, c.SessionHeaders()[RevisionHeader])

		_, err := c.GetMachineNames(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, expected, f.lastRequest().Header.Get(RevisionHeader))
	}
}

func TestClientSetRevisionError(t *testing.T) {
	f := newFixture(t)
	_, err := New(context.Background(), Options{Project: testProject, BaseURL: f.ts.URL, Revision: "does-not-exist"})
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	_, err = New(context.Background(), Options{BaseURL: f.ts.URL})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{Project: "no-such-project", BaseURL: f.ts.URL})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientAutoUpdateRevision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.client(t, Options{})
	assert.Equal(t, latestRevision, c.Revision())

	c.setRevision("bad-revision")
	assert.Equal(t, "bad-revision", c.Revision())
	assert.Equal(t, "bad-revision", c.SessionHeaders()[RevisionHeader])

	updates := testutil.ToFloat64(metrics.RevisionUpdatesTotal)
	metadataHits := f.hits("/metadata")

	// contacting the server with outdated revision makes the client follow the latest one
	machines, err := c.GetMachines(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, machines, 2)
	assert.Equal(t, latestRevision, c.Revision())
	assert.Equal(t, latestRevision, c.SessionHeaders()[RevisionHeader])
	assert.Equal(t, updates+1, testutil.ToFloat64(metrics.RevisionUpdatesTotal))

	// it should also refresh metadata
	assert.Greater(t, f.hits("/metadata"), metadataHits)
}

func TestClientPinnedRevisionDoesNotUpdate(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{Revision: oldRevision})
	names, err := c.GetMachineNames(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Equal(t, oldRevision, c.Revision())
}

func TestClientSessionHeaders(t *testing.T) {
	f := newFixture(t)
	session, err := ParseSessionConfig([]byte(`{"headers": {"X-Team": "gordo"}, "auth": ["user", "secret"], "timeout": 5}`))
	require.NoError(t, err)
	c := f.client(t, Options{Session: session})
	_, err = c.GetRevisions(context.Background())
	require.NoError(t, err)

	req := f.lastRequest()
	assert.Equal(t, "gordo", req.Header.Get("X-Team"))
	assert.NotEmpty(t, req.Header.Get(RequestIDHeader))
	user, password, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "secret", password)
	assert.Equal(t, "gordo", c.SessionHeaders()["X-Team"])
}

func TestParseSessionConfig(t *testing.T) {
	cfg, err := ParseSessionConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Headers)

	cfg, err = ParseSessionConfig([]byte(`{"headers": {}, "verify": false, "timeout": 1.5}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Verify)
	assert.False(t, *cfg.Verify)
	client := cfg.HTTPClient()
	assert.Equal(t, 1500*time.Millisecond, client.Timeout)
	assert.NotNil(t, client.Transport)

	for _, data := range []string{`not json`, `{"auth": ["user"]}`, `{"timeout": -1}`} {
		_, err := ParseSessionConfig([]byte(data))
		assert.Error(t, err, data)
	}
}

func TestFilterMachines(t *testing.T) {
	t1, t2 := testMachine(t, "t1"), testMachine(t, "t2")
	tests := []struct {
		name     string
		target   string
		expected []*machine.Machine
		err      error
	}{
		{"no target gives all machines", "", []*machine.Machine{t1, t2}, nil},
		{"target filters down to single machine", "t2", []*machine.Machine{t2}, nil},
		{"unmatched target", "t3", nil, ErrMachineNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := FilterMachines([]*machine.Machine{t1, t2}, tt.target)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestDirectoryForwarder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	index := []time.Time{testStart, testStart.Add(10 * time.Minute)}
	predictions := frame.New(index)
	require.NoError(t, predictions.Set(frame.Column{Top: frame.ModelOutput, Sub: "tag-1"}, []float64{1, 2}))
	sensors := frame.New(index)
	require.NoError(t, sensors.Set(frame.Column{Top: "tag-1"}, []float64{1, 2}))

	fwd := MultiForwarder{DirectoryForwarder{Dir: dir}}
	err := fwd.Forward(context.Background(), ForwardRequest{
		Machine:             testMachine(t, "t1"),
		Predictions:         predictions,
		ResampledSensorData: sensors,
	})
	require.NoError(t, err)
	for _, name := range []string{"t1.csv.gz", "t1-resampled.csv.gz"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	fwd = MultiForwarder{
		ForwarderFunc(func(context.Context, ForwardRequest) error { return io.ErrUnexpectedEOF }),
		ForwarderFunc(func(context.Context, ForwardRequest) error { return io.ErrClosedPipe }),
	}
	err = fwd.Forward(context.Background(), ForwardRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NoError(t, MultiForwarder{}.Forward(context.Background(), ForwardRequest{}))
}

func TestClientBaseURL(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{})
	assert.Equal(t, f.ts.URL+"/gordo/v0/"+testProject, c.BaseURL())

	var opts Options
	opts.setDefaults()
	assert.Equal(t, DefaultPort, opts.Port)
	assert.Equal(t, DefaultNRetries, *opts.NRetries)
	assert.True(t, *opts.UseAnomaly)
}

func TestClientPredictHugeBatchSize(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, Options{BatchSize: 20_000_000})
	m := mustMachine(t, c, "machine-1")
	rows := testutil.ToFloat64(metrics.PredictionRowsTotal.WithLabelValues("machine-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := c.PredictSingleMachine(ctx, m, testStart, testEnd, "")
	assert.Empty(t, res.ErrorMessages)
	require.NotNil(t, res.Predictions)
	assert.Equal(t, 72, res.Predictions.Len())
	assert.Equal(t, 1, f.hits("machine-1/anomaly/prediction"))
	assert.Equal(t, rows+72, testutil.ToFloat64(metrics.PredictionRowsTotal.WithLabelValues("machine-1")))
}

func TestClientPredictCancelled(t *testing.T) {
	f := newFixture(t)
	for _, useProvider := range []bool{true, false} {
		opts := Options{BatchSize: 10}
		if useProvider {
			opts.DataProvider = &provider.RandomDataProvider{MinSize: 10, MaxSize: 20}
		}
		c := f.client(t, opts)
		m := mustMachine(t, c, "machine-1")
		hits := f.hits("/prediction")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := c.PredictSingleMachine(ctx, m, testStart, testEnd, "")
		assert.Nil(t, res.Predictions)
		require.NotEmpty(t, res.ErrorMessages)
		assert.Contains(t, res.ErrorMessages[0], context.Canceled.Error())
		assert.Equal(t, hits, f.hits("/prediction"))
	}
}

func TestPredictionWindow(t *testing.T) {
	span := 12 * time.Hour
	assert.Equal(t, 100*time.Minute, predictionWindow(10, 10*time.Minute, span))
	assert.Equal(t, span, predictionWindow(100, 10*time.Minute, span))
	assert.Equal(t, span, predictionWindow(20_000_000, 10*time.Minute, span))
	assert.Equal(t, span, predictionWindow(10, 0, span))
}

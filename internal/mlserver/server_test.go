package mlserver

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkuznet/gordo-client/frame"
)

const (
	testProject = "gordo-test"
	oldRevision = "1577836800000"
	newRevision = "1577923200000"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	store := NewMemoryStore()
	require.NoError(t, SeedFixture(store, testProject, oldRevision, newRevision))
	srv, err := New(cfg, store, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, header http.Header) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRevisionsAndModels(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/gordo/v0/" + testProject

	code, revs := getJSON(t, base+"/revisions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, newRevision, revs["latest"])
	assert.Equal(t, newRevision, revs["revision"])
	assert.Equal(t, []any{oldRevision, newRevision}, revs["available-revisions"])

	code, models := getJSON(t, base+"/models", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"machine-1", "machine-2"}, models["models"])
	assert.Equal(t, newRevision, models["revision"])

	code, models = getJSON(t, base+"/models?revision="+oldRevision, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, oldRevision, models["revision"])

	// revision header is used without query parameter
	code, models = getJSON(t, base+"/models", http.Header{"Revision": {oldRevision}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, oldRevision, models["revision"])

	code, herr := getJSON(t, base+"/models?revision=bad-revision", nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, float64(RevisionError), herr["code"])

	code, _ = getJSON(t, ts.URL+"/gordo/v0/no-such-project/models", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetadataAndDownload(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/gordo/v0/" + testProject

	code, md := getJSON(t, base+"/machine-1/metadata", nil)
	require.Equal(t, http.StatusOK, code)
	metadata, ok := md["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "machine-1", metadata["name"])
	assert.Equal(t, testProject, metadata["project_name"])

	code, _ = getJSON(t, base+"/no-such-machine/metadata", nil)
	assert.Equal(t, http.StatusNotFound, code)

	resp, err := http.Get(base + "/machine-1/download-model?revision=" + oldRevision)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "revision="+oldRevision)
}

func predictionBody(t *testing.T, tags []string, rows int) []byte {
	t.Helper()
	index := make([]time.Time, rows)
	for i := range index {
		index[i] = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 10 * time.Minute)
	}
	X := frame.New(index)
	for j, tag := range tags {
		vals := make([]float64, rows)
		for i := range vals {
			vals[i] = float64(i + j)
		}
		require.NoError(t, X.Set(frame.Column{Top: tag}, vals))
	}
	data, err := json.Marshal(map[string]any{"X": X.ToDict(), "y": X.ToDict()})
	require.NoError(t, err)
	return data
}

func decodePrediction(t *testing.T, resp *http.Response) *frame.Frame {
	t.Helper()
	defer resp.Body.Close()
	var out struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	f, err := frame.FromDict(out.Data)
	require.NoError(t, err)
	return f
}

func TestPostPrediction(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/gordo/v0/" + testProject
	body := predictionBody(t, []string{"TRC1", "TRC2", "TRC3"}, 4)

	resp, err := http.Post(base+"/machine-1/anomaly/prediction", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f := decodePrediction(t, resp)
	assert.Equal(t, 4, f.Len())
	assert.ElementsMatch(t,
		[]string{frame.ModelInput, frame.ModelOutput, frame.TagAnomalyUnscaled, frame.TotalAnomalyUnscaled},
		f.TopLevelNames())
	out, ok := f.Values(frame.Column{Top: frame.ModelOutput, Sub: "TRC2"})
	require.True(t, ok)
	// row mean of i, i+1 and i+2
	assert.Equal(t, []float64{1, 2, 3, 4}, out)
	diff, _ := f.Values(frame.Column{Top: frame.TagAnomalyUnscaled, Sub: "TRC1"})
	assert.Equal(t, []float64{1, 1, 1, 1}, diff)

	// gzip compressed body
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err = gz.Write(body)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	req, err := http.NewRequest(http.MethodPost, base+"/machine-1/prediction", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Encoding", "gzip")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f = decodePrediction(t, resp)
	assert.ElementsMatch(t, []string{frame.ModelInput, frame.ModelOutput}, f.TopLevelNames())

	// machine-2 is not an anomaly model
	resp, err = http.Post(base+"/machine-2/anomaly/prediction", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// missing tags
	resp, err = http.Post(base+"/machine-1/prediction", "application/json",
		bytes.NewReader(predictionBody(t, []string{"TRC1"}, 2)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(base+"/machine-1/prediction", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPrediction(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/gordo/v0/" + testProject

	resp, err := http.Get(base + "/machine-2/prediction?start=2016-01-01T00:00:00Z&end=2016-01-01T01:00:00Z")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f := decodePrediction(t, resp)
	assert.Equal(t, 6, f.Len())
	_, ok := f.Values(frame.Column{Top: frame.ModelOutput, Sub: "TRC3"})
	assert.True(t, ok)

	resp, err = http.Get(base + "/machine-2/prediction?start=1888-01-01T00:00:00Z&end=1888-02-01T00:00:00Z")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(base + "/machine-2/prediction?start=yesterday&end=2016-01-01T01:00:00Z")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServiceEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, status := getJSON(t, ts.URL+"/healthcheck", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status["status"])

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(data), "<h1")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "gordo_server_http_requests_total")
}

func TestRateLimit(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	cfg.LimiterPeriod = "1-M"
	store := NewMemoryStore()
	require.NoError(t, SeedFixture(store, testProject, oldRevision))
	srv, err := New(cfg, store, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, _ := getJSON(t, ts.URL+"/healthcheck", nil)
	assert.Equal(t, http.StatusOK, code)
	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestNewInvalidConfig(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	cfg.LimiterPeriod = "bad"
	_, err = New(cfg, NewMemoryStore(), nil)
	assert.Error(t, err)

	cfg, _ = ParseConfig("")
	cfg.DataProvider = map[string]any{"type": "NoSuchProvider"}
	_, err = New(cfg, NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestStoreFailures(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	require.NoError(t, SeedFixture(store, testProject, newRevision))
	// unreadable record of the machine
	require.NoError(t, os.MkdirAll(filepath.Join(dir, testProject, newRevision, "broken.json"), 0755))
	srv, err := New(cfg, store, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, herr := getJSON(t, ts.URL+"/gordo/v0/"+testProject+"/broken/metadata", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, float64(FileIOError), herr["code"])
	assert.Equal(t, "file IO error", herr["reason"])

	code, herr = getJSON(t, ts.URL+"/gordo/v0/"+testProject+"/models", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, float64(FileIOError), herr["code"])

	code, herr = getJSON(t, ts.URL+"/gordo/v0/"+testProject+"/machine-1/metadata", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, herr["metadata"])

	assert.Equal(t, DatabaseError, storeErrorCode(errors.New("connection refused")))
}

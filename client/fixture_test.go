package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkuznet/gordo-client/internal/mlserver"
	"github.com/vkuznet/gordo-client/machine"
)

const (
	testProject    = "gordo-test"
	oldRevision    = "1577836800000"
	latestRevision = "1577923200000"
)

// fixture runs model server and records requests it receives
type fixture struct {
	ts *httptest.Server

	mu       sync.Mutex
	paths    []string
	requests []*http.Request
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := mlserver.ParseConfig("")
	require.NoError(t, err)
	cfg.LimiterPeriod = "10000-S"
	store := mlserver.NewMemoryStore()
	require.NoError(t, mlserver.SeedFixture(store, testProject, oldRevision, latestRevision))
	srv, err := mlserver.New(cfg, store, nil)
	require.NoError(t, err)
	router := srv.Router()

	f := &fixture{}
	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(f.ts.Close)
	return f
}

// hits returns number of requests whose path ends with given suffix
func (f *fixture) hits(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if strings.HasSuffix(p, suffix) {
			n++
		}
	}
	return n
}

func (f *fixture) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fixture) client(t *testing.T, opts Options) *Client {
	t.Helper()
	opts.Project = testProject
	opts.BaseURL = f.ts.URL
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	return c
}

// helper to build a basic machine, only defining its name
func testMachine(t *testing.T, name string) *machine.Machine {
	t.Helper()
	m, err := machine.FromConfig(map[string]any{
		"name": name,
		"dataset": map[string]any{
			"tag_list": []any{
				map[string]any{"name": "tag-1", "asset": "foo"},
				map[string]any{"name": "tag-2", "asset": "foo"},
			},
			"train_start_date": "2016-01-01T00:00:00Z",
			"train_end_date":   "2016-01-05T00:00:00Z",
		},
		"model": "sklearn.linear_model.LinearRegression",
	}, "test-project")
	require.NoError(t, err)
	return m
}

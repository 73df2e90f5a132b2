// Package client implements gordo model server client: it discovers served
// machines and their metadata, downloads models and fetches predictions.
package client

// client module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/vkuznet/gordo-client/internal/metrics"
	"github.com/vkuznet/gordo-client/machine"
	"github.com/vkuznet/gordo-client/pkg/cache"
	"github.com/vkuznet/gordo-client/pkg/logger"
	"github.com/vkuznet/gordo-client/provider"
)

// Default option values
const (
	DefaultHost         = "localhost"
	DefaultPort         = 443
	DefaultScheme       = "https"
	DefaultGordoVersion = "v0"
	DefaultBatchSize    = 100000
	DefaultParallelism  = 10
	DefaultNRetries     = 5
)

// RevisionHeader carries the model revision in every request
const RevisionHeader = "revision"

// RequestIDHeader carries unique id of every request
const RequestIDHeader = "X-Request-ID"

// Options defines client settings
type Options struct {
	Project      string
	Target       string // restricts machines to a single one
	Host         string
	Port         int
	Scheme       string
	GordoVersion string
	BaseURL      string // overrides scheme, host and port
	Revision     string // pins the client to given revision

	BatchSize   int
	Parallelism int
	NRetries    *int  // retries of failed prediction requests, zero disables retries
	UseAnomaly  *bool // anomaly endpoints are used unless set to false

	DataProvider            provider.DataProvider
	Forwarder               Forwarder
	ForwardResampledSensors bool
	Metadata                map[string]string // passed along with forwarded predictions

	Session    SessionConfig
	HTTPClient *http.Client
	Cache      cache.Cache
	Logger     logger.Logger
}

func (o *Options) setDefaults() {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Scheme == "" {
		o.Scheme = DefaultScheme
	}
	if o.GordoVersion == "" {
		o.GordoVersion = DefaultGordoVersion
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.NRetries == nil || *o.NRetries < 0 {
		o.NRetries = lo.ToPtr(DefaultNRetries)
	}
	if o.UseAnomaly == nil {
		o.UseAnomaly = lo.ToPtr(true)
	}
	if o.Cache == nil {
		o.Cache = cache.NewMemory(0)
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

// Revisions represents revisions served for a project
type Revisions struct {
	Latest    string   `json:"latest"`
	Available []string `json:"available-revisions"`
	Revision  string   `json:"revision"`
}

// Models represents machines served for a project revision
type Models struct {
	Models   []string `json:"models"`
	Revision string   `json:"revision"`
}

// Client talks to the gordo model server of a single project
type Client struct {
	opts       Options
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	log        logger.Logger

	mu       sync.RWMutex
	revision string
	pinned   bool

	// sleep waits between prediction retries
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates client and resolves the revision it works with
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Project == "" {
		return nil, errors.New("project name is required")
	}
	opts.setDefaults()
	c := &Client{
		opts:       opts,
		httpClient: opts.HTTPClient,
		cache:      opts.Cache,
		log:        opts.Logger,
		sleep:      sleepContext,
	}
	if c.httpClient == nil {
		c.httpClient = opts.Session.HTTPClient()
	}
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("%s://%s:%d", opts.Scheme, opts.Host, opts.Port)
	}
	c.baseURL = fmt.Sprintf("%s/gordo/%s/%s", base, opts.GordoVersion, opts.Project)

	revs, err := c.GetRevisions(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Revision != "" {
		if !lo.Contains(revs.Available, opts.Revision) {
			return nil, errors.Wrapf(ErrRevisionNotFound,
				"revision %s of project %s, available revisions %v", opts.Revision, opts.Project, revs.Available)
		}
		c.revision = opts.Revision
		c.pinned = true
	} else {
		c.revision = revs.Latest
	}
	c.log.Info("gordo client", "project", opts.Project, "base_url", c.baseURL, "revision", c.revision)
	return c, nil
}

// Revision returns revision used by the client
func (c *Client) Revision() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

func (c *Client) setRevision(rev string) {
	c.mu.Lock()
	c.revision = rev
	c.mu.Unlock()
}

// SessionHeaders returns headers sent with every request
func (c *Client) SessionHeaders() map[string]string {
	headers := make(map[string]string, len(c.opts.Session.Headers)+1)
	for k, v := range c.opts.Session.Headers {
		headers[k] = v
	}
	headers[RevisionHeader] = c.Revision()
	return headers
}

// BaseURL returns project base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// helper function to perform HTTP request against project base URL
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, resource string) ([]byte, bool, error) {
	rurl := c.baseURL + path
	if len(query) > 0 {
		rurl += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rurl, reader)
	if err != nil {
		return nil, false, err
	}
	c.opts.Session.apply(req)
	req.Header.Set(RevisionHeader, c.Revision())
	req.Header.Set(RequestIDHeader, uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordClientRequest(endpoint(path), 0, start)
		return nil, false, err
	}
	metrics.RecordClientRequest(endpoint(path), resp.StatusCode, start)
	c.log.Debug("request", "method", method, "url", rurl, "status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader))
	return handleResponse(resp, resource)
}

// endpoint returns request path without machine name, e.g. anomaly/prediction
func endpoint(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, "/")
}

// helper function to fetch and decode JSON resource
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, resource string, v any) error {
	data, _, err := c.do(ctx, http.MethodGet, path, query, nil, resource)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "unable to decode %s", resource)
	}
	return nil
}

// GetRevisions returns revisions served for the project
func (c *Client) GetRevisions(ctx context.Context) (*Revisions, error) {
	var revs Revisions
	err := c.getJSON(ctx, "/revisions", nil, "Revisions of project "+c.opts.Project, &revs)
	if err != nil {
		return nil, err
	}
	return &revs, nil
}

func (c *Client) revisionOrCurrent(revision string) string {
	if revision != "" {
		return revision
	}
	return c.Revision()
}

func (c *Client) getModels(ctx context.Context, revision string) (*Models, error) {
	var models Models
	rev := c.revisionOrCurrent(revision)
	resource := fmt.Sprintf("List of available models for revision '%s'", rev)
	if err := c.getJSON(ctx, "/models", url.Values{"revision": {rev}}, resource, &models); err != nil {
		return nil, err
	}
	return &models, nil
}

// GetAvailableMachines returns machines served for given revision, empty
// revision means the client revision. When the client revision is no
// longer served the client follows the latest one.
func (c *Client) GetAvailableMachines(ctx context.Context, revision string) (*Models, error) {
	models, err := c.getModels(ctx, revision)
	if revision != "" || c.pinned {
		return models, err
	}
	outdated := errors.Is(err, ErrGone) || (err == nil && models.Revision != "" && models.Revision != c.Revision())
	if !outdated {
		return models, err
	}
	if err := c.followLatestRevision(ctx); err != nil {
		return nil, err
	}
	return c.getModels(ctx, "")
}

// helper function to switch client to the latest served revision and
// refresh cached metadata of its machines
func (c *Client) followLatestRevision(ctx context.Context) error {
	revs, err := c.GetRevisions(ctx)
	if err != nil {
		return err
	}
	old := c.Revision()
	c.setRevision(revs.Latest)
	metrics.RevisionUpdatesTotal.Inc()
	c.log.Warn("client revision is outdated, switching to latest", "old", old, "new", revs.Latest)

	models, err := c.getModels(ctx, revs.Latest)
	if err != nil {
		return err
	}
	_, err = c.fetchMetadata(ctx, revs.Latest, models.Models)
	return err
}

// GetMachineNames returns names of served machines
func (c *Client) GetMachineNames(ctx context.Context, revision string) ([]string, error) {
	models, err := c.GetAvailableMachines(ctx, revision)
	if err != nil {
		return nil, err
	}
	return models.Models, nil
}

// helper function to resolve targets against served machine names
func (c *Client) resolveTargets(ctx context.Context, revision string, targets []string) ([]string, error) {
	names, err := c.GetMachineNames(ctx, revision)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 && c.opts.Target != "" {
		targets = []string{c.opts.Target}
	}
	if len(targets) == 0 {
		return names, nil
	}
	if missing := lo.Without(targets, names...); len(missing) > 0 {
		return nil, errors.Wrapf(ErrMachineNotFound, "targets %v are not served by project %s", missing, c.opts.Project)
	}
	return lo.Uniq(targets), nil
}

// GetMetadata returns metadata of given targets keyed by machine name.
// Targets default to the client target or to all served machines.
func (c *Client) GetMetadata(ctx context.Context, revision string, targets []string) (map[string]map[string]any, error) {
	names, err := c.resolveTargets(ctx, revision, targets)
	if err != nil {
		return nil, err
	}
	return c.fetchMetadata(ctx, c.revisionOrCurrent(revision), names)
}

func (c *Client) fetchMetadata(ctx context.Context, revision string, names []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(names))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for _, name := range names {
		name := name
		g.Go(func() error {
			md, err := c.machineMetadata(gctx, revision, name)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = md
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// helper function to get metadata of single machine, cached per revision
func (c *Client) machineMetadata(ctx context.Context, revision, name string) (map[string]any, error) {
	key := cache.Key(c.opts.Project, revision, name)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var md map[string]any
		if err := json.Unmarshal(data, &md); err == nil {
			return md, nil
		}
	}
	var resp struct {
		Metadata map[string]any `json:"metadata"`
	}
	resource := fmt.Sprintf("Metadata for machine %s", name)
	if err := c.getJSON(ctx, "/"+name+"/metadata", url.Values{"revision": {revision}}, resource, &resp); err != nil {
		return nil, err
	}
	if resp.Metadata == nil {
		return nil, errors.Errorf("metadata of machine %s is empty", name)
	}
	if data, err := json.Marshal(resp.Metadata); err == nil {
		if err := c.cache.Set(ctx, key, data, 0); err != nil {
			c.log.Warn("unable to cache metadata", "machine", name, "error", err)
		}
	}
	return resp.Metadata, nil
}

// GetMachines returns served machines built from their metadata
func (c *Client) GetMachines(ctx context.Context, revision string, names []string) ([]*machine.Machine, error) {
	metadata, err := c.GetMetadata(ctx, revision, names)
	if err != nil {
		return nil, err
	}
	keys := lo.Keys(metadata)
	sort.Strings(keys)
	machines := make([]*machine.Machine, 0, len(keys))
	for _, name := range keys {
		m, err := machine.FromConfig(metadata[name], c.opts.Project)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid metadata of machine %s", name)
		}
		machines = append(machines, m)
	}
	return FilterMachines(machines, c.opts.Target)
}

// FilterMachines returns machines matching target, empty target matches all
func FilterMachines(machines []*machine.Machine, target string) ([]*machine.Machine, error) {
	if target == "" {
		return machines, nil
	}
	out := lo.Filter(machines, func(m *machine.Machine, _ int) bool { return m.Name == target })
	if len(out) == 0 {
		names := lo.Map(machines, func(m *machine.Machine, _ int) string { return m.Name })
		return nil, errors.Wrapf(ErrMachineNotFound, "target %s is not among machines %v", target, names)
	}
	return out, nil
}

// DownloadModel returns serialized models of given targets keyed by machine name
func (c *Client) DownloadModel(ctx context.Context, revision string, targets []string) (map[string][]byte, error) {
	names, err := c.resolveTargets(ctx, revision, targets)
	if err != nil {
		return nil, err
	}
	rev := c.revisionOrCurrent(revision)
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		resource := fmt.Sprintf("Model for machine %s", name)
		data, _, err := c.do(ctx, http.MethodGet, "/"+name+"/download-model", url.Values{"revision": {rev}}, nil, resource)
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package llmrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/internal/version"
	"github.com/ferro-labs/llm-router/routing"
)

// Discovery endpoints, relative to a backend's base URL.
const (
	ModelsPath = "/v1/models"
	TagsPath   = "/api/tags"
)

// Endpoint labels used in BackendError and metrics.
const (
	EndpointModels = "models"
	EndpointTags   = "tags"
)

// maxDiscoveryBody caps how much of a discovery response is read.
const maxDiscoveryBody = 32 << 20

// BackendError records one failed discovery query.
type BackendError struct {
	Backend  string
	URL      string
	Endpoint string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s (%s) %s: %v", e.Backend, e.URL, e.Endpoint, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// DiscoveryResult summarises one completed discovery cycle.
type DiscoveryResult struct {
	Models   int
	Tags     int
	Errors   []*BackendError
	Duration time.Duration
}

// Discoverer periodically rebuilds the routing cache from the backends'
// model listings. At most one cycle runs at a time.
type Discoverer struct {
	backends    []Backend
	cache       *routing.Cache
	client      *http.Client
	timeout     time.Duration
	interval    time.Duration
	concurrency int
	logger      *slog.Logger

	cycleMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	done    chan struct{} // closed by Stop to release the run's ctx watcher
	initial sync.WaitGroup
}

// NewDiscoverer creates a Discoverer that writes into cache. client may be
// nil, in which case a default client is used; per-call timeouts come from
// cfg either way.
func NewDiscoverer(cfg Config, cache *routing.Cache, client *http.Client) *Discoverer {
	if client == nil {
		client = &http.Client{}
	}
	backends := make([]Backend, len(cfg.Backends))
	copy(backends, cfg.Backends)
	return &Discoverer{
		backends:    backends,
		cache:       cache,
		client:      client,
		timeout:     cfg.Timeout(),
		interval:    cfg.Interval(),
		concurrency: cfg.Concurrency(),
		logger:      logging.Component("discovery"),
	}
}

// backendDraft is one backend's contribution to a cycle.
type backendDraft struct {
	models []routing.ModelInfo
	tags   []routing.ModelTag
	errs   []*BackendError
}

// Refresh runs one discovery cycle and installs the result. Backend failures
// are isolated: a failing backend contributes nothing and the others are
// installed normally.
func (d *Discoverer) Refresh(ctx context.Context) DiscoveryResult {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	start := time.Now()
	drafts := make([]backendDraft, len(d.backends))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range d.backends {
		b := d.backends[i]
		slot := &drafts[i]
		g.Go(func() error {
			d.discoverBackend(ctx, b, slot)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		// Shutting down; keep serving the previous snapshot.
		d.logger.Warn("discovery cycle aborted", "error", err)
		return DiscoveryResult{Duration: time.Since(start)}
	}

	// Merge in registry order so a later backend wins a shared model id.
	table := make(map[string]string)
	models := make([]routing.ModelInfo, 0)
	tags := make([]routing.ModelTag, 0)
	result := DiscoveryResult{}
	for i, draft := range drafts {
		for _, m := range draft.models {
			table[m.ID] = d.backends[i].URL
		}
		models = append(models, draft.models...)
		tags = append(tags, draft.tags...)
		result.Errors = append(result.Errors, draft.errs...)
	}

	d.cache.Replace(table)
	d.cache.ReplaceModels(models)
	d.cache.ReplaceTags(tags)

	result.Models = len(models)
	result.Tags = len(tags)
	result.Duration = time.Since(start)

	metrics.DiscoveryCycles.Inc()
	metrics.DiscoveryDuration.Observe(result.Duration.Seconds())
	metrics.ModelsInstalled.Set(float64(result.Models))
	metrics.TagsInstalled.Set(float64(result.Tags))

	d.logger.Info("model routing table refreshed",
		"models", result.Models,
		"routes", len(table),
		"tags", result.Tags,
		"failed_backends", len(result.Errors),
		"duration", result.Duration,
	)
	return result
}

func (d *Discoverer) discoverBackend(ctx context.Context, b Backend, draft *backendDraft) {
	var list routing.ModelList
	if err := d.fetchJSON(ctx, b, ModelsPath, &list); err != nil {
		draft.errs = append(draft.errs, d.failure(b, EndpointModels, err))
		return
	}
	draft.models = list.Data

	if !b.Tags {
		return
	}
	var tags routing.TagList
	if err := d.fetchJSON(ctx, b, TagsPath, &tags); err != nil {
		draft.errs = append(draft.errs, d.failure(b, EndpointTags, err))
		return
	}
	draft.tags = tags.Models
}

func (d *Discoverer) failure(b Backend, endpoint string, err error) *BackendError {
	be := &BackendError{Backend: b.Name, URL: b.URL, Endpoint: endpoint, Err: err}
	metrics.DiscoveryErrors.WithLabelValues(b.Name, endpoint).Inc()
	d.logger.Error("backend discovery failed",
		"backend", b.Name,
		"url", b.URL,
		"endpoint", endpoint,
		"error", err,
	)
	return be
}

// fetchJSON GETs b.URL+path under the per-call timeout and decodes a 2xx
// JSON body into v.
func (d *Discoverer) fetchJSON(ctx context.Context, b Backend, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	b.Auth.Apply(req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return fmt.Errorf("failed to read discovery response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discovery request returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse discovery response: %w", err)
	}
	return nil
}

// Start runs a cycle immediately and then every refresh interval until Stop
// is called or ctx is cancelled.
func (d *Discoverer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.New("discovery already running")
	}
	if d.interval <= 0 {
		return fmt.Errorf("invalid refresh interval %s", d.interval)
	}

	clog := cronLogger{d.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	id, err := c.AddFunc(fmt.Sprintf("@every %s", d.interval), func() {
		d.Refresh(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule discovery: %w", err)
	}

	c.Start()
	d.cron = c
	d.running = true
	done := make(chan struct{})
	d.done = done

	// First cycle goes through the wrapped job so it shares the skip guard.
	job := c.Entry(id).WrappedJob
	d.initial.Add(1)
	go func() {
		defer d.initial.Done()
		job.Run()
	}()

	d.logger.Info("discovery started",
		"interval", d.interval,
		"backends", len(d.backends),
	)

	go func() {
		select {
		case <-ctx.Done():
			d.stopRun(done)
		case <-done:
		}
	}()
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
}

// stopRun stops the run identified by done, if it is still the current one.
func (d *Discoverer) stopRun(done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == done {
		d.stopLocked()
	}
}

func (d *Discoverer) stopLocked() {
	if d.cron == nil || !d.running {
		return
	}
	<-d.cron.Stop().Done()
	d.initial.Wait()
	d.running = false
	close(d.done)
	d.done = nil
	d.logger.Info("discovery stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

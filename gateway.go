// Package llmrouter is a model-aware reverse proxy for LLM-serving backends.
//
// A Gateway periodically asks every configured backend which models it
// serves (see Discoverer), keeps the resulting model → backend table in a
// routing.Cache, and forwards OpenAI-compatible completion requests to the
// backend currently serving the requested model, adding that backend's
// credentials on the way out.
//
// Configuration is loaded from a YAML or JSON file with [LoadConfig] and
// checked with [ValidateConfig].
package llmrouter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/internal/metrics"
	"github.com/ferro-labs/llm-router/internal/requestlog"
	"github.com/ferro-labs/llm-router/routing"
)

// Forwarded sub-paths.
const (
	ChatCompletionsPath = "/v1/chat/completions"
	CompletionsPath     = "/v1/completions"
)

var (
	// ErrUnknownModel is returned when the requested model has no route,
	// including when the request body carries no usable model field.
	ErrUnknownModel = errors.New("unknown model")
	// ErrForwarding is returned when the backend could not be reached or
	// its response could not be read.
	ErrForwarding = errors.New("forwarding failed")
)

// Response is a backend response relayed unchanged to the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gateway routes completion requests to the backend serving the requested
// model.
type Gateway struct {
	config     Config
	cache      *routing.Cache
	discoverer *Discoverer
	client     *http.Client
	requestLog requestlog.Writer
}

// Option customises a Gateway.
type Option func(*gatewayOptions)

type gatewayOptions struct {
	forwardClient   *http.Client
	discoveryClient *http.Client
	requestLog      requestlog.Writer
}

// WithHTTPClient sets the client used to forward completion requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *gatewayOptions) { o.forwardClient = c }
}

// WithDiscoveryClient sets the client used for discovery queries.
func WithDiscoveryClient(c *http.Client) Option {
	return func(o *gatewayOptions) { o.discoveryClient = c }
}

// WithRequestLog sets the request log sink.
func WithRequestLog(w requestlog.Writer) Option {
	return func(o *gatewayOptions) { o.requestLog = w }
}

// New creates a Gateway for cfg. The routing cache starts empty; call
// Refresh or StartDiscovery to populate it. cfg is not validated here.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	var o gatewayOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.forwardClient == nil {
		o.forwardClient = newForwardClient()
	}
	if o.requestLog == nil {
		o.requestLog = requestlog.NoopWriter{}
	}

	cfg.Backends = append([]Backend(nil), cfg.Backends...)
	normalizeConfig(&cfg)

	cache := routing.NewCache()
	return &Gateway{
		config:     cfg,
		cache:      cache,
		discoverer: NewDiscoverer(cfg, cache, o.discoveryClient),
		client:     o.forwardClient,
		requestLog: o.requestLog,
	}, nil
}

// newForwardClient returns a client that relays bytes untouched: no
// transparent decompression and no redirect following.
func newForwardClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DisableCompression = true
	return &http.Client{
		Transport: t,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Config returns the gateway configuration.
func (g *Gateway) Config() Config { return g.config }

// Cache returns the routing cache.
func (g *Gateway) Cache() *routing.Cache { return g.cache }

// Refresh runs one discovery cycle synchronously.
func (g *Gateway) Refresh(ctx context.Context) DiscoveryResult {
	return g.discoverer.Refresh(ctx)
}

// StartDiscovery starts the periodic discovery loop.
func (g *Gateway) StartDiscovery(ctx context.Context) error {
	return g.discoverer.Start(ctx)
}

// Close stops discovery and closes the request log if it holds resources.
func (g *Gateway) Close() error {
	g.discoverer.Stop()
	if c, ok := g.requestLog.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Backend returns the first configured backend whose URL equals url.
func (g *Gateway) Backend(url string) (Backend, bool) {
	for _, b := range g.config.Backends {
		if b.URL == url {
			return b, true
		}
	}
	return Backend{}, false
}

// ExtractModel returns the string "model" field of a JSON object body. ok is
// false when the body is not a JSON object or the field is missing or not a
// string; model is then empty.
func ExtractModel(body []byte) (model string, ok bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return "", false
	}
	m := root.Get("model")
	if m.Type != gjson.String {
		return "", false
	}
	return m.Str, true
}

// Forward routes body to the backend serving its model and returns the
// backend's response. endpoint is the backend sub-path, e.g.
// ChatCompletionsPath. header is cloned before credentials are added.
func (g *Gateway) Forward(ctx context.Context, header http.Header, body []byte, endpoint string) (*Response, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	model, ok := ExtractModel(body)
	if !ok {
		log.Debug("request body has no usable model field", "endpoint", endpoint, "body_bytes", len(body))
	}

	backendURL, routed := g.cache.Lookup(model)
	if !routed {
		metrics.ForwardRequests.WithLabelValues("", endpoint, metrics.OutcomeUnknownModel).Inc()
		g.record(ctx, log, requestlog.Entry{
			Model:        model,
			Endpoint:     endpoint,
			StatusCode:   http.StatusBadRequest,
			ErrorMessage: "unknown model",
		}, start)
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	out := header.Clone()
	if out == nil {
		out = make(http.Header)
	}
	backend, found := g.Backend(backendURL)
	if found {
		backend.Auth.Apply(out)
	}
	name := backend.Name

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backendURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, g.forwardFailed(ctx, log, model, name, backendURL, endpoint, err, start)
	}
	req.Header = out

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.forwardFailed(ctx, log, model, name, backendURL, endpoint, err, start)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.forwardFailed(ctx, log, model, name, backendURL, endpoint, err, start)
	}

	elapsed := time.Since(start)
	metrics.ForwardRequests.WithLabelValues(name, endpoint, metrics.OutcomeRelayed).Inc()
	metrics.ForwardDuration.WithLabelValues(name, endpoint).Observe(elapsed.Seconds())
	g.record(ctx, log, requestlog.Entry{
		Model:      model,
		Backend:    name,
		BackendURL: backendURL,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
	}, start)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

func (g *Gateway) forwardFailed(ctx context.Context, log *slog.Logger, model, backend, backendURL, endpoint string, err error, start time.Time) error {
	log.Error("forwarding failed",
		"model", model,
		"backend", backend,
		"url", backendURL,
		"endpoint", endpoint,
		"error", err,
	)
	metrics.ForwardRequests.WithLabelValues(backend, endpoint, metrics.OutcomeForwardError).Inc()
	metrics.ForwardDuration.WithLabelValues(backend, endpoint).Observe(time.Since(start).Seconds())
	g.record(ctx, log, requestlog.Entry{
		Model:        model,
		Backend:      backend,
		BackendURL:   backendURL,
		Endpoint:     endpoint,
		StatusCode:   http.StatusInternalServerError,
		ErrorMessage: err.Error(),
	}, start)
	return fmt.Errorf("%w: %v", ErrForwarding, err)
}

func (g *Gateway) record(ctx context.Context, log *slog.Logger, entry requestlog.Entry, start time.Time) {
	entry.TraceID = logging.TraceIDFromContext(ctx)
	entry.DurationMS = time.Since(start).Milliseconds()
	if err := g.requestLog.Write(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("request log write failed", "error", err)
	}
}

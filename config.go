package llmrouter

import "time"

// Defaults applied when the corresponding config field is left at zero.
const (
	DefaultRequestTimeout       = 10
	DefaultDiscoveryConcurrency = 4
)

// Config holds the configuration for the router.
type Config struct {
	// RefreshInterval is the discovery period in seconds.
	RefreshInterval int `json:"refresh_interval" yaml:"refresh_interval"`
	// RequestTimeout bounds each discovery call, in seconds.
	RequestTimeout int `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	// DiscoveryConcurrency caps how many backends are queried at once.
	DiscoveryConcurrency int `json:"discovery_concurrency,omitempty" yaml:"discovery_concurrency,omitempty"`
	// Backends is the ordered backend registry. When two backends report the
	// same model the later one wins the route.
	Backends []Backend `json:"backends" yaml:"backends"`
	// RequestLog enables persistent logging of forwarded requests (optional).
	RequestLog *RequestLogConfig `json:"request_log,omitempty" yaml:"request_log,omitempty"`
}

// Backend is one upstream LLM server.
type Backend struct {
	Name string `json:"name" yaml:"name"`
	// URL is the base URL; it is also the routing table's value, so it must be
	// unique across backends.
	URL string `json:"url" yaml:"url"`
	// Tags enables discovery of Ollama-style /api/tags metadata.
	Tags bool  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Auth *Auth `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// RequestLogConfig selects the request log storage.
type RequestLogConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | postgres
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Interval returns the discovery period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// Timeout returns the per-call discovery timeout.
func (c Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// Concurrency returns the discovery fan-out limit.
func (c Config) Concurrency() int {
	if c.DiscoveryConcurrency <= 0 {
		return DefaultDiscoveryConcurrency
	}
	return c.DiscoveryConcurrency
}

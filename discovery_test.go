package llmrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferro-labs/llm-router/routing"
)

// newModelsBackend serves a fixed /v1/models body (and optional /api/tags body).
func newModelsBackend(t *testing.T, models, tags string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ModelsPath:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(models))
		case TagsPath:
			if tags == "" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(tags))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStatusBackend(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// closedURL returns the URL of a server that has already been shut down.
func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func newTestDiscoverer(backends ...Backend) (*Discoverer, *routing.Cache) {
	cache := routing.NewCache()
	d := NewDiscoverer(Config{RefreshInterval: 1, Backends: backends}, cache, nil)
	return d, cache
}

func routeKeys(c *routing.Cache) []string {
	var keys []string
	for k := range c.Routes() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestDiscoverer_InstallsModels(t *testing.T) {
	b := newModelsBackend(t, `{"object":"list","data":[{"id":"llama3","owned_by":"vllm"},{"id":"qwen2"}]}`, "")
	d, cache := newTestDiscoverer(Backend{Name: "b", URL: b.URL})

	res := d.Refresh(context.Background())

	if res.Models != 2 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, id := range []string{"llama3", "qwen2"} {
		if url, ok := cache.Lookup(id); !ok || url != b.URL {
			t.Errorf("Lookup(%q) = %q, %v; want %q", id, url, ok, b.URL)
		}
	}
	models := cache.Models()
	if len(models) != 2 || models[0].ID != "llama3" || models[1].ID != "qwen2" {
		t.Errorf("unexpected model list %+v", models)
	}
	var owner string
	if !models[0].Field("owned_by", &owner) || owner != "vllm" {
		t.Errorf("backend metadata not preserved: %+v", models[0])
	}
}

func TestDiscoverer_IsolatesFailingBackends(t *testing.T) {
	good := newModelsBackend(t, `{"data":[{"id":"good-model"}]}`, "")

	failures := map[string]string{
		"transport error": closedURL(t),
		"server error":    newStatusBackend(t, http.StatusInternalServerError).URL,
		"unauthorized":    newStatusBackend(t, http.StatusUnauthorized).URL,
		"malformed body":  newModelsBackend(t, `not json`, "").URL,
		"entry without id": newModelsBackend(t,
			`{"data":[{"id":"bad-model"},{"object":"model"}]}`, "").URL,
	}

	for name, badURL := range failures {
		t.Run(name, func(t *testing.T) {
			d, cache := newTestDiscoverer(
				Backend{Name: "bad", URL: badURL},
				Backend{Name: "good", URL: good.URL},
			)

			res := d.Refresh(context.Background())

			if len(res.Errors) != 1 {
				t.Fatalf("expected 1 backend error, got %v", res.Errors)
			}
			if res.Errors[0].Backend != "bad" || res.Errors[0].Endpoint != EndpointModels {
				t.Errorf("unexpected error %+v", res.Errors[0])
			}
			if got := routeKeys(cache); len(got) != 1 || got[0] != "good-model" {
				t.Errorf("routes = %v, want [good-model]", got)
			}
			if _, ok := cache.Lookup("bad-model"); ok {
				t.Error("failing backend leaked a route")
			}
		})
	}
}

func TestDiscoverer_LaterBackendWins(t *testing.T) {
	first := newModelsBackend(t, `{"data":[{"id":"shared"},{"id":"only-first"}]}`, "")
	second := newModelsBackend(t, `{"data":[{"id":"shared"}]}`, "")
	d, cache := newTestDiscoverer(
		Backend{Name: "first", URL: first.URL},
		Backend{Name: "second", URL: second.URL},
	)

	for i := 0; i < 5; i++ {
		d.Refresh(context.Background())
		if url, _ := cache.Lookup("shared"); url != second.URL {
			t.Fatalf("shared model routed to %q, want %q", url, second.URL)
		}
	}
	if url, _ := cache.Lookup("only-first"); url != first.URL {
		t.Errorf("only-first routed to %q", url)
	}
	if n := len(cache.Models()); n != 3 {
		t.Errorf("model list should keep duplicates, got %d entries", n)
	}
}

func TestDiscoverer_TableMatchesModelList(t *testing.T) {
	a := newModelsBackend(t, `{"data":[{"id":"a1"},{"id":"a2"}]}`, "")
	b := newModelsBackend(t, `{"data":[{"id":"b1"}]}`, "")
	d, cache := newTestDiscoverer(
		Backend{Name: "a", URL: a.URL},
		Backend{Name: "b", URL: b.URL},
		Backend{Name: "down", URL: closedURL(t)},
	)
	d.Refresh(context.Background())

	listed := make(map[string]bool)
	for _, m := range cache.Models() {
		listed[m.ID] = true
	}
	routes := cache.Routes()
	if len(routes) != len(listed) {
		t.Fatalf("routes %v and model list %v diverge", routes, listed)
	}
	for id := range routes {
		if !listed[id] {
			t.Errorf("route %q has no model list entry", id)
		}
	}
}

func TestDiscoverer_ReplacesPreviousSnapshot(t *testing.T) {
	var phase atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if phase.Load() == 0 {
			_, _ = w.Write([]byte(`{"data":[{"id":"old"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"new"}]}`))
	}))
	defer srv.Close()

	d, cache := newTestDiscoverer(Backend{Name: "s", URL: srv.URL})
	d.Refresh(context.Background())
	if _, ok := cache.Lookup("old"); !ok {
		t.Fatal("expected old model after first cycle")
	}

	phase.Store(1)
	d.Refresh(context.Background())
	if _, ok := cache.Lookup("old"); ok {
		t.Error("old model should be dropped by the second cycle")
	}
	if _, ok := cache.Lookup("new"); !ok {
		t.Error("new model missing after second cycle")
	}
}

func TestDiscoverer_Tags(t *testing.T) {
	withTags := newModelsBackend(t,
		`{"data":[{"id":"llama3:8b"}]}`,
		`{"models":[{"name":"llama3:8b","model":"llama3:8b","modified_at":"2026-05-01T10:00:00Z","size":4661224676,"digest":"365c0bd3c000","details":{"format":"gguf","family":"llama","parameter_size":"8.0B","quantization_level":"Q4_0"}}]}`)
	brokenTags := newModelsBackend(t, `{"data":[{"id":"phi3"}]}`, "")
	noTags := newModelsBackend(t, `{"data":[{"id":"mistral"}]}`, `{"models":[{"name":"ignored"}]}`)

	d, cache := newTestDiscoverer(
		Backend{Name: "ollama", URL: withTags.URL, Tags: true},
		Backend{Name: "broken", URL: brokenTags.URL, Tags: true},
		Backend{Name: "vllm", URL: noTags.URL},
	)
	res := d.Refresh(context.Background())

	if res.Tags != 1 {
		t.Fatalf("expected 1 tag, got %d", res.Tags)
	}
	if len(res.Errors) != 1 || res.Errors[0].Endpoint != EndpointTags || res.Errors[0].Backend != "broken" {
		t.Fatalf("expected one tags error from broken, got %v", res.Errors)
	}
	if _, ok := cache.Lookup("phi3"); !ok {
		t.Error("a tags failure must not drop the backend's models")
	}

	tag := cache.Tags()[0]
	if tag.Name != "llama3:8b" || tag.Size != 4661224676 || tag.Details.QuantizationLevel != "Q4_0" {
		t.Errorf("unexpected tag %+v", tag)
	}
	if string(tag.ModifiedAt) != `"2026-05-01T10:00:00Z"` {
		t.Errorf("modified_at = %s", tag.ModifiedAt)
	}
	if _, ok := cache.Lookup("ignored"); ok {
		t.Error("tags must never create routes")
	}
}

func TestDiscoverer_TagsPassModifiedAtThrough(t *testing.T) {
	srv := newModelsBackend(t,
		`{"data":[{"id":"qwen2"}]}`,
		`{"models":[{"name":"qwen2:7b","modified_at":""},{"name":"qwen2:1.5b"},{"name":"qwen2:72b","modified_at":"2024-06-11 09:00:00"}]}`)
	d, cache := newTestDiscoverer(Backend{Name: "ollama", URL: srv.URL, Tags: true})

	res := d.Refresh(context.Background())
	if len(res.Errors) != 0 || res.Tags != 3 {
		t.Fatalf("tags = %d, errors = %v; want 3 tags and no errors", res.Tags, res.Errors)
	}

	tags := cache.Tags()
	want := []string{`"modified_at":""`, "", `"modified_at":"2024-06-11 09:00:00"`}
	for i, tag := range tags {
		out, err := json.Marshal(tag)
		if err != nil {
			t.Fatalf("marshal %s: %v", tag.Name, err)
		}
		if want[i] == "" {
			if strings.Contains(string(out), "modified_at") {
				t.Errorf("%s: absent modified_at re-emitted: %s", tag.Name, out)
			}
			continue
		}
		if !strings.Contains(string(out), want[i]) {
			t.Errorf("%s: got %s, want it to contain %s", tag.Name, out, want[i])
		}
	}
}

func TestDiscoverer_AppliesBackendAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"private"}]}`))
	}))
	defer srv.Close()

	d, cache := newTestDiscoverer(Backend{
		Name: "private",
		URL:  srv.URL,
		Auth: &Auth{Type: AuthBearer, Token: "secret"},
	})
	res := d.Refresh(context.Background())
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors %v", res.Errors)
	}
	if _, ok := cache.Lookup("private"); !ok {
		t.Error("expected authenticated backend to be discovered")
	}
}

func TestDiscoverer_TimeoutIsIsolated(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	fast := newModelsBackend(t, `{"data":[{"id":"fast"}]}`, "")

	d, cache := newTestDiscoverer(
		Backend{Name: "slow", URL: slow.URL},
		Backend{Name: "fast", URL: fast.URL},
	)
	d.timeout = 100 * time.Millisecond

	res := d.Refresh(context.Background())
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error from slow, got %v", res.Errors)
	}
	if _, ok := cache.Lookup("fast"); !ok {
		t.Error("fast backend should be installed despite slow one timing out")
	}
}

func TestDiscoverer_CancelledCycleKeepsSnapshot(t *testing.T) {
	b := newModelsBackend(t, `{"data":[{"id":"kept"}]}`, "")
	d, cache := newTestDiscoverer(Backend{Name: "b", URL: b.URL})
	d.Refresh(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Refresh(ctx)

	if _, ok := cache.Lookup("kept"); !ok {
		t.Error("a cancelled cycle must not wipe the installed snapshot")
	}
}

func TestDiscoverer_StartRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":[{"id":"m"}]}`))
	}))
	defer srv.Close()

	cache := routing.NewCache()
	d := NewDiscoverer(Config{RefreshInterval: 3600, Backends: []Backend{{Name: "s", URL: srv.URL}}}, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if err := d.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := cache.Lookup("m"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first discovery cycle did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly one discovery call, got %d", calls.Load())
	}
}

func TestDiscoverer_StartRejectsZeroInterval(t *testing.T) {
	d := NewDiscoverer(Config{}, routing.NewCache(), nil)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected error for zero refresh interval")
	}
}

func (d *Discoverer) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func TestDiscoverer_RestartIgnoresEarlierContext(t *testing.T) {
	srv := newModelsBackend(t, `{"data":[{"id":"m"}]}`, "")
	d := NewDiscoverer(Config{RefreshInterval: 3600, Backends: []Backend{{Name: "s", URL: srv.URL}}}, routing.NewCache(), nil)

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	if err := d.Start(first); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Stop()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer d.Stop()

	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	if !d.isRunning() {
		t.Fatal("cancelling the first run's context stopped the second run")
	}
}

func TestDiscoverer_StopReleasesWatcher(t *testing.T) {
	srv := newModelsBackend(t, `{"data":[{"id":"m"}]}`, "")
	d := NewDiscoverer(Config{RefreshInterval: 3600, Backends: []Backend{{Name: "s", URL: srv.URL}}}, routing.NewCache(), nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	d.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not close the run's done channel")
	}
	if d.isRunning() {
		t.Error("discoverer still running after Stop")
	}
}

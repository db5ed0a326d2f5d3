// Package integration provides a test harness for end-to-end testing of the
// casewizard server. It starts the full HTTP stack with the remote case
// service client pointed at an in-process case service, an in-memory or
// Redis progress store and an event recorder.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/internal/events"
	"github.com/pitabwire/casewizard/internal/fixture"
	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/internal/progress"
	"github.com/pitabwire/casewizard/internal/remote"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/internal/transport"
	"github.com/pitabwire/casewizard/internal/wizard"
	"github.com/pitabwire/casewizard/model"
)

// Debounce delays used by the harness. They are short so tests can wait for
// saves on the real clock.
const (
	FieldDebounce = 20 * time.Millisecond
	NotesDebounce = 40 * time.Millisecond
)

// TestHarness encapsulates a fully wired server with an in-process case
// service.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Cases    *CaseService
	Client   *remote.Client
	Manager  *wizard.Manager
	Events   *events.Recorder
	Progress progress.Store
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logs     *observer.ObservedLogs
	Redis    *miniredis.Miniredis
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	fixtureDir       string
	handlerTimeout   time.Duration
	remoteTimeout    time.Duration
	failureThreshold int
	coolDown         time.Duration
	maxSessions      int
	redisProgress    bool
}

// WithFixtures loads the case service from dir instead of testdata/fixtures.
func WithFixtures(dir string) HarnessOption {
	return func(c *harnessConfig) { c.fixtureDir = dir }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithRemoteTimeout sets the HTTP timeout of the case service client.
func WithRemoteTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.remoteTimeout = d }
}

// WithCircuitBreaker sets the breaker failure threshold and cool-down.
func WithCircuitBreaker(threshold int, coolDown time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.failureThreshold = threshold
		c.coolDown = coolDown
	}
}

// WithMaxSessions caps the number of open sessions.
func WithMaxSessions(n int) HarnessOption {
	return func(c *harnessConfig) { c.maxSessions = n }
}

// WithRedisProgress stores resume positions in an in-process Redis.
func WithRedisProgress() HarnessOption {
	return func(c *harnessConfig) { c.redisProgress = true }
}

// NewTestHarness creates and starts a full server. It is cleaned up when the
// test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		fixtureDir:       filepath.Join(testdataDir(), "fixtures"),
		handlerTimeout:   10 * time.Second,
		remoteTimeout:    5 * time.Second,
		failureThreshold: 100,
		coolDown:         time.Minute,
	}
	for _, opt := range opts {
		opt(hc)
	}

	set, err := fixture.LoadDir(hc.fixtureDir)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := &TestHarness{
		t:        t,
		Cases:    newCaseService(t, fixture.NewBackend(set)),
		Events:   &events.Recorder{},
		Registry: prometheus.NewRegistry(),
		Logs:     logs,
		issuer:   newTokenIssuer(),
	}
	metrics := observability.InitMetrics(h.Registry)
	h.Metrics = metrics

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Remote.BaseURL = h.Cases.URL()
	cfg.Remote.Timeout = hc.remoteTimeout
	cfg.Remote.Retry = config.RetryConfig{
		MaxAttempts:       3,
		BackoffInitial:    5 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        20 * time.Millisecond,
	}
	cfg.Remote.CircuitBreaker = config.CircuitBreakerConfig{
		FailureThreshold: hc.failureThreshold,
		SuccessThreshold: 1,
		Timeout:          hc.coolDown,
	}

	h.Client, err = remote.New(remote.Options{
		Config:   cfg.Remote,
		Observer: metrics,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("remote client: %v", err)
	}

	var storeHealth observability.HealthChecker
	if hc.redisProgress {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		store := progress.NewRedisStore(client, time.Hour)
		h.Progress, storeHealth = store, store
	} else {
		h.Progress = progress.NewMemoryStore(time.Hour)
	}

	catalogue := schema.NewCache(h.Client, time.Minute, 16, schema.WithObserver(metrics))
	h.Manager = wizard.NewManager(wizard.Deps{
		API:       h.Client,
		Catalogue: catalogue,
		Progress:  h.Progress,
		Events:    h.Events,
		Observer:  metrics,
		Logger:    logger,
		Timing: wizard.Timing{
			FieldDebounce: FieldDebounce,
			NotesDebounce: NotesDebounce,
			SavedDisplay:  time.Second,
		},
	}, wizard.ManagerConfig{
		IdleTTL:     time.Hour,
		MaxSessions: hc.maxSessions,
	})
	t.Cleanup(h.Manager.Shutdown)

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Manager:       h.Manager,
		Catalogue:     catalogue,
		Logger:        logger,
		HealthHandler: observability.HandleHealth(h.Manager.Len),
		ReadyHandler: observability.HandleReady(observability.ReadinessChecks{
			BackendLoaded: func() bool { return true },
			CaseService:   h.Client,
			ProgressStore: storeHealth,
		}),
		MetricsHandler: promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}),
	})

	h.server = httptest.NewServer(metrics.MetricsMiddleware(observability.TracingMiddleware(router)))
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Token returns a bearer token for subject.
func (h *TestHarness) Token(subject string) string {
	return h.issuer.Token(TestClaims{SubjectID: subject, TenantID: "tenant-1"})
}

// Response is a completed request against the server.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// View decodes the body as a wizard view.
func (r *Response) View(t *testing.T) model.WizardView {
	t.Helper()
	var v model.WizardView
	if err := json.Unmarshal(r.Body, &v); err != nil {
		t.Fatalf("decode view: %v; body: %s", err, r.Body)
	}
	return v
}

// Error decodes the body as an error envelope.
func (r *Response) Error(t *testing.T) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		t.Fatalf("decode error: %v; body: %s", err, r.Body)
	}
	return body.Error
}

// Do sends a request with token as bearer credentials. An empty token sends
// none. body is JSON encoded when non-nil.
func (h *TestHarness) Do(t *testing.T, method, path, token string, body any, headers ...string) *Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
}

// OpenSession opens a wizard session on caseID and fails the test unless it
// is created.
func (h *TestHarness) OpenSession(t *testing.T, caseID, token string) model.WizardView {
	t.Helper()
	resp := h.Do(t, http.MethodPost, "/ui/cases/"+caseID+"/sessions", token, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session on %s: status %d: %s", caseID, resp.StatusCode, resp.Body)
	}
	return resp.View(t)
}

// Case returns the case as the case service currently holds it.
func (h *TestHarness) Case(t *testing.T, caseID string) model.Case {
	t.Helper()
	c, err := h.Cases.Backend.GetCase(context.Background(), nil, caseID)
	if err != nil {
		t.Fatalf("get case %s: %v", caseID, err)
	}
	return c
}

// FieldValue returns the stored value of key on caseID.
func (h *TestHarness) FieldValue(t *testing.T, caseID, key string) (any, bool) {
	t.Helper()
	for _, f := range h.Case(t, caseID).Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// Package remote implements the case service contract over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/model"
)

const maxResponseBytes = 10 << 20

// Observer receives client metrics. Implemented by observability.Metrics.
type Observer interface {
	RecordRemoteRequest(operation string, status int, duration time.Duration)
	RecordRemoteRetry(operation string)
	SetCircuitState(state float64)
}

// Options configure a Client. Routes default to the document named by
// Config.SpecFile, or DefaultRoutes when none is set.
type Options struct {
	Config     config.RemoteConfig
	Routes     Routes
	HTTPClient *http.Client
	Clock      clock.Clock
	Observer   Observer
	Logger     *zap.Logger
}

// Client is a model.CaseAPI backed by the remote case service.
type Client struct {
	baseURL  string
	routes   Routes
	retry    config.RetryConfig
	http     *http.Client
	breaker  *Breaker
	observer Observer
	logger   *zap.Logger
}

var _ model.CaseAPI = (*Client)(nil)

// New builds a Client. It fails when the route table cannot be resolved or
// no base URL is known.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	baseURL := cfg.BaseURL

	routes := opts.Routes
	if routes == nil && cfg.SpecFile != "" {
		loaded, docURL, err := LoadRoutes(cfg.SpecFile)
		if err != nil {
			return nil, err
		}
		routes = loaded
		if baseURL == "" {
			baseURL = docURL
		}
	}
	if routes == nil {
		routes = DefaultRoutes()
	}
	if baseURL == "" {
		return nil, fmt.Errorf("remote: no base URL configured")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		routes:   routes,
		retry:    cfg.Retry,
		http:     httpClient,
		observer: opts.Observer,
		logger:   logger,
	}
	cb := cfg.CircuitBreaker
	c.breaker = NewBreaker(opts.Clock, cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout, c.breakerChanged)
	return c, nil
}

// GetCase fetches a case.
func (c *Client) GetCase(ctx context.Context, rctx *model.RequestContext, caseID string) (model.Case, error) {
	var out model.Case
	err := c.call(ctx, rctx, OpGetCase, []string{caseID}, nil, &out)
	return out, err
}

// GetProcedureSchema fetches the schema of a procedure.
func (c *Client) GetProcedureSchema(ctx context.Context, rctx *model.RequestContext, code string) (model.ProcedureSchema, error) {
	var out model.ProcedureSchema
	err := c.call(ctx, rctx, OpGetProcedureSchema, []string{code}, nil, &out)
	return out, err
}

// ListProcedures fetches the procedure catalogue.
func (c *Client) ListProcedures(ctx context.Context, rctx *model.RequestContext) ([]model.ProcedureSummary, error) {
	var out []model.ProcedureSummary
	err := c.call(ctx, rctx, OpListProcedures, nil, nil, &out)
	return out, err
}

// BindProcedure binds a procedure to a case.
func (c *Client) BindProcedure(ctx context.Context, rctx *model.RequestContext, caseID, code string) error {
	return c.call(ctx, rctx, OpBindProcedure, []string{caseID}, map[string]string{"code": code}, nil)
}

// PutField upserts one field value. An empty response body echoes the
// request.
func (c *Client) PutField(ctx context.Context, rctx *model.RequestContext, caseID, key string, value any) (model.FieldEntry, error) {
	out := model.FieldEntry{Key: key, Value: value}
	err := c.call(ctx, rctx, OpPutField, []string{caseID, key}, map[string]any{"value": value}, &out)
	return out, err
}

// PutNotes replaces the case notes.
func (c *Client) PutNotes(ctx context.Context, rctx *model.RequestContext, caseID, notes string) error {
	return c.call(ctx, rctx, OpPutNotes, []string{caseID}, map[string]string{"notes": notes}, nil)
}

// Validate runs server-side validation of a case.
func (c *Client) Validate(ctx context.Context, rctx *model.RequestContext, caseID string) (model.ValidationResult, error) {
	var out model.ValidationResult
	err := c.call(ctx, rctx, OpValidate, []string{caseID}, nil, &out)
	return out, err
}

// Submit submits a case.
func (c *Client) Submit(ctx context.Context, rctx *model.RequestContext, caseID string) error {
	return c.call(ctx, rctx, OpSubmit, []string{caseID}, nil, nil)
}

// HealthCheck fails while the circuit breaker is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return fmt.Errorf("case service circuit breaker is open")
	}
	return nil
}

// call runs one contract operation with tracing, retry and error decoding.
func (c *Client) call(ctx context.Context, rctx *model.RequestContext, op string, params []string, in, out any) (err error) {
	route, ok := c.routes[op]
	if !ok {
		return fmt.Errorf("remote: operation %q has no route", op)
	}

	var caseID string
	if len(params) > 0 && op != OpGetProcedureSchema {
		caseID = params[0]
	}
	ctx, span := observability.StartRemoteSpan(ctx, op, caseID)
	defer func() { observability.EndSpanWithError(span, err) }()

	var body []byte
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: marshal %s: %w", op, err)
		}
	}
	reqURL := c.baseURL + route.expand(params...)

	attempts := 1
	if isIdempotentMethod(route.Method) && c.retry.MaxAttempts > 1 {
		attempts = c.retry.MaxAttempts
	}

	var res result
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.recordRetry(op)
			select {
			case <-ctx.Done():
				return model.NewBackendTimeoutError()
			case <-time.After(backoff(c.retry, attempt)):
			}
		}

		span.SetAttributes(observability.AttrAttempt.Int(attempt+1))
		res = c.once(ctx, rctx, op, route.Method, reqURL, body)
		if !res.retryable || attempt == attempts-1 {
			break
		}
		c.logger.Debug("remote: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("status", res.status),
		)
	}

	if res.err != nil {
		return c.fail(ctx, op, res.status, res.err)
	}
	if res.status >= 300 {
		return c.fail(ctx, op, res.status, decodeError(res.status, res.body))
	}
	if out != nil && len(bytes.TrimSpace(res.body)) > 0 {
		if err := json.Unmarshal(res.body, out); err != nil {
			return fmt.Errorf("remote: decode %s response: %w", op, err)
		}
	}
	return nil
}

type result struct {
	status    int
	body      []byte
	err       error
	retryable bool
}

func (c *Client) once(ctx context.Context, rctx *model.RequestContext, op, method, reqURL string, body []byte) result {
	if !c.breaker.Allow() {
		return result{err: model.NewBackendUnavailableError()}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return result{err: fmt.Errorf("remote: build %s request: %w", op, err)}
	}
	setHeaders(req.Header, rctx, body != nil)
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		c.recordRequest(op, 0, time.Since(start))
		if isTimeout(err) {
			return result{err: model.NewBackendTimeoutError(), retryable: ctx.Err() == nil}
		}
		return result{err: model.NewBackendUnavailableError(), retryable: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.recordRequest(op, resp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.Failure()
		return result{status: resp.StatusCode, err: model.NewBackendUnavailableError(), retryable: ctx.Err() == nil}
	}

	if resp.StatusCode >= 500 {
		c.breaker.Failure()
	} else {
		c.breaker.Success()
	}
	return result{status: resp.StatusCode, body: data, retryable: isRetryableStatus(resp.StatusCode)}
}

func (c *Client) fail(ctx context.Context, op string, status int, err error) error {
	env := model.AsEnvelope(err)
	if env.TraceID == "" {
		env.TraceID = observability.TraceIDFromContext(ctx)
	}
	fields := []zap.Field{
		zap.String("operation", op),
		zap.Int("status", status),
		zap.String("code", env.Code),
	}
	if status >= 400 && status < 500 {
		c.logger.Warn("remote: request rejected", fields...)
	} else {
		c.logger.Error("remote: request failed", append(fields, zap.String("message", env.Message))...)
	}
	return env
}

func (c *Client) breakerChanged(s BreakerState) {
	c.logger.Warn("remote: circuit breaker state changed", zap.String("state", s.String()))
	if c.observer == nil {
		return
	}
	switch s {
	case BreakerOpen:
		c.observer.SetCircuitState(observability.CircuitOpen)
	case BreakerHalfOpen:
		c.observer.SetCircuitState(observability.CircuitHalfOpen)
	default:
		c.observer.SetCircuitState(observability.CircuitClosed)
	}
}

func (c *Client) recordRequest(op string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.RecordRemoteRequest(op, status, d)
	}
}

func (c *Client) recordRetry(op string) {
	if c.observer != nil {
		c.observer.RecordRemoteRetry(op)
	}
}

// setHeaders forwards the caller's credentials verbatim.
func setHeaders(h http.Header, rctx *model.RequestContext, hasBody bool) {
	h.Set("Accept", "application/json")
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	if rctx == nil {
		return
	}
	if rctx.Token != "" {
		h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
	}
	if rctx.Cookie != "" {
		h.Set("Cookie", sanitizeHeader(rctx.Cookie))
	}
	if rctx.CorrelationID != "" {
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	if rctx.TenantID != "" {
		h.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
	}
	if rctx.Locale != "" {
		h.Set("Accept-Language", sanitizeHeader(rctx.Locale))
	}
}

// sanitizeHeader strips CR and LF.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// decodeError turns an error response into an envelope. Both a flat
// {code,message} body and one nested under "error" are accepted; unknown
// codes are kept as-is.
func decodeError(status int, body []byte) *model.ErrorEnvelope {
	var flat struct {
		Code    string             `json:"code"`
		Message string             `json:"message"`
		Details []model.FieldError `json:"details"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil {
		if flat.Code != "" {
			return &model.ErrorEnvelope{Code: flat.Code, Message: flat.Message, Details: flat.Details}
		}
		if flat.Error != nil && flat.Error.Code != "" {
			return &model.ErrorEnvelope{Code: flat.Error.Code, Message: flat.Error.Message}
		}
	}

	msg := fmt.Sprintf("case service returned status %d", status)
	switch {
	case status == http.StatusUnauthorized:
		return &model.ErrorEnvelope{Code: model.ErrUnauthorized, Message: msg}
	case status == http.StatusForbidden:
		return &model.ErrorEnvelope{Code: model.ErrForbidden, Message: msg}
	case status == http.StatusNotFound:
		return &model.ErrorEnvelope{Code: model.ErrNotFound, Message: msg}
	case status == http.StatusConflict:
		return &model.ErrorEnvelope{Code: model.ErrConflict, Message: msg}
	case status == http.StatusTooManyRequests:
		return &model.ErrorEnvelope{Code: model.ErrRateLimited, Message: msg}
	case status == http.StatusGatewayTimeout:
		return &model.ErrorEnvelope{Code: model.ErrBackendTimeout, Message: msg}
	case status >= 500:
		return &model.ErrorEnvelope{Code: model.ErrBackendUnavailable, Message: msg}
	default:
		return &model.ErrorEnvelope{Code: model.ErrBadRequest, Message: msg}
	}
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}

package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/casewizard/internal/remote"
	"github.com/pitabwire/casewizard/model"
)

func TestSecurity_credentialsRequired(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.Do(t, http.MethodPost, "/ui/cases/case-open/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.Cases.CallCount(remote.OpGetCase), "unauthenticated requests must not reach the case service")

	resp = h.Do(t, http.MethodGet, "/ui/procedures", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSecurity_credentialsForwarded(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token("clerk-1")

	h.OpenSession(t, "case-open", token)

	req := h.Cases.LastRequest(remote.OpGetCase)
	require.NotNil(t, req)
	assert.Equal(t, token, req.bearer())
	assert.Equal(t, "tenant-1", req.Headers.Get("X-Tenant-Id"))
}

func TestSecurity_correlationIDPropagated(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token("clerk-1")

	resp := h.Do(t, http.MethodPost, "/ui/cases/case-open/sessions", token, nil,
		"X-Correlation-Id", "corr-integration-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "corr-integration-1", resp.Header.Get("X-Correlation-Id"))

	req := h.Cases.LastRequest(remote.OpGetCase)
	require.NotNil(t, req)
	assert.Equal(t, "corr-integration-1", req.Headers.Get("X-Correlation-Id"))
}

func TestSecurity_sessionsAreOwnerScoped(t *testing.T) {
	h := NewTestHarness(t)
	owner := h.Token("clerk-1")
	intruder := h.Token("clerk-2")

	v := h.OpenSession(t, "case-open", owner)

	for _, probe := range []struct {
		method, suffix string
		body           any
	}{
		{http.MethodGet, "", nil},
		{http.MethodPut, "/fields/consignee_name", map[string]any{"value": "Evil Corp"}},
		{http.MethodPost, "/submit", nil},
		{http.MethodDelete, "", nil},
	} {
		resp := h.Do(t, probe.method, sessionPath(v, probe.suffix), intruder, probe.body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", probe.method, probe.suffix)
		assert.Equal(t, model.ErrSessionNotFound, resp.Error(t).Code)
	}

	// The owner's session is untouched.
	resp := h.Do(t, http.MethodGet, sessionPath(v, ""), owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f, _ := fieldOf(resp.View(t), "consignee_name")
	assert.Equal(t, "ACME GmbH", f.Value)
	assert.Zero(t, h.Cases.CallCount(remote.OpPutField))
}

func TestSecurity_malformedBodyRejected(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Token("clerk-1")
	v := h.OpenSession(t, "case-open", token)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPut,
		h.BaseURL()+sessionPath(v, "/fields/consignee_name"), strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, h.Cases.CallCount(remote.OpPutField))
}

func TestSecurity_responseHeaders(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.Do(t, http.MethodGet, "/ui/health", "", nil, "Origin", "http://localhost:3000")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = h.Do(t, http.MethodGet, "/ui/health", "", nil, "Origin", "https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSecurity_sessionLimit(t *testing.T) {
	h := NewTestHarness(t, WithMaxSessions(1))
	token := h.Token("clerk-1")

	h.OpenSession(t, "case-open", token)
	resp := h.Do(t, http.MethodPost, "/ui/cases/case-ready/sessions", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, model.ErrRateLimited, resp.Error(t).Code)
}

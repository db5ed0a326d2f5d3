package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/casewizard/internal/fixture"
	"github.com/pitabwire/casewizard/internal/remote"
	"github.com/pitabwire/casewizard/internal/transport"
)

// CaseService is an HTTP case service backed by a fixture.Backend. It serves
// the default contract routes, records every request and can be told to fail
// or stall individual operations.
type CaseService struct {
	t       *testing.T
	server  *httptest.Server
	Backend *fixture.Backend

	mu       sync.Mutex
	received map[string][]*RecordedRequest
	faults   map[string][]fault
}

// RecordedRequest captures a request received by the case service.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       map[string]any
	ReceivedAt time.Time
}

type fault struct {
	status int
	body   any
	delay  time.Duration
}

func newCaseService(t *testing.T, backend *fixture.Backend) *CaseService {
	t.Helper()
	cs := &CaseService{
		t:        t,
		Backend:  backend,
		received: make(map[string][]*RecordedRequest),
		faults:   make(map[string][]fault),
	}

	r := chi.NewRouter()
	routes := remote.DefaultRoutes()
	handle := func(op string, h func(w http.ResponseWriter, r *http.Request, body map[string]any)) {
		route := routes[op]
		r.Method(route.Method, route.Path, cs.operation(op, h))
	}

	handle(remote.OpGetCase, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		c, err := backend.GetCase(r.Context(), nil, chi.URLParam(r, "caseId"))
		reply(w, r, c, err)
	})
	handle(remote.OpGetProcedureSchema, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		p, err := backend.GetProcedureSchema(r.Context(), nil, chi.URLParam(r, "code"))
		reply(w, r, p, err)
	})
	handle(remote.OpListProcedures, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		list, err := backend.ListProcedures(r.Context(), nil)
		reply(w, r, list, err)
	})
	handle(remote.OpBindProcedure, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		code, _ := body["code"].(string)
		reply(w, r, nil, backend.BindProcedure(r.Context(), nil, chi.URLParam(r, "caseId"), code))
	})
	handle(remote.OpPutField, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		entry, err := backend.PutField(r.Context(), nil, chi.URLParam(r, "caseId"), chi.URLParam(r, "fieldKey"), body["value"])
		reply(w, r, entry, err)
	})
	handle(remote.OpPutNotes, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		notes, _ := body["notes"].(string)
		reply(w, r, nil, backend.PutNotes(r.Context(), nil, chi.URLParam(r, "caseId"), notes))
	})
	handle(remote.OpValidate, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		res, err := backend.Validate(r.Context(), nil, chi.URLParam(r, "caseId"))
		reply(w, r, res, err)
	})
	handle(remote.OpSubmit, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		reply(w, r, nil, backend.Submit(r.Context(), nil, chi.URLParam(r, "caseId")))
	})

	cs.server = httptest.NewServer(r)
	t.Cleanup(cs.server.Close)
	return cs
}

// URL returns the base URL of the case service.
func (cs *CaseService) URL() string {
	return cs.server.URL
}

// FailNext makes the next n calls of op answer with status and an error
// body carrying code.
func (cs *CaseService) FailNext(op string, n, status int, code string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for range n {
		cs.faults[op] = append(cs.faults[op], fault{
			status: status,
			body:   map[string]any{"code": code, "message": fmt.Sprintf("injected %s failure", op)},
		})
	}
}

// StallNext delays the next call of op before it is served normally.
func (cs *CaseService) StallNext(op string, d time.Duration) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.faults[op] = append(cs.faults[op], fault{delay: d})
}

// Requests returns the requests received for op.
func (cs *CaseService) Requests(op string) []*RecordedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]*RecordedRequest(nil), cs.received[op]...)
}

// CallCount returns how many requests op received.
func (cs *CaseService) CallCount(op string) int {
	return len(cs.Requests(op))
}

// LastRequest returns the most recent request for op, or nil.
func (cs *CaseService) LastRequest(op string) *RecordedRequest {
	reqs := cs.Requests(op)
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func (cs *CaseService) operation(op string, h func(http.ResponseWriter, *http.Request, map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
		}

		cs.mu.Lock()
		cs.received[op] = append(cs.received[op], &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Headers:    r.Header.Clone(),
			Body:       body,
			ReceivedAt: time.Now(),
		})
		var f *fault
		if queue := cs.faults[op]; len(queue) > 0 {
			f = &queue[0]
			cs.faults[op] = queue[1:]
		}
		cs.mu.Unlock()

		if f != nil {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-r.Context().Done():
					return
				}
			}
			if f.status != 0 {
				transport.WriteJSON(w, f.status, f.body)
				return
			}
		}
		h(w, r, body)
	}
}

// reply writes v, or err as a contract error body.
func reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	transport.WriteJSON(w, http.StatusOK, v)
}

// bearer returns the bearer token of a recorded request.
func (rr *RecordedRequest) bearer() string {
	return strings.TrimPrefix(rr.Headers.Get("Authorization"), "Bearer ")
}

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/internal/wizard"
	"github.com/pitabwire/casewizard/model"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	manager   *wizard.Manager
	catalogue *schema.Cache
	logger    *zap.Logger

	// Hosts allowed to open the session WebSocket from a browser.
	originPatterns []string
	redactFields   []string
}

type editRequest struct {
	Value any `json:"value"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type bindRequest struct {
	Code string `json:"code"`
}

type dismissRequest struct {
	Kind string `json:"kind"`
}

type mappingReadyResponse struct {
	SessionID    string `json:"session_id"`
	MappingReady bool   `json:"mapping_ready"`
}

func (h *handlers) listProcedures(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	list, err := h.catalogue.Procedures(r.Context(), rctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.ProcedureSummary{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"procedures": list})
}

func (h *handlers) openSession(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	caseID := chi.URLParam(r, "caseId")

	s, err := h.manager.Open(r.Context(), rctx, caseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/ui/sessions/"+s.ID())
	WriteJSON(w, http.StatusCreated, s.View())
}

func (h *handlers) getView(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.View())
}

func (h *handlers) closeSession(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := h.manager.Close(chi.URLParam(r, "sessionId"), rctx); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) editField(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "fieldKey")
	if ce := h.logger.Check(zap.DebugLevel, "field edit received"); ce != nil {
		ce.Write(
			zap.String("field_key", key),
			zap.Any("payload", observability.RedactBody(map[string]any{key: req.Value}, h.redactFields)),
		)
	}
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.Edit(ctx, key, req.Value)
	})
}

func (h *handlers) editNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.EditNotes(ctx, req.Notes)
	})
}

func (h *handlers) next(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.Next(ctx)
	})
}

func (h *handlers) prev(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.Prev(ctx)
	})
}

func (h *handlers) goToStep(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "stepKey")
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.GoToStep(ctx, key)
	})
}

func (h *handlers) validate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.Validate(ctx)
	})
}

func (h *handlers) bindProcedure(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		WriteError(w, r, model.NewBadRequestError("code is required"))
		return
	}
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.BindProcedure(ctx, req.Code)
	})
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.Submit(ctx)
	})
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.Reload(ctx)
	})
}

func (h *handlers) dismissBanner(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(_ context.Context, s *wizard.Session) (model.WizardView, error) {
		return s.DismissBanner(req.Kind), nil
	})
}

func (h *handlers) mappingReady(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, mappingReadyResponse{SessionID: s.ID(), MappingReady: s.MappingReady()})
}

// run resolves the session and writes the view returned by op.
func (h *handlers) run(w http.ResponseWriter, r *http.Request, op func(context.Context, *wizard.Session) (model.WizardView, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	v, err := op(r.Context(), s)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*wizard.Session, bool) {
	rctx := model.MustRequestContext(r.Context())
	s, err := h.manager.Get(chi.URLParam(r, "sessionId"), rctx)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return s, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
	return false
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.RequestLogger(r.Context(), h.logger)
	if StatusFor(model.CodeOf(err)) >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	WriteError(w, r, err)
}

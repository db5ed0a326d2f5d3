package transport

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/internal/wizard"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Manager   *wizard.Manager
	Catalogue *schema.Cache
	Logger    *zap.Logger

	// Optional; simple defaults are served when nil.
	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// credential middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Method(http.MethodGet, "/ui/health", orDefault(deps.HealthHandler, "ok"))
	r.Method(http.MethodGet, "/ui/ready", orDefault(deps.ReadyHandler, "ready"))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	h := &handlers{
		manager:        deps.Manager,
		catalogue:      deps.Catalogue,
		logger:         logger,
		originPatterns: originHosts(deps.Config.Server.CORS.AllowedOrigins),
		redactFields:   deps.Config.Observability.RedactFields,
	}

	r.Group(func(r chi.Router) {
		r.Use(ForwardCredentials(deps.Config.Identity))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/ui/procedures", h.listProcedures)
		r.Post("/ui/cases/{caseId}/sessions", h.openSession)

		r.Route("/ui/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.getView)
			r.Delete("/", h.closeSession)
			r.Put("/fields/{fieldKey}", h.editField)
			r.Put("/notes", h.editNotes)
			r.Post("/next", h.next)
			r.Post("/prev", h.prev)
			r.Post("/steps/{stepKey}", h.goToStep)
			r.Post("/validate", h.validate)
			r.Post("/procedure", h.bindProcedure)
			r.Post("/submit", h.submit)
			r.Post("/reload", h.reload)
			r.Post("/banner/dismiss", h.dismissBanner)
			r.Get("/mapping-ready", h.mappingReady)
			r.Get("/ws", h.webSocket)
		})
	})

	return r
}

func orDefault(h http.Handler, status string) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": status})
	})
}

// originHosts converts CORS origins to the host patterns the WebSocket
// handshake checks.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"carecore/pkg/platform/middleware/metadata"
	"carecore/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// NewRouter wires the middleware stack and the v1 routes. metrics, when
// non-nil, is served at /metrics outside the request timeout.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(metadata.ClientMetadata)
	r.Use(chimiddleware.Recoverer)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout))
		r.Use(chimiddleware.AllowContentType("application/json"))
		h.Register(r)
	})
	return r
}

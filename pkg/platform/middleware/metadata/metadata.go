package metadata

import (
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"carecore/pkg/requestcontext"
)

// ClientMetadata copies the caller address and chi's request id into the
// transport-independent request context. Mount it after
// chimiddleware.RequestID.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientIP(r.Context(), ClientIPFromRequest(r))
		if id := chimiddleware.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then
// X-Real-IP, then RemoteAddr without its port.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}

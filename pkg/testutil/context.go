package testutil

import (
	"net/http"

	"carecore/pkg/domain"
	"carecore/pkg/requestcontext"
)

// WithActor attaches an already authenticated actor to the request, as an
// upstream gateway would. The pipeline then skips token validation.
func WithActor(req *http.Request, actor domain.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

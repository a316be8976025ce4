package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"carecore/pkg/requestcontext"
)

func TestMiddlewarePinsOneNowPerRequest(t *testing.T) {
	var first, second time.Time
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first = requestcontext.Now(r.Context())
		time.Sleep(2 * time.Millisecond)
		second = requestcontext.Now(r.Context())
	}))

	before := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, first, second)
	assert.False(t, first.Before(before))
}

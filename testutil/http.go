package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signalcove/signalcove-server/cmd/utils"
)

// AuthedRequest builds a request carrying the user ID the auth middleware
// would have injected.
func AuthedRequest(t *testing.T, method, target string, body io.Reader, userID uint) *http.Request {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	ctx := context.WithValue(req.Context(), utils.UserIDKey, userID)
	return req.WithContext(ctx)
}

// Package sdk provides the mixlab Go SDK: an HTTP client that carries the
// user's session and transparently renews it when access tokens expire.
package sdk

import (
	"net/http"
	"strings"

	"github.com/mixlab/mixlab/sdk/go/headers"
)

type bearerAuth struct {
	token string
}

// Apply sets the bearer credential. An empty token leaves the request anonymous.
func (b bearerAuth) Apply(req *http.Request) {
	if b.token == "" {
		return
	}
	req.Header.Set(headers.Authorization, "Bearer "+b.token)
}

func stripBearerPrefix(token string) string {
	t := strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(t), "bearer ") {
		t = strings.TrimSpace(t[7:])
	}
	return t
}

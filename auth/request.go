package auth

import (
	"net/http"
	"strings"
)

// CredentialFromRequest extracts the credential of a handshake or API request: the "token" query parameter,
// or else an "Authorization: Bearer" header. The provider comes from the "provider" query parameter.
func CredentialFromRequest(r *http.Request) (credential, provider string) {
	q := r.URL.Query()
	provider = q.Get("provider")
	if token := q.Get("token"); token != "" {
		return token, provider
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), provider
	}
	return "", provider
}

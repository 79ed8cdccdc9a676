// Package auth resolves the caller identity carried by bearer tokens. Token
// issuance belongs to the external identity provider; Issue exists for tools
// and tests that need a token signed with the shared secret.
package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	RoleClient = "client"
	RoleStaff  = "staff"
)

type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func CurrentUser(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || identity.UserID == "" {
		return Identity{}, false
	}
	return identity, true
}

func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// TokenFromRequest reads the Authorization header, falling back to the token
// query parameter used by browser socket clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if token := BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// internal/validators/auth.go
package validators

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// Auth verifies a bearer token from the Authorization header. A missing or
// unparseable token is Unauthenticated; a valid token lacking a required
// scope is Unauthorized.
type Auth struct {
	secret        []byte
	requiredScope string
	priority      uint8
}

// NewAuth creates an auth validator verifying HMAC-signed tokens.
// requiredScope may be empty when any valid token suffices.
func NewAuth(secret []byte, requiredScope string, priority uint8) *Auth {
	return &Auth{secret: secret, requiredScope: requiredScope, priority: priority}
}

// Name returns the validator name.
func (v *Auth) Name() string { return "auth" }

// ResourceClass reports the concurrency budget this validator consumes.
func (v *Auth) ResourceClass() pipeline.ResourceClass { return pipeline.CPUBound }

// Priority is the ordering tie-break hint.
func (v *Auth) Priority() uint8 { return v.priority }

// Validate checks the bearer token signature and scope claim.
func (v *Auth) Validate(_ context.Context, req *pipeline.Request) error {
	header := req.Header("Authorization")
	if header == "" {
		return pipeline.NewError(pipeline.KindUnauthenticated, v.Name(), "missing Authorization header")
	}

	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return pipeline.NewError(pipeline.KindUnauthenticated, v.Name(), "Authorization header is not a bearer token")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return pipeline.NewError(pipeline.KindUnauthenticated, v.Name(), "invalid token")
	}

	if v.requiredScope != "" && !hasScope(claims, v.requiredScope) {
		return pipeline.NewError(pipeline.KindUnauthorized, v.Name(), "missing required scope")
	}
	return nil
}

func hasScope(claims jwt.MapClaims, want string) bool {
	raw, ok := claims["scope"]
	if !ok {
		return false
	}
	scopes, ok := raw.(string)
	if !ok {
		return false
	}
	for _, s := range strings.Fields(scopes) {
		if s == want {
			return true
		}
	}
	return false
}

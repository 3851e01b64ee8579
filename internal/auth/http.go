// ABOUTME: HTTP middleware that resolves the caller's identity
// ABOUTME: Uses a bearer JWT when a secret is configured, otherwise a trusted header

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultIdentityHeader carries the caller identity when no JWT secret is configured.
const DefaultIdentityHeader = "X-User-Address"

// ErrNoIdentity is returned when a request carries no usable identity.
var ErrNoIdentity = errors.New("identity is required")

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, status int, message string)

// Resolver extracts an Identity from a request.
type Resolver struct {
	verifier TokenVerifier
	header   string
}

// NewResolver returns a Resolver. A nil verifier means identities come from header.
func NewResolver(verifier TokenVerifier, header string) *Resolver {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return &Resolver{verifier: verifier, header: header}
}

// Header returns the header name consulted when no verifier is set.
func (r *Resolver) Header() string {
	return r.header
}

// Resolve returns the request's identity.
func (r *Resolver) Resolve(req *http.Request) (*Identity, error) {
	if r.verifier == nil {
		id := strings.TrimSpace(req.Header.Get(r.header))
		if id == "" {
			return nil, ErrNoIdentity
		}
		return &Identity{ID: id, Source: SourceHeader}, nil
	}

	token, errMsg := extractBearerToken(req.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, ErrNoIdentity
	}
	id, err := r.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Identity{ID: id, Source: SourceToken}, nil
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireIdentity rejects requests without a resolvable identity with 401
// and attaches the Identity to the context of those it lets through.
func RequireIdentity(resolver *Resolver, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				msg := ErrNoIdentity.Error()
				switch {
				case errors.Is(err, ErrExpiredToken):
					msg = "token expired"
				case !errors.Is(err, ErrNoIdentity):
					msg = "invalid token"
				}
				writeErr(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

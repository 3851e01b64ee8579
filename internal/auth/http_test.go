// ABOUTME: Tests for identity resolution and the RequireIdentity middleware
// ABOUTME: Covers header mode, bearer JWT mode, and 401 responses

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureIdentity(got **Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func plainErrorWriter(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}

func TestResolver_HeaderMode(t *testing.T) {
	resolver := NewResolver(nil, "")
	assert.Equal(t, DefaultIdentityHeader, resolver.Header())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := resolver.Resolve(req)
	assert.ErrorIs(t, err, ErrNoIdentity)

	req.Header.Set("X-User-Address", "  0xabc ")
	id, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", id.ID)
	assert.Equal(t, SourceHeader, id.Source)
}

func TestResolver_CustomHeader(t *testing.T) {
	resolver := NewResolver(nil, "X-Wallet")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Wallet", "0xdef")

	id, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "0xdef", id.ID)
}

func TestResolver_TokenModeIgnoresHeader(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	resolver := NewResolver(tokens, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Address", "0xspoofed")
	_, err := resolver.Resolve(req)
	assert.ErrorIs(t, err, ErrNoIdentity)

	token, err := tokens.Issue("0xabc", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	id, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", id.ID)
	assert.Equal(t, SourceToken, id.Source)
}

func TestRequireIdentity(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	mw := RequireIdentity(NewResolver(tokens, ""), plainErrorWriter)

	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := tokens.Issue("0xabc", time.Hour)
	require.NoError(t, err)
	tokens.now = time.Now
	valid, err := tokens.Issue("0xabc", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing", "", http.StatusUnauthorized, "identity is required"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "identity is required"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"valid", "Bearer " + valid, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Identity
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			mw(captureIdentity(&got)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, "0xabc", got.ID)
			}
		})
	}
}

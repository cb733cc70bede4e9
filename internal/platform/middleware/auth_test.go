package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHMACValidatorRoundTrip(t *testing.T) {
	v := NewHMACValidator("test-signing-key")

	token, err := v.IssueToken("ops-user", "operations", time.Minute)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-user", claims.Subject)
	assert.Equal(t, "operations", claims.Scope)
}

func TestHMACValidatorRejectsExpiredToken(t *testing.T) {
	v := NewHMACValidator("test-signing-key")

	token, err := v.IssueToken("ops-user", "operations", -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(token)
	assert.Error(t, err)
}

func TestHMACValidatorRejectsWrongKey(t *testing.T) {
	issuer := NewHMACValidator("key-one")
	verifier := NewHMACValidator("key-two")

	token, err := issuer.IssueToken("ops-user", "operations", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestRequireAuthPassesValidToken(t *testing.T) {
	v := NewHMACValidator("test-signing-key")
	token, err := v.IssueToken("ops-user", "operations", time.Minute)
	require.NoError(t, err)

	var subject string
	handler := RequireAuth(v, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = GetSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops-user", subject)
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	v := NewHMACValidator("test-signing-key")
	handler := RequireAuth(v, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestRequireAuthRejectsGarbageToken(t *testing.T) {
	v := NewHMACValidator("test-signing-key")
	handler := RequireAuth(v, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(origins ...string) *originPolicy {
	return newOriginPolicy(origins, quietLogger().WithField("component", "test"))
}

// TestNormalizeOrigins tests origin normalization.
// It verifies wildcards are detected and invalid entries are skipped.
func TestNormalizeOrigins(t *testing.T) {
	log := quietLogger().WithField("component", "test")

	normalized, allowAll := normalizeOrigins([]string{"HTTP://Chat.Example", " ", "not-a-url", "https://b.example:8443"}, log)
	assert.False(t, allowAll)
	assert.Equal(t, []string{"http://chat.example", "https://b.example:8443"}, normalized)

	normalized, allowAll = normalizeOrigins([]string{"*"}, log)
	assert.True(t, allowAll)
	assert.Empty(t, normalized)

	normalized, allowAll = normalizeOrigins(nil, log)
	assert.False(t, allowAll)
	assert.Nil(t, normalized)
}

// TestOriginPolicyAllows tests origin matching for both policy modes.
func TestOriginPolicyAllows(t *testing.T) {
	open := testPolicy("*")
	assert.True(t, open.allows(""))
	assert.True(t, open.allows("http://anything.example"))

	strict := testPolicy("http://chat.example")
	assert.True(t, strict.allows("http://chat.example"))
	assert.True(t, strict.allows("HTTP://CHAT.EXAMPLE"))
	assert.False(t, strict.allows(""))
	assert.False(t, strict.allows("http://other.example"))
	assert.False(t, strict.allows("https://chat.example"))
	assert.False(t, strict.allows("::bad"))
}

// TestCORSPreflight tests preflight handling for allowed and blocked origins.
func TestCORSPreflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := testPolicy("http://chat.example").cors(next)

	req := httptest.NewRequest(http.MethodOptions, "/messages", nil)
	req.Header.Set("Origin", "http://chat.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://chat.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, corsMaxAge, rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodOptions, "/messages", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// TestCORSSimpleRequests tests header decoration on ordinary requests.
func TestCORSSimpleRequests(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	open := testPolicy("*").cors(next)
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	strict := testPolicy("http://chat.example").cors(next)
	req = httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	strict.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec = httptest.NewRecorder()
	strict.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Vary"))
}

// TestNewRateLimiter verifies the burst is honoured and bad settings are
// replaced with usable ones.
func TestNewRateLimiter(t *testing.T) {
	limiter := newRateLimiter(2, 0)
	assert.Equal(t, 2, limiter.Burst())
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	assert.Equal(t, 1, newRateLimiter(0, 0).Burst())
}

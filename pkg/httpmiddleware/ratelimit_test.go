package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenLimited(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i := range 3 {
		w := serve(handler, "192.168.1.1:12345", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := serve(handler, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEqual(t, "0", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate_limited", body["kind"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_IndependentKeys(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.2:1234", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-Shopper")
		},
	})(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1", map[string]string{"X-Shopper": "u1"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.2:1", map[string]string{"X-Shopper": "u1"}).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1", map[string]string{"X-Shopper": "u2"}).Code)
}

func TestRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	first := map[string]string{"X-Forwarded-For": "203.0.113.50"}
	rotated := map[string]string{"X-Forwarded-For": "203.0.113.51"}
	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:4444", first).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.168.1.1:4445", rotated).Code)
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: ClientIPResolver(trusted),
	})(okHandler())

	// The proxy appends the real peer; spoofed hops on the left are ignored.
	a := map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.50"}
	b := map[string]string{"X-Forwarded-For": "2.2.2.2, 203.0.113.50"}
	other := map[string]string{"X-Forwarded-For": "203.0.113.60"}

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.5:1", a).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.5:2", b).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.5:3", other).Code)
}

func TestRateLimit_Cleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	now := time.Now()
	rl.get("a", now)
	rl.get("b", now.Add(900*time.Millisecond))

	rl.cleanup(now.Add(1500 * time.Millisecond))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "a")
	assert.Contains(t, rl.buckets, "b")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:80"
	req.Header.Set("X-Real-IP", "198.51.100.7")
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	assert.Equal(t, "10.1.1.1", ClientIP(req))
}

func TestClientIPResolver(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "172.16.0.1"})
	require.NoError(t, err)
	resolve := ClientIPResolver(trusted)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps remote", "198.51.100.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "198.51.100.1"},
		{"rightmost untrusted hop", "10.0.0.2:1", map[string]string{"X-Forwarded-For": "6.6.6.6, 203.0.113.9, 172.16.0.1"}, "203.0.113.9"},
		{"real ip header", "10.0.0.2:1", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"no headers", "10.0.0.2:1", nil, "10.0.0.2"},
		{"all hops trusted", "10.0.0.2:1", map[string]string{"X-Forwarded-For": "10.0.0.3"}, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, resolve(req))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.1/8", " 192.168.0.1 ", ""})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.168.0.1/32", got[1].String())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
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

func serve(h http.Handler, remoteAddr string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// frozen returns a limiter whose clock does not advance, so refills never
// happen during a test.
func frozen(cfg RateLimitConfig) (*rateLimiter, http.Handler) {
	rl := newRateLimiter(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, rateLimitMiddleware(rl)(okHandler())
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	_, h := frozen(RateLimitConfig{Rate: 1, Burst: 3})

	for i := range 3 {
		w := serve(h, "10.0.0.1:1000")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(h, "10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate_limited", body["reason"])
}

func TestRateLimit_RemainingCountsDown(t *testing.T) {
	_, h := frozen(RateLimitConfig{Rate: 1, Burst: 3})

	assert.Equal(t, "2", serve(h, "10.0.0.1:1").Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", serve(h, "10.0.0.1:1").Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "0", serve(h, "10.0.0.1:1").Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_Refill(t *testing.T) {
	rl, h := frozen(RateLimitConfig{Rate: 2, Burst: 1})
	start := rl.now()

	require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:1").Code)

	rl.now = func() time.Time { return start.Add(500 * time.Millisecond) }
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	_, h := frozen(RateLimitConfig{Rate: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:2").Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	_, h := frozen(RateLimitConfig{
		Rate:  1,
		Burst: 1,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("Authorization")
		},
	})
	withAuth := func(v string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", v) }
	}

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", withAuth("a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.2:1", withAuth("a")).Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", withAuth("b")).Code)
}

func TestRateLimit_Cleanup(t *testing.T) {
	rl, h := frozen(RateLimitConfig{Rate: 1, Burst: 1, IdleTTL: time.Minute})
	serve(h, "10.0.0.1:1")
	require.Len(t, rl.buckets, 1)

	rl.cleanup(rl.now().Add(30 * time.Second))
	assert.Len(t, rl.buckets, 1)
	rl.cleanup(rl.now().Add(time.Minute))
	assert.Empty(t, rl.buckets)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted bool
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:4444", want: "192.168.1.1"},
		{name: "remote without port", remote: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded ignored without proxies", headers: map[string]string{"X-Forwarded-For": "203.0.113.50"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "real ip ignored without proxies", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "untrusted peer", trusted: true, headers: map[string]string{"X-Forwarded-For": "203.0.113.50"}, remote: "198.51.100.9:1", want: "198.51.100.9"},
		{name: "trusted peer", trusted: true, headers: map[string]string{"X-Forwarded-For": "203.0.113.50"}, remote: "10.0.0.1:1", want: "203.0.113.50"},
		{name: "spoofed prefix", trusted: true, headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.50, 10.1.1.1"}, remote: "192.0.2.1:1", want: "203.0.113.50"},
		{name: "real ip behind proxy", trusted: true, headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:1", want: "198.51.100.7"},
		{name: "all hops trusted", trusted: true, headers: map[string]string{"X-Forwarded-For": "10.2.2.2"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resolve := ClientIPFunc(nil)
			if tt.trusted {
				resolve = ClientIPFunc(trusted)
			}
			assert.Equal(t, tt.want, resolve(req))
		})
	}
}

func TestRateLimit_RotatingForwardedForIsOneClient(t *testing.T) {
	_, h := frozen(RateLimitConfig{Rate: 1, Burst: 2})
	forwarded := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
	}

	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.9:1", forwarded("1.1.1.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, "198.51.100.9:1", forwarded("2.2.2.2")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "198.51.100.9:1", forwarded("3.3.3.3")).Code)
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.1/8", " 192.0.2.1 ", "", "::1"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.1/32"),
		netip.MustParsePrefix("::1/128"),
	}, got)

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	require.Error(t, err)
}

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, handler http.HandlerFunc) (int, body) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var b body
	require.NoError(t, json.NewDecoder(w.Body).Decode(&b))
	return w.Code, b
}

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// runN drives every check n times synchronously.
func (h *Health) runN(n int) {
	for _, c := range h.checks {
		for range n {
			c.run(context.Background())
		}
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]CheckFunc
		runs     int
		wantCode int
		wantFail map[string]string
	}{
		{name: "no checks", wantCode: http.StatusOK},
		{name: "passing", checks: map[string]CheckFunc{"a": ok, "b": ok}, runs: 3, wantCode: http.StatusOK},
		{name: "below threshold", checks: map[string]CheckFunc{"db": failing("refused")}, runs: 2, wantCode: http.StatusOK},
		{
			name:     "failing",
			checks:   map[string]CheckFunc{"db": failing("refused"), "cache": ok},
			runs:     3,
			wantCode: http.StatusServiceUnavailable,
			wantFail: map[string]string{"db": "refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for name, fn := range tt.checks {
				h.AddLivenessCheck(name, time.Second, fn)
			}
			h.runN(tt.runs)

			code, b := get(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantFail == nil {
				assert.Equal(t, "ok", b.Status)
				assert.Empty(t, b.Checks)
				return
			}
			assert.Equal(t, "unhealthy", b.Status)
			assert.Equal(t, tt.wantFail, b.Checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, ok)
	h.Register(Readiness, "redis", failing("timeout"), WithThresholds(1, 1))
	h.Register(Liveness, "goroutines", failing("leak"), WithThresholds(1, 1))

	code, b := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, b.Checks)

	h.SetReady(true)
	code, _ = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	h.runN(1)
	code, b = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"redis": "timeout"}, b.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, b = get(t, h.ReadyEndpoint)
	assert.Len(t, b.Checks, 2)
}

func TestCheckRecovery(t *testing.T) {
	var healthy atomic.Bool
	h := New()
	h.Register(Readiness, "flaky", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}, WithThresholds(2, 2))
	h.SetReady(true)
	c := h.checks[0]

	h.runN(1)
	assert.True(t, h.IsReady(), "one failure is below threshold")
	h.runN(1)
	assert.False(t, h.IsReady())
	assert.EqualError(t, c.err(), "down")

	healthy.Store(true)
	h.runN(1)
	assert.False(t, h.IsReady(), "one success is below threshold")
	h.runN(1)
	assert.True(t, h.IsReady())
	assert.NoError(t, c.err())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Register(Liveness, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(10*time.Millisecond), WithThresholds(1, 1))

	h.runN(1)
	code, b := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, context.DeadlineExceeded.Error(), b.Checks["slow"])
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddReadinessCheck("a", time.Second, ok)
	h.AddLivenessCheck("b", time.Second, failing("x"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = h.IsReady()
				w := httptest.NewRecorder()
				h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
			}
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(pinger{})(context.Background()))

	err := PingCheck(pinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1<<20)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

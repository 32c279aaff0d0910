package httpmiddleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	serve(h, "10.0.0.1:1")
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusConflict, "insufficient_stock", `only "2" left`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":409,"message":"only \"2\" left","reason":"insufficient_stock"}`, w.Body.String())
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(h, "10.0.0.1:1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "internal", body["reason"])
}

func TestRecovery_AbortHandler(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { serve(h, "10.0.0.1:1") })
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("declared length", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
	t.Run("streamed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("0123456789")))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		var maxErr *http.MaxBytesError
		assert.ErrorAs(t, readErr, &maxErr)
	})
	t.Run("within limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, readErr)
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := serve(h, "10.0.0.1:1", func(r *http.Request) { r.Header.Set(RequestIDHeader, "abc-123") })
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = serve(h, "10.0.0.1:1", func(r *http.Request) { r.Header.Set(RequestIDHeader, "bad\x01id") })
	assert.NotEqual(t, "bad\x01id", seen)
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestPrintableASCII(t *testing.T) {
	assert.True(t, PrintableASCII("key-1", 8))
	assert.False(t, PrintableASCII("", 8))
	assert.False(t, PrintableASCII("123456789", 8))
	assert.False(t, PrintableASCII("tab\there", 16))
	assert.False(t, PrintableASCII("é", 8))
}

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{
		AllowOrigins:  []string{"https://Shop.example"},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        600,
	})(okHandler())

	t.Run("preflight allowed", func(t *testing.T) {
		w := serve(h, "10.0.0.1:1", func(r *http.Request) {
			r.Method = http.MethodOptions
			r.Header.Set("Origin", "https://shop.example")
			r.Header.Set("Access-Control-Request-Method", http.MethodPatch)
			r.Header.Set("Access-Control-Request-Headers", "Authorization, Idempotency-Key")
		})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://Shop.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
		assert.Equal(t, "Authorization, Idempotency-Key", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})
	t.Run("preflight rejected", func(t *testing.T) {
		w := serve(h, "10.0.0.1:1", func(r *http.Request) {
			r.Method = http.MethodOptions
			r.Header.Set("Origin", "https://evil.example")
			r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
	t.Run("actual request", func(t *testing.T) {
		w := serve(h, "10.0.0.1:1", func(r *http.Request) { r.Header.Set("Origin", "https://shop.example") })
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://Shop.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, RequestIDHeader, w.Header().Get("Access-Control-Expose-Headers"))
		assert.Contains(t, w.Header().Values("Vary"), "Origin")
	})
	t.Run("wildcard", func(t *testing.T) {
		w := serve(CORS(CORSConfig{})(okHandler()), "10.0.0.1:1", func(r *http.Request) {
			r.Header.Set("Origin", "https://any.example")
		})
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMakeRouteFinder(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/orders/{id}", okHandler())
	find := MakeRouteFinder(mux)

	route, ok := find(httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	require.True(t, ok)
	assert.Equal(t, "GET /api/orders/{id}", route)

	_, ok = find(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.False(t, ok)
}

func TestInjectLoggerAndLogRequests(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lg := zap.New(core)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Handler")
		w.WriteHeader(http.StatusTeapot)
	})
	find := MakeRouteFinder(mux)
	h := Wrap(mux, RequestID(), InjectLogger(lg), LogRequests(find))

	serve(h, "10.0.0.1:1", func(r *http.Request) {
		r.URL.Path = "/api/products/7"
		r.Header.Set(RequestIDHeader, "req-1")
	})

	handlerLogs := logs.FilterMessage("Handler").All()
	require.Len(t, handlerLogs, 1)
	assert.Equal(t, "req-1", handlerLogs[0].ContextMap()["request_id"])

	reqLogs := logs.FilterMessage("Request").All()
	require.Len(t, reqLogs, 1)
	fields := reqLogs[0].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, reqLogs[0].Level)
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "GET /api/products/{id}", fields["route"])
	assert.Equal(t, "req-1", fields["request_id"])
}

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func TestInstrumentAndLabeler(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /livez", okHandler())
	find := MakeRouteFinder(mux)

	h := Wrap(mux, Instrument("test", find, noopTelemetry{}), Labeler(find))
	w := serve(h, "10.0.0.1:1", func(r *http.Request) { r.URL.Path = "/livez" })
	assert.Equal(t, http.StatusOK, w.Code)
}

package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RouteFinder resolves the route pattern that will serve r. It reports false
// for requests that match no route.
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder returns a RouteFinder backed by the patterns registered on
// mux. Middleware runs before the mux sets r.Pattern, so the lookup is done
// up front.
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) (string, bool) {
		if r.Pattern != "" {
			return r.Pattern, true
		}
		_, pattern := mux.Handler(r)
		return pattern, pattern != ""
	}
}

func routeOf(find RouteFinder, r *http.Request) string {
	if find == nil {
		return ""
	}
	route, _ := find(r)
	return route
}

// Labeler tags the active span and the otelhttp metric labeler with the
// matched route. It must run inside Instrument.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route := routeOf(find, r); route != "" {
				attr := attribute.String("http.route", route)
				trace.SpanFromContext(r.Context()).SetAttributes(attr)
				if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
					l.Add(attr)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

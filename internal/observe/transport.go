package observe

import (
	"context"
	"net/http"
	"net/http/httptrace"
	"strings"

	"github.com/crabigator/crabigator-stats/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPTransport wraps base so that outbound requests are traced and
// measured. Connection level events (DNS, connect, TLS) are added as span
// events when connection tracing is enabled. When telemetry is disabled, base
// is returned unchanged.
func HTTPTransport(base http.RoundTripper, cfg config.ObserveConfig) http.RoundTripper {
	if !cfg.Enabled || !cfg.HTTPTransportEnabled {
		return base
	}

	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(SpanName),
	}

	if cfg.HTTPConnectionTraceEnabled {
		opts = append(opts, otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}))
	}

	return otelhttp.NewTransport(base, opts...)
}

// SpanName names a client span after the request method and the API
// resource it addresses, so that pages of one collection share a name.
func SpanName(_ string, r *http.Request) string {
	return r.Method + " " + Resource(r.URL.Path)
}

// Resource returns the last segment of an API path: "/v2/assignments" is
// "assignments". Record IDs are kept with their collection, so
// "/v2/subjects/440" is "subjects/{id}".
func Resource(path string) string {
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return "/"
	}

	last := segments[len(segments)-1]
	if len(segments) > 1 && isID(last) {
		return segments[len(segments)-2] + "/{id}"
	}
	return last
}

func isID(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

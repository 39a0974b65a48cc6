package observe

import (
	"net/http"
	"testing"

	"github.com/crabigator/crabigator-stats/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func TestResource(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "collection",
			path:     "/v2/assignments",
			expected: "assignments",
		},
		{
			name:     "singular resource",
			path:     "/v2/user",
			expected: "user",
		},
		{
			name:     "trailing slash",
			path:     "/v2/summary/",
			expected: "summary",
		},
		{
			name:     "record by id",
			path:     "/v2/subjects/440",
			expected: "subjects/{id}",
		},
		{
			name:     "numeric only path",
			path:     "/440",
			expected: "440",
		},
		{
			name:     "root",
			path:     "/",
			expected: "/",
		},
		{
			name:     "empty string",
			path:     "",
			expected: "/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Resource(tt.path)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSpanName(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.wanikani.com/v2/review_statistics?page_after_id=12", nil)
	require.NoError(t, err)

	assert.Equal(t, "GET review_statistics", SpanName("ignored", req))
}

func TestHTTPTransport_DisabledReturnsBase(t *testing.T) {
	base := http.DefaultTransport

	tests := []struct {
		name string
		cfg  config.ObserveConfig
	}{
		{
			name: "telemetry disabled",
			cfg:  config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true},
		},
		{
			name: "transport disabled",
			cfg:  config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, base, HTTPTransport(base, tt.cfg))
		})
	}
}

func TestHTTPTransport_EnabledWraps(t *testing.T) {
	cfg := config.ObserveConfig{
		Enabled:                    true,
		HTTPTransportEnabled:       true,
		HTTPConnectionTraceEnabled: true,
	}

	wrapped := HTTPTransport(http.DefaultTransport, cfg)

	assert.IsType(t, &otelhttp.Transport{}, wrapped)
}

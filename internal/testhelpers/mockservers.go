package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/crabigator/crabigator-stats/internal/wanikani"
)

// MockWaniKaniServer provides a configurable mock WaniKani API for testing.
// Collections are served in pages of PerPage items, linked by next_url.
type MockWaniKaniServer struct {
	Server *httptest.Server

	mu          sync.Mutex
	user        wanikani.User
	summary     wanikani.Summary
	collections map[string][]any
	perPage     int
	statusCodes map[string]int
	failCursor  map[string]int
	throttle    map[string]int
	retryAfter  string
	requests    map[string]int
	queries     []string
	lastAuth    string
	lastRev     string
}

// SetupMockWaniKaniServer creates a mock API server. The server is closed
// when the test completes.
func SetupMockWaniKaniServer(t *testing.T) *MockWaniKaniServer {
	t.Helper()

	mock := &MockWaniKaniServer{
		user:        DefaultUser(60),
		collections: map[string][]any{
			"/v2/level_progressions": {},
			"/v2/assignments":        {},
			"/v2/review_statistics":  {},
			"/v2/subjects":           {},
			"/v2/resets":             {},
		},
		perPage:     500,
		statusCodes: map[string]int{},
		failCursor:  map[string]int{},
		throttle:    map[string]int{},
		requests:    map[string]int{},
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /v2/user", func(w http.ResponseWriter, r *http.Request) {
		if !mock.begin(w, r) {
			return
		}

		mock.mu.Lock()
		user := mock.user
		mock.mu.Unlock()

		WriteJSON(w, wanikani.Resource[wanikani.User]{
			Object:        "user",
			URL:           mock.URL() + "/user",
			DataUpdatedAt: user.StartedAt,
			Data:          user,
		})
	})

	router.HandleFunc("GET /v2/summary", func(w http.ResponseWriter, r *http.Request) {
		if !mock.begin(w, r) {
			return
		}

		mock.mu.Lock()
		summary := mock.summary
		mock.mu.Unlock()

		WriteJSON(w, wanikani.Resource[wanikani.Summary]{
			Object: "report",
			URL:    mock.URL() + "/summary",
			Data:   summary,
		})
	})

	router.HandleFunc("GET /v2/{collection}", func(w http.ResponseWriter, r *http.Request) {
		if !mock.begin(w, r) {
			return
		}
		mock.writePage(w, r)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// URL is the API root to configure the client with.
func (m *MockWaniKaniServer) URL() string {
	return m.Server.URL + "/v2"
}

// Close shuts down the mock server.
func (m *MockWaniKaniServer) Close() {
	m.Server.Close()
}

func (m *MockWaniKaniServer) SetUser(user wanikani.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = user
}

func (m *MockWaniKaniServer) SetSummary(summary wanikani.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = summary
}

// SetCollection sets the items served for a collection path such as
// "/assignments". Items are typically wanikani.Resource values. Every known
// collection starts out empty.
func (m *MockWaniKaniServer) SetCollection(path string, items []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections["/v2"+path] = items
}

func (m *MockWaniKaniServer) SetPerPage(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perPage = n
}

// SetStatus makes every request to path fail with the given status. A zero
// status restores normal responses.
func (m *MockWaniKaniServer) SetStatus(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.statusCodes, "/v2"+path)
		return
	}
	m.statusCodes["/v2"+path] = status
}

// FailPage makes the page of path starting at cursor fail with a 500.
func (m *MockWaniKaniServer) FailPage(path string, cursor int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCursor["/v2"+path] = cursor
}

// Throttle makes the next n requests to path answer 429 with the given
// Retry-After header value ("" omits the header).
func (m *MockWaniKaniServer) Throttle(path string, n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle["/v2"+path] = n
	m.retryAfter = retryAfter
}

// Requests returns the number of requests received for path.
func (m *MockWaniKaniServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests["/v2"+path]
}

// Queries returns the raw query of every request received, in order.
func (m *MockWaniKaniServer) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// LastHeaders returns the Authorization and revision headers of the most
// recent request.
func (m *MockWaniKaniServer) LastHeaders() (auth string, revision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth, m.lastRev
}

// begin records the request and writes any configured failure. It returns
// false when the response has already been written.
func (m *MockWaniKaniServer) begin(w http.ResponseWriter, r *http.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := r.URL.Path
	m.requests[path]++
	m.queries = append(m.queries, r.URL.RawQuery)
	m.lastAuth = r.Header.Get("Authorization")
	m.lastRev = r.Header.Get("Wanikani-Revision")

	if r.Header.Get("Authorization") == "Bearer invalid" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Unauthorized. Nice try.","code":401}`))
		return false
	}

	if remaining := m.throttle[path]; remaining > 0 {
		m.throttle[path] = remaining - 1
		if m.retryAfter != "" {
			w.Header().Set("Retry-After", m.retryAfter)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return false
	}

	if status, ok := m.statusCodes[path]; ok {
		w.WriteHeader(status)
		return false
	}

	return true
}

func (m *MockWaniKaniServer) writePage(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := r.URL.Path
	items, ok := m.collections[path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	cursor, _ := strconv.Atoi(r.URL.Query().Get("page_after"))
	if fail, ok := m.failCursor[path]; ok && fail == cursor {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"page unavailable","code":500}`))
		return
	}

	end := min(cursor+m.perPage, len(items))
	page := items[cursor:end]

	var next *string
	if end < len(items) {
		q := r.URL.Query()
		q.Set("page_after", strconv.Itoa(end))
		u := fmt.Sprintf("%s%s?%s", m.Server.URL, path, q.Encode())
		next = &u
	}

	WriteJSON(w, map[string]any{
		"object": "collection",
		"url":    m.Server.URL + r.URL.RequestURI(),
		"pages": map[string]any{
			"next_url":     next,
			"previous_url": nil,
			"per_page":     m.perPage,
		},
		"total_count":     len(items),
		"data_updated_at": time.Date(2024, time.May, 7, 17, 59, 36, 0, time.UTC),
		"data":            page,
	})
}

// DefaultUser returns a user whose subscription grants levels up to
// maxLevelGranted.
func DefaultUser(maxLevelGranted int) wanikani.User {
	return wanikani.User{
		ID:        "5a6a5234-a392-4a87-8f3f-33342afe8a42",
		Username:  "crabigator",
		Level:     12,
		StartedAt: time.Date(2023, time.January, 2, 3, 4, 5, 0, time.UTC),
		Subscription: wanikani.Subscription{
			Active:          true,
			Type:            "lifetime",
			MaxLevelGranted: maxLevelGranted,
		},
	}
}

// Resources wraps each payload in a Resource with sequential IDs, as a
// collection would return them.
func Resources[T any](object string, payloads ...T) []any {
	items := make([]any, len(payloads))
	for i, p := range payloads {
		items[i] = wanikani.Resource[T]{
			ID:     i + 1,
			Object: object,
			URL:    fmt.Sprintf("https://api.wanikani.com/v2/%s/%d", object, i+1),
			Data:   p,
		}
	}
	return items
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

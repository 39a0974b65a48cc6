package wanikani_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/crabigator/crabigator-stats/internal/ratelimit"
	"github.com/crabigator/crabigator-stats/internal/wanikani"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// scriptedTransport answers requests from a fixed script of responses and
// records when each request arrived. It runs inside a synctest bubble, where
// a real network server cannot.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []scripted
	calls     []time.Time
	urls      []string
}

type scripted struct {
	status     int
	retryAfter string
	body       string
}

func (s *scriptedTransport) client() *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.calls = append(s.calls, time.Now())
		s.urls = append(s.urls, req.URL.String())

		r := s.responses[0]
		if len(s.responses) > 1 {
			s.responses = s.responses[1:]
		}

		header := http.Header{}
		if r.retryAfter != "" {
			header.Set("Retry-After", r.retryAfter)
		}

		return &http.Response{
			StatusCode: r.status,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(r.body)),
			Request:    req,
		}, nil
	})}
}

func (s *scriptedTransport) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

const userBody = `{"object":"user","url":"https://api.wanikani.com/v2/user","data_updated_at":"2024-05-07T17:59:36Z","data":{"username":"crabigator","level":12,"subscription":{"max_level_granted":60}}}`

func TestThrottle_WaitsForRetryAfterThenRetriesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		transport := &scriptedTransport{responses: []scripted{
			{status: http.StatusTooManyRequests, retryAfter: "2"},
			{status: http.StatusOK, body: userBody},
		}}
		scheduler := ratelimit.New()
		c, err := wanikani.New("token",
			wanikani.WithHTTPClient(transport.client()),
			wanikani.WithScheduler(scheduler),
		)
		require.NoError(t, err)

		type result struct {
			user wanikani.Resource[wanikani.User]
			err  error
		}
		done := make(chan result, 1)
		go func() {
			u, err := c.User(context.Background())
			done <- result{u, err}
		}()

		// the throttled item is waiting inside its own dispatch
		synctest.Wait()
		assert.Len(t, transport.callTimes(), 1)
		assert.Equal(t, 0, scheduler.QueueDepth(), "a retry does not occupy a queue slot")
		assert.Equal(t, 1, scheduler.InWindow())

		r := <-done
		require.NoError(t, r.err)
		assert.Equal(t, "crabigator", r.user.Data.Username)

		calls := transport.callTimes()
		require.Len(t, calls, 2, "the identical call is retried exactly once")
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 2*time.Second)
		assert.Equal(t, transport.urls[0], transport.urls[1])
		assert.Equal(t, 1, scheduler.InWindow(), "the retry is not counted as a new dispatch")
	})
}

func TestThrottle_DefaultWaitWhenHeaderUnusable(t *testing.T) {
	cases := []struct {
		name       string
		retryAfter string
	}{
		{name: "missing", retryAfter: ""},
		{name: "not a number", retryAfter: "soon"},
		{name: "negative", retryAfter: "-3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				transport := &scriptedTransport{responses: []scripted{
					{status: http.StatusTooManyRequests, retryAfter: tc.retryAfter},
					{status: http.StatusOK, body: userBody},
				}}
				c, err := wanikani.New("token", wanikani.WithHTTPClient(transport.client()))
				require.NoError(t, err)

				_, err = c.User(context.Background())
				require.NoError(t, err)

				calls := transport.callTimes()
				require.Len(t, calls, 2)
				assert.Equal(t, wanikani.DefaultRetryWait, calls[1].Sub(calls[0]))
			})
		})
	}
}

func TestThrottle_RetriesUntilServerRelents(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		responses := make([]scripted, 0, 21)
		for range 20 {
			responses = append(responses, scripted{status: http.StatusTooManyRequests, retryAfter: "1"})
		}
		responses = append(responses, scripted{status: http.StatusOK, body: userBody})

		transport := &scriptedTransport{responses: responses}
		c, err := wanikani.New("token", wanikani.WithHTTPClient(transport.client()))
		require.NoError(t, err)

		start := time.Now()
		_, err = c.User(context.Background())
		require.NoError(t, err)

		assert.Len(t, transport.callTimes(), 21)
		assert.Equal(t, 20*time.Second, time.Since(start))
	})
}

func TestThrottle_CancelledContextStopsWaiting(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		transport := &scriptedTransport{responses: []scripted{
			{status: http.StatusTooManyRequests, retryAfter: "30"},
		}}
		c, err := wanikani.New("token", wanikani.WithHTTPClient(transport.client()))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err = c.User(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Len(t, transport.callTimes(), 1)
	})
}

func TestRequests_ShareTheClientWindow(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		transport := &scriptedTransport{responses: []scripted{
			{status: http.StatusOK, body: userBody},
		}}
		c, err := wanikani.New("token",
			wanikani.WithHTTPClient(transport.client()),
			wanikani.WithScheduler(ratelimit.New(ratelimit.WithLimit(2, time.Minute))),
		)
		require.NoError(t, err)

		start := time.Now()
		for range 3 {
			_, err := c.User(context.Background())
			require.NoError(t, err)
		}

		calls := transport.callTimes()
		require.Len(t, calls, 3)
		assert.Equal(t, time.Minute, calls[2].Sub(start))
	})
}

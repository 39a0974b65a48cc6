package wanikani

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/crabigator/crabigator-stats/internal/ratelimit"
)

const revisionHeader = "Wanikani-Revision"

// get performs one logical GET through the scheduler and decodes the JSON
// response into out. Throttled responses are retried inside the same
// scheduled item, so a retry never takes another place in the queue.
func (c *Client) get(ctx context.Context, locator string, params url.Values, out any) error {
	u, err := c.resolve(locator, params)
	if err != nil {
		return err
	}

	_, err = ratelimit.Do(c.scheduler, func() (struct{}, error) {
		return struct{}{}, c.fetch(ctx, u, out)
	})

	return err
}

func (c *Client) fetch(ctx context.Context, u *url.URL, out any) error {
	path := u.Path

	tracer := otel.Tracer("github.com/crabigator/crabigator-stats/internal/wanikani")
	ctx, span := tracer.Start(ctx, "wanikani.get")
	defer span.End()
	span.SetAttributes(attribute.String("wanikani.path", path))

	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, u)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request failed")
			return ConnectivityError{Path: path, Cause: err}
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			span.SetAttributes(
				attribute.Int("wanikani.attempts", attempt),
				attribute.Int("http.response.status_code", resp.StatusCode),
			)
			err := decode(resp, path, out)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "request failed")
			}
			return err
		}

		wait := retryAfter(resp.Header.Get("Retry-After"), c.defaultRetryWait)
		discard(resp)

		if c.maxThrottleRetries > 0 && attempt > c.maxThrottleRetries {
			err := ThrottledError{Path: path, Attempts: attempt}
			span.RecordError(err)
			span.SetStatus(codes.Error, "throttled")
			return err
		}

		log.Info().
			Str("path", path).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("wanikani: throttled, waiting before retry")

		if err := sleep(ctx, wait); err != nil {
			return ConnectivityError{Path: path, Cause: err}
		}
	}
}

func (c *Client) send(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(revisionHeader, c.revision)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("path", u.Path).
		Int("status", resp.StatusCode).
		Msg("wanikani: response received")

	return resp, nil
}

// resolve turns a path relative to the API root, or an absolute continuation
// URL from a previous page, into a request URL. Absolute URLs must point at
// the configured API host so the credential is never sent elsewhere.
func (c *Client) resolve(locator string, params url.Values) (*url.URL, error) {
	var u *url.URL

	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		parsed, err := url.Parse(locator)
		if err != nil {
			return nil, fmt.Errorf("invalid continuation URL %q: %w", locator, err)
		}
		if parsed.Scheme != c.baseURL.Scheme || parsed.Host != c.baseURL.Host {
			return nil, fmt.Errorf("continuation URL %q is not on the API host %s", locator, c.baseURL.Host)
		}
		u = parsed
	} else {
		u = c.baseURL.JoinPath(locator)
	}

	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u, nil
}

func decode(resp *http.Response, path string, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return AuthError{Path: path}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := APIError{
			Path:    path,
			Status:  resp.StatusCode,
			Code:    resp.StatusCode,
			Message: statusMessage(resp.StatusCode),
		}

		var payload errorPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			if payload.Code != 0 {
				apiErr.Code = payload.Code
			}
		}

		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ConnectivityError{Path: path, Cause: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

// retryAfter reads a Retry-After header expressed in whole seconds, falling
// back to def when it is missing or unusable.
func retryAfter(header string, def time.Duration) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return def
	}

	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return def
	}

	return time.Duration(secs) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// discard drains and closes the body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 64<<10)
	resp.Body.Close()
}

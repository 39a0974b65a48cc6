package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crabigator/crabigator-stats/internal/audit"
	"github.com/crabigator/crabigator-stats/internal/testhelpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {

	t.Run("configures context for the command", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var seen *audit.Entry
		err := audit.Run(context.Background(), "sync", nil, func(ctx context.Context) error {
			seen = audit.Log(ctx)
			seen.Username = "crabigator"
			return nil
		})

		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, "sync", seen.Command)
		assert.Equal(t, "crabigator", seen.Username)
		assert.Empty(t, seen.Error)
	})

	t.Run("captures the command error", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var entry *audit.Entry
		err := audit.Run(context.Background(), "refresh", []string{"summary"}, func(ctx context.Context) error {
			entry = audit.Log(ctx)
			return errors.New("HTTP 503: Service Unavailable")
		})

		assert.EqualError(t, err, "HTTP 503: Service Unavailable")
		assert.Equal(t, "HTTP 503: Service Unavailable", entry.Error)
		assert.Equal(t, []string{"summary"}, entry.Args)
	})

	t.Run("log written", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level && msg == "audit" {
					auditWritten = true
				}
			}),
		)

		err := audit.Run(ctx, "stats", nil, func(ctx context.Context) error { return nil })

		require.NoError(t, err)
		assert.True(t, auditWritten, "audit log entry should be written")
	})

	t.Run("log written on panic", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level {
					auditWritten = true
				}
			}),
		)

		var entry *audit.Entry

		assert.PanicsWithValue(t, "not a crab", func() {
			_ = audit.Run(ctx, "watch", nil, func(ctx context.Context) error {
				_, entry = audit.Context(ctx)
				entry.Error = "failure pre-panic"
				panic("not a crab")
			})
		})

		assert.Equal(t, "failure pre-panic; panic: not a crab", entry.Error)
		assert.True(t, auditWritten, "audit log entry should be written")
	})
}

func TestRun_WritesAboveLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.WarnLevel)
	ctx := logger.WithContext(context.Background())

	logger.Info().Msg("not written")
	err := audit.Run(ctx, "sync", nil, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &result))
	assert.Equal(t, "audit", result["message"])
	assert.Equal(t, "info", result["level"])
}

func TestRun_DisabledLoggerStaysSilent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.Disabled)

	// a disabled logger is not stored in a context, so it is the fallback
	previous := zerolog.DefaultContextLogger
	zerolog.DefaultContextLogger = &logger
	t.Cleanup(func() { zerolog.DefaultContextLogger = previous })

	err := audit.Run(context.Background(), "sync", nil, func(ctx context.Context) error { return nil })

	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestContext_ReusesEntry(t *testing.T) {
	ctx, first := audit.Context(context.Background())
	_, second := audit.Context(ctx)

	assert.Same(t, first, second)
	assert.Same(t, first, audit.Log(ctx))
	assert.NotSame(t, first, audit.Log(context.Background()))
}

func TestAuditing(t *testing.T) {
	testhelpers.SetupLogger(t)

	ctx := context.Background()

	_, e := audit.Context(ctx)
	e.Begin("login", nil)
	e.End(ctx)()

	assert.GreaterOrEqual(t, e.Duration.Nanoseconds(), int64(0))
	e.Duration = 0

	assert.Equal(t, "login", e.Command)
	assert.Empty(t, e.Error)
}

func withLogHook(ctx context.Context, hook zerolog.HookFunc) context.Context {
	testLog := log.Logger.With().Logger().Hook(hook)
	return testLog.WithContext(ctx)
}

func serialize(t *testing.T, entry audit.Entry) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Log().EmbedObject(&entry).Send()

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	return result
}

func TestOptionalDictElision(t *testing.T) {
	testhelpers.SetupLogger(t)

	t.Run("empty entry omits optional dicts", func(t *testing.T) {
		result := serialize(t, audit.Entry{})
		assert.Contains(t, result, "command", "command dict is always present")
		assert.NotContains(t, result, "session")
		assert.NotContains(t, result, "cache")
		assert.NotContains(t, result, "error")
	})

	t.Run("session present when any session field set", func(t *testing.T) {
		result := serialize(t, audit.Entry{Scope: "durable"})
		session, ok := result["session"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "durable", session["scope"])
		assert.NotContains(t, session, "username")
		assert.NotContains(t, session, "level")
	})

	t.Run("cache present when kinds requested", func(t *testing.T) {
		result := serialize(t, audit.Entry{Kinds: []string{"summary", "assignments"}})
		cache, ok := result["cache"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"summary", "assignments"}, cache["kinds"])
		assert.NotContains(t, cache, "last_synced")
	})

	t.Run("cache present when only the last sync is known", func(t *testing.T) {
		synced := time.Date(2024, time.May, 7, 12, 0, 0, 0, time.UTC)
		result := serialize(t, audit.Entry{Kinds: []string{" "}, LastSynced: synced})
		cache, ok := result["cache"].(map[string]any)
		require.True(t, ok)
		assert.NotContains(t, cache, "kinds")
		assert.Equal(t, "2024-05-07T12:00:00Z", cache["last_synced"])
	})

	t.Run("args only present when given", func(t *testing.T) {
		result := serialize(t, audit.Entry{Command: "sync"})
		command := result["command"].(map[string]any)
		assert.Equal(t, "sync", command["name"])
		assert.NotContains(t, command, "args")
	})
}

func TestFullyPopulatedEntry(t *testing.T) {
	testhelpers.SetupLogger(t)

	result := serialize(t, audit.Entry{
		Command:  "refresh",
		Args:     []string{"summary"},
		Username: "crabigator",
		Scope:    "session",
		Level:    12,
		Kinds:    []string{"summary"},
		Error:    "refreshing summary: HTTP 503: Service Unavailable",

		LastSynced: time.Date(2024, time.May, 7, 12, 0, 0, 0, time.FixedZone("JST", 9*60*60)),
	})

	command := result["command"].(map[string]any)
	assert.Equal(t, "refresh", command["name"])
	assert.Equal(t, []any{"summary"}, command["args"])
	assert.Contains(t, command, "duration")

	session := result["session"].(map[string]any)
	assert.Equal(t, "crabigator", session["username"])
	assert.Equal(t, "session", session["scope"])
	assert.Equal(t, float64(12), session["level"])

	cache := result["cache"].(map[string]any)
	assert.Equal(t, []any{"summary"}, cache["kinds"])
	assert.Equal(t, "2024-05-07T03:00:00Z", cache["last_synced"])

	assert.Equal(t, "refreshing summary: HTTP 503: Service Unavailable", result["error"])
}

func TestOptionalEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ev := logger.Log()
	set := audit.NewOptionalEvent().
		Str("a", "").
		Strs("b", nil).
		Strs("c", []string{"", "  "}).
		Int("d", 0).
		Time("e", time.Time{}).
		Set(ev, "empty")
	assert.False(t, set)

	kinds := []string{"summary", "", "assignments"}
	set = audit.NewOptionalEvent().Str("a", "x").Strs("b", kinds).Set(ev, "filled")
	assert.True(t, set)
	ev.Send()

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.NotContains(t, result, "empty")
	assert.Equal(t, map[string]any{"a": "x", "b": []any{"summary", "assignments"}}, result["filled"])
	assert.Equal(t, []string{"summary", "", "assignments"}, kinds, "input is left untouched")
}

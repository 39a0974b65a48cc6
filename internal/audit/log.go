// Package audit records one structured log entry per command run: what was
// run, for which account, and how it ended.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

type key struct{}

// Entry is the audit record of a single command. Commands fill in what they
// learn as they run; the entry is written when the command ends.
type Entry struct {
	Command  string
	Args     []string
	Duration time.Duration

	Username string
	Scope    string
	Level    int

	Kinds      []string
	LastSynced time.Time

	Error string

	start time.Time
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	command := zerolog.Dict().
		Str("name", e.Command).
		Dur("duration", e.Duration)
	if len(e.Args) > 0 {
		command.Strs("args", e.Args)
	}
	ev.Dict("command", command)

	NewOptionalEvent().
		Str("username", e.Username).
		Str("scope", e.Scope).
		Int("level", e.Level).
		Set(ev, "session")

	NewOptionalEvent().
		Strs("kinds", e.Kinds).
		Time("last_synced", e.LastSynced).
		Set(ev, "cache")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin marks the start of command.
func (e *Entry) Begin(command string, args []string) {
	e.Command = command
	e.Args = args
	e.start = time.Now()
}

// End returns a function that completes the entry and writes it to the
// context logger at Level, whatever level that logger is set to.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if !e.start.IsZero() {
			e.Duration = time.Since(e.start)
		}

		logger := zerolog.Ctx(ctx)
		// entries are kept when the logger is quieter than Level, unless
		// logging is switched off entirely
		if l := logger.GetLevel(); l > Level && l != zerolog.Disabled {
			raised := logger.Level(Level)
			logger = &raised
		}

		logger.WithLevel(Level).EmbedObject(e).Msg("audit")
	}
}

func (e *Entry) fail(msg string) {
	if e.Error == "" {
		e.Error = msg
		return
	}
	e.Error += "; " + msg
}

// Context returns the audit entry carried by ctx, adding a new one when
// there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the audit entry of ctx. Outside an audited command the entry
// is never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Run runs fn as command, writing the audit entry when it returns. A panic
// is recorded and then re-raised.
func Run(ctx context.Context, command string, args []string, fn func(context.Context) error) (err error) {
	ctx, entry := Context(ctx)
	entry.Begin(command, args)

	defer func() {
		if r := recover(); r != nil {
			entry.fail(fmt.Sprintf("panic: %v", r))
			entry.End(ctx)()
			panic(r)
		}

		if err != nil {
			entry.fail(err.Error())
		}
		entry.End(ctx)()
	}()

	return fn(ctx)
}

// Package lifecycle releases the resources a command acquired, in the
// reverse order they were acquired.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Hooks is a stack of release functions. The zero value is ready to use.
type Hooks struct {
	hooks []hook
}

// Add registers fn to run when the hooks are released. Nil functions are
// ignored with a warning.
func (h *Hooks) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil release hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding release hook")
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// AddCloser registers a resource whose Close method releases it.
func (h *Hooks) AddCloser(name string, c io.Closer) {
	if c == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil release hook; ignoring")
		return
	}

	h.Add(name, func(context.Context) error { return c.Close() })
}

// Release runs every hook, most recently added first. A failing hook does not
// stop the others; all failures are returned joined. Hooks run at most once.
func (h *Hooks) Release(ctx context.Context) error {
	var errs []error

	for i := len(h.hooks) - 1; i >= 0; i-- {
		hk := h.hooks[i]
		l := log.Ctx(ctx).With().Str("hook", hk.name).Logger()

		if err := hk.fn(ctx); err != nil {
			l.Warn().Err(err).Msg("release failed")
			errs = append(errs, fmt.Errorf("%s: %w", hk.name, err))
			continue
		}
		l.Debug().Msg("released")
	}
	h.hooks = nil

	return errors.Join(errs...)
}

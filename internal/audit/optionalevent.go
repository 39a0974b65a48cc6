package audit

import (
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OptionalEvent builds a nested dictionary for an audit entry. The dictionary
// is only attached when at least one field was written; zero values are
// skipped.
type OptionalEvent struct {
	dict   *zerolog.Event
	fields int
}

func NewOptionalEvent() *OptionalEvent {
	return &OptionalEvent{}
}

func (oe *OptionalEvent) add() *zerolog.Event {
	if oe.dict == nil {
		oe.dict = zerolog.Dict()
	}
	oe.fields++
	return oe.dict
}

// Set attaches the dictionary to parent under key when it holds any field,
// and reports whether it did.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.fields == 0 {
		return false
	}
	parent.Dict(key, oe.dict)
	return true
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val != "" {
		oe.add().Str(key, val)
	}
	return oe
}

// Strs writes vals without their blank elements, and nothing when none
// remain.
func (oe *OptionalEvent) Strs(key string, vals []string) *OptionalEvent {
	vals = slices.DeleteFunc(slices.Clone(vals), func(v string) bool {
		return strings.TrimSpace(v) == ""
	})
	if len(vals) > 0 {
		oe.add().Strs(key, vals)
	}
	return oe
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val != 0 {
		oe.add().Int(key, val)
	}
	return oe
}

// Time writes t in UTC. The zero time is skipped.
func (oe *OptionalEvent) Time(key string, t time.Time) *OptionalEvent {
	if !t.IsZero() {
		oe.add().Time(key, t.UTC())
	}
	return oe
}

package snapshot

import (
	"context"
	"fmt"

	"github.com/crabigator/crabigator-stats/internal/config"
	"github.com/rs/zerolog/log"
)

// Open creates the store for scope. The session scope keeps the snapshot in
// memory; the durable scope writes it to the SQLite file at cfg.Path.
func Open(ctx context.Context, scope string, cfg config.StoreConfig) (Store, error) {
	switch scope {
	case config.ScopeDurable:
		log.Debug().
			Str("scope", scope).
			Str("path", cfg.Path).
			Msg("opening durable snapshot store")

		db, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open durable store: %w", err)
		}

		return NewInstrumented(db, scope), nil

	case config.ScopeSession:
		log.Debug().
			Str("scope", scope).
			Msg("opening session snapshot store")

		return NewInstrumented(NewMemory(cfg.SessionMaxEntries), scope), nil

	default:
		return nil, config.ValidateScope(scope)
	}
}

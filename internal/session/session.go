// Package session manages the signed-in credential: validating it at login,
// restoring it from a saved snapshot, and discarding it at logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/crabigator/crabigator-stats/internal/cache"
	"github.com/crabigator/crabigator-stats/internal/config"
	"github.com/crabigator/crabigator-stats/internal/snapshot"
	"github.com/crabigator/crabigator-stats/internal/wanikani"
)

// ErrNotSignedIn is returned when an operation needs a credential and none
// has been supplied or restored.
var ErrNotSignedIn = errors.New("not signed in: run login first")

// Manager owns the active credential together with the client, cache and
// store serving it. A new credential always gets a new client, and with it a
// new request window.
type Manager struct {
	cfg        config.Config
	clientOpts []wanikani.Option

	mu      sync.Mutex
	session snapshot.Store
	durable snapshot.Store
	client  *wanikani.Client
	cache   *cache.Cache
	user    *wanikani.Resource[wanikani.User]
}

// NewManager creates a manager. opts are applied after the options derived
// from configuration, so they can override them.
func NewManager(cfg config.Config, opts ...wanikani.Option) *Manager {
	return &Manager{
		cfg:        cfg,
		clientOpts: opts,
		session:    snapshot.NewInstrumented(snapshot.NewMemory(cfg.Store.SessionMaxEntries), config.ScopeSession),
	}
}

// Login validates token and, when it is accepted, saves it in the store for
// scope and makes it the active credential. A rejected token leaves any
// existing session untouched; the returned Validation explains the
// rejection.
func (m *Manager) Login(ctx context.Context, token string, scope string) (wanikani.Validation, error) {
	if err := config.ValidateScope(scope); err != nil {
		return wanikani.Validation{}, err
	}

	client, err := m.newClient(token)
	if err != nil {
		return wanikani.Validation{Reason: wanikani.ReasonInvalidCredential, Message: err.Error()}, nil
	}

	validation := client.Validate(ctx)
	if !validation.Valid {
		return validation, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	store, err := m.storeFor(ctx, scope)
	if err != nil {
		return wanikani.Validation{}, err
	}

	// a new credential replaces whatever was saved before, in either scope
	if err := m.openExistingDurable(ctx); err != nil {
		return wanikani.Validation{}, err
	}
	if err := m.clearAll(ctx); err != nil {
		return wanikani.Validation{}, err
	}

	snap := snapshot.Snapshot{
		Token: token,
		Scope: scope,
		User:  validation.User,
	}
	if err := store.Save(ctx, snap); err != nil {
		return wanikani.Validation{}, fmt.Errorf("saving session: %w", err)
	}

	m.activate(client, store, snap)

	log.Info().
		Str("username", validation.User.Data.Username).
		Str("scope", scope).
		Msg("signed in")

	return validation, nil
}

// Restore reactivates a saved session, looking in the durable store first
// and then the session store. It reports whether a session was found.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil {
		return true, nil
	}

	if err := m.openExistingDurable(ctx); err != nil {
		return false, err
	}
	stores := []snapshot.Store{m.session}
	if m.durable != nil {
		stores = []snapshot.Store{m.durable, m.session}
	}

	for _, store := range stores {
		snap, found, err := store.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("saved session could not be read, ignoring it")
			continue
		}
		if !found || !snap.SignedIn() {
			continue
		}

		client, err := m.newClient(snap.Token)
		if err != nil {
			return false, err
		}
		m.activate(client, store, snap)

		log.Debug().Str("scope", snap.Scope).Msg("restored saved session")
		return true, nil
	}

	return false, nil
}

// Logout discards the credential and all cached data from every store.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.Clear(ctx); err != nil {
			return err
		}
	}

	if err := m.openExistingDurable(ctx); err != nil {
		return err
	}
	if err := m.clearAll(ctx); err != nil {
		return err
	}

	m.client = nil
	m.cache = nil
	m.user = nil

	log.Info().Msg("signed out")
	return nil
}

// Cache returns the cache of the active session.
func (m *Manager) Cache() (*cache.Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache == nil {
		return nil, ErrNotSignedIn
	}
	return m.cache, nil
}

// Client returns the API client of the active session.
func (m *Manager) Client() (*wanikani.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil, ErrNotSignedIn
	}
	return m.client, nil
}

// User returns the validated user of the active session, or nil.
func (m *Manager) User() *wanikani.Resource[wanikani.User] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Close releases the stores.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.durable != nil {
		errs = append(errs, m.durable.Close())
		m.durable = nil
	}
	errs = append(errs, m.session.Close())

	return errors.Join(errs...)
}

func (m *Manager) newClient(token string) (*wanikani.Client, error) {
	opts := append(wanikani.ConfigOptions(m.cfg.WaniKani, m.cfg.RateLimit), m.clientOpts...)
	return wanikani.New(token, opts...)
}

func (m *Manager) activate(client *wanikani.Client, store snapshot.Store, snap snapshot.Snapshot) {
	m.client = client
	m.user = snap.User
	m.cache = cache.New(client, store, snap, cache.WithStaleAfter(m.cfg.Cache.StaleAfter))
}

// storeFor returns the store for scope, opening the durable store on first
// use. Callers hold m.mu.
func (m *Manager) storeFor(ctx context.Context, scope string) (snapshot.Store, error) {
	if scope == config.ScopeSession {
		return m.session, nil
	}

	if m.durable == nil {
		store, err := snapshot.Open(ctx, config.ScopeDurable, m.cfg.Store)
		if err != nil {
			return nil, err
		}
		m.durable = store
	}

	return m.durable, nil
}

// clearAll empties every open store. Callers hold m.mu.
func (m *Manager) clearAll(ctx context.Context) error {
	if err := m.session.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session store: %w", err)
	}
	if m.durable != nil {
		if err := m.durable.Clear(ctx); err != nil {
			return fmt.Errorf("clearing durable store: %w", err)
		}
	}
	return nil
}

// openExistingDurable opens the durable store if its file already exists, so
// merely reading a session never creates one. Callers hold m.mu.
func (m *Manager) openExistingDurable(ctx context.Context) error {
	if m.durable != nil || m.cfg.Store.Path == "" {
		return nil
	}
	if _, err := os.Stat(m.cfg.Store.Path); err != nil {
		return nil
	}

	_, err := m.storeFor(ctx, config.ScopeDurable)
	return err
}

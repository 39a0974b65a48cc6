package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/crabigator/crabigator-stats/internal/audit"
	"github.com/crabigator/crabigator-stats/internal/cache"
	"github.com/crabigator/crabigator-stats/internal/config"
	"github.com/crabigator/crabigator-stats/internal/session"
	"github.com/crabigator/crabigator-stats/internal/stats"
	"github.com/crabigator/crabigator-stats/internal/wanikani"
)

// commands holds what every command needs: configuration, the session
// manager and where reports are written.
type commands struct {
	cfg     config.Config
	manager *session.Manager
	out     io.Writer
	now     func() time.Time
}

func newApp(cfg config.Config, manager *session.Manager, out io.Writer) *cli.App {
	cmds := &commands{
		cfg:     cfg,
		manager: manager,
		out:     out,
		now:     time.Now,
	}

	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Report format: table, json or yaml",
		Value:   formatTable,
	}

	return &cli.App{
		Name:      "crabigator-stats",
		Usage:     "Statistics for your WaniKani account",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "WaniKani personal access token (default: $WANIKANI_API_TOKEN)",
			},
			&cli.StringFlag{
				Name:  "scope",
				Usage: `Where the session is kept: "session" (this process) or "durable" (on disk)`,
				Value: cfg.Store.Scope,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Validate a token and sign in with it",
				Action: audited(cmds.login),
			},
			{
				Name:   "logout",
				Usage:  "Sign out and discard all cached data",
				Action: audited(cmds.logout),
			},
			{
				Name:   "sync",
				Usage:  "Fetch every collection that has gone stale",
				Action: audited(cmds.sync),
			},
			{
				Name:      "refresh",
				Usage:     "Fetch collections regardless of staleness",
				ArgsUsage: "[kind...]",
				Action:    audited(cmds.refresh),
			},
			{
				Name:   "stats",
				Usage:  "Show the dashboard",
				Flags:  []cli.Flag{outputFlag},
				Action: audited(cmds.dashboard),
			},
			{
				Name:  "watch",
				Usage: "Show the dashboard, refreshing it until interrupted",
				Flags: []cli.Flag{
					outputFlag,
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between refreshes",
						Value: cfg.Cache.RefreshInterval,
					},
				},
				Action: audited(cmds.watch),
			},
		},
	}
}

func (cmds *commands) login(c *cli.Context) error {
	token := cmds.token(c)
	if token == "" {
		return errors.New("a token is required: pass --token or set WANIKANI_API_TOKEN")
	}

	validation, err := cmds.signIn(c.Context, token, c.String("scope"))
	if err != nil {
		return err
	}

	cmds.recordSession(c.Context)

	fmt.Fprintf(cmds.out, "Signed in as %s (level %d, %s scope)\n",
		validation.User.Data.Username,
		validation.User.Data.Level,
		c.String("scope"),
	)
	return nil
}

func (cmds *commands) logout(c *cli.Context) error {
	if err := cmds.manager.Logout(c.Context); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Fprintln(cmds.out, "Signed out")
	return nil
}

func (cmds *commands) sync(c *cli.Context) error {
	cc, err := cmds.signedIn(c)
	if err != nil {
		return err
	}

	err = cc.Sync(c.Context)
	recordSynced(c.Context, cc)
	cmds.printSynced(cc)
	return err
}

func (cmds *commands) refresh(c *cli.Context) error {
	kinds, err := parseKinds(c.Args().Slice())
	if err != nil {
		return err
	}

	cc, err := cmds.signedIn(c)
	if err != nil {
		return err
	}

	entry := audit.Log(c.Context)
	for _, kind := range kinds {
		entry.Kinds = append(entry.Kinds, string(kind))
	}

	if len(kinds) == 0 {
		err = cc.RefreshAll(c.Context)
	} else {
		var errs []error
		for _, kind := range kinds {
			errs = append(errs, cc.Refresh(c.Context, kind))
		}
		err = errors.Join(errs...)
	}

	recordSynced(c.Context, cc)
	cmds.printSynced(cc)
	return err
}

func (cmds *commands) dashboard(c *cli.Context) error {
	format, err := parseFormat(c.String("output"))
	if err != nil {
		return err
	}

	cc, err := cmds.signedIn(c)
	if err != nil {
		return err
	}

	// stale data is still worth showing
	if err := cc.Sync(c.Context); err != nil {
		log.Warn().Err(err).Msg("some collections could not be refreshed")
	}
	recordSynced(c.Context, cc)

	return renderReport(cmds.out, stats.Build(cc.Snapshot(), cmds.now()), format)
}

func (cmds *commands) watch(c *cli.Context) error {
	format, err := parseFormat(c.String("output"))
	if err != nil {
		return err
	}

	interval := c.Duration("interval")
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}

	cc, err := cmds.signedIn(c)
	if err != nil {
		return err
	}

	cache.PeriodicRefresh(c.Context, cc, interval, func(error) {
		// failures are logged by the refresh; the report shows what is cached
		if err := renderReport(cmds.out, stats.Build(cc.Snapshot(), cmds.now()), format); err != nil {
			log.Warn().Err(err).Msg("report could not be written")
		}
	})

	return nil
}

// signedIn returns the cache of the saved session. When nothing is saved and
// a token is available, it signs in with that token first.
func (cmds *commands) signedIn(c *cli.Context) (*cache.Cache, error) {
	found, err := cmds.manager.Restore(c.Context)
	if err != nil {
		return nil, err
	}

	if !found {
		token := cmds.token(c)
		if token == "" {
			return nil, session.ErrNotSignedIn
		}
		if _, err := cmds.signIn(c.Context, token, c.String("scope")); err != nil {
			return nil, err
		}
	}

	cmds.recordSession(c.Context)
	return cmds.manager.Cache()
}

// recordSession adds the signed-in account to the command's audit entry.
func (cmds *commands) recordSession(ctx context.Context) {
	entry := audit.Log(ctx)
	if u := cmds.manager.User(); u != nil {
		entry.Username = u.Data.Username
		entry.Level = u.Data.Level
	}
	if cc, err := cmds.manager.Cache(); err == nil {
		entry.Scope = cc.Snapshot().Scope
	}
}

// recordSynced adds the time of the most recent collection sync to the
// command's audit entry.
func recordSynced(ctx context.Context, cc *cache.Cache) {
	snap := cc.Snapshot()

	var last time.Time
	for _, at := range []time.Time{
		snap.LevelProgressions.SyncedAt,
		snap.Assignments.SyncedAt,
		snap.ReviewStatistics.SyncedAt,
		snap.Summary.SyncedAt,
	} {
		if at.After(last) {
			last = at
		}
	}

	audit.Log(ctx).LastSynced = last
}

// audited runs action inside an audit entry for the command.
func audited(action cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		return audit.Run(c.Context, c.Command.Name, c.Args().Slice(), func(ctx context.Context) error {
			c.Context = ctx
			return action(c)
		})
	}
}

// signIn logs in with token, turning a rejected credential into an error.
func (cmds *commands) signIn(ctx context.Context, token, scope string) (wanikani.Validation, error) {
	validation, err := cmds.manager.Login(ctx, token, scope)
	if err != nil {
		return validation, fmt.Errorf("login failed: %w", err)
	}
	if !validation.Valid {
		return validation, fmt.Errorf("login rejected (%s): %s", validation.Reason, validation.Message)
	}
	return validation, nil
}

func (cmds *commands) token(c *cli.Context) string {
	if t := strings.TrimSpace(c.String("token")); t != "" {
		return t
	}
	return strings.TrimSpace(cmds.cfg.WaniKani.Token)
}

func (cmds *commands) printSynced(cc *cache.Cache) {
	snap := cc.Snapshot()
	synced := map[cache.Kind]time.Time{
		cache.KindLevelProgressions: snap.LevelProgressions.SyncedAt,
		cache.KindAssignments:       snap.Assignments.SyncedAt,
		cache.KindReviewStatistics:  snap.ReviewStatistics.SyncedAt,
		cache.KindSummary:           snap.Summary.SyncedAt,
	}

	for _, kind := range cache.Kinds {
		at := synced[kind]
		if at.IsZero() {
			fmt.Fprintf(cmds.out, "%-18s never synced\n", kind)
			continue
		}
		fmt.Fprintf(cmds.out, "%-18s synced %s\n", kind, at.Local().Format(time.DateTime))
	}
}

func parseKinds(args []string) ([]cache.Kind, error) {
	kinds := make([]cache.Kind, 0, len(args))
	for _, a := range args {
		kind := cache.Kind(strings.ToLower(strings.TrimSpace(a)))
		if !slices.Contains(cache.Kinds, kind) {
			return nil, fmt.Errorf("unknown kind %q: expected one of %s", a, kindList())
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func kindList() string {
	names := make([]string, len(cache.Kinds))
	for i, k := range cache.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

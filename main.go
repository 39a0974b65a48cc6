package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crabigator/crabigator-stats/internal/config"
	"github.com/crabigator/crabigator-stats/internal/lifecycle"
	"github.com/crabigator/crabigator-stats/internal/observe"
	"github.com/crabigator/crabigator-stats/internal/session"
)

func main() {
	configureLogging()

	logBuildInfo()

	err := run(os.Args)
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	manager := session.NewManager(cfg)

	var hooks lifecycle.Hooks
	hooks.Add("telemetry", shutdownTelemetry)
	hooks.AddCloser("session", manager)

	defer func() {
		// the run context may already be cancelled by a signal
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := hooks.Release(releaseCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	return newApp(cfg, manager, os.Stdout).RunContext(ctx, args)
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// reports go to stdout, so logs stay on stderr; default level is Warn
	log.Logger = log.Output(os.Stderr).Level(zerolog.WarnLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Debug()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

// configureHTTPTransport tunes the outbound transport for a single API host
// that is only ever sent one request at a time.
func configureHTTPTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = 1
	transport.MaxIdleConnsPerHost = 1
	transport.MaxConnsPerHost = 1

	return transport
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/internal/config"
	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/internal/server"
	"github.com/3leaps/demuxmgr/internal/server/handlers"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status server",
	Long: `Serve health probes, the run registry, and metrics over HTTP.

Endpoints:
  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /runs[?active=true], /runs/{id}
  GET /metrics

The server only reads the registry; processing passes stay with
'demuxmgr process'.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server.host"] = serveHost
	}
	if servePort != 0 {
		overrides["server.port"] = servePort
	}
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Cannot load configuration", err)
	}

	store, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	metrics, err := observability.InitMetrics()
	if err != nil {
		return exitError(foundry.ExitFailure, "Cannot initialize metrics", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("signal", signalHealthChecker{})
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: appIdentity.BinaryName,
		envPrefix:  appIdentity.EnvPrefix,
		configName: appIdentity.ConfigName,
	})
	hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	hm.RegisterChecker("registry", registryHealthChecker{pinger: store})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithRunSource(store),
		server.WithMetricsHandler(metrics.Handler()),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

	if err := srv.Start(ctx, cfg.Server.ShutdownTimeout); err != nil {
		observability.CLILogger.Error("Status server failed", zap.Error(err))
		return exitError(foundry.ExitFailure, "Status server failed", err)
	}
	return nil
}

// signalHealthChecker reports healthy while the process handles requests;
// shutdown is driven by the command context.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(context.Context) error {
	if observability.MetricsSystem == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

type registryHealthChecker struct {
	pinger pinger
}

func (c registryHealthChecker) CheckHealth(ctx context.Context) error {
	if c.pinger == nil {
		return errors.New("registry not opened")
	}
	if err := c.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("registry ping: %w", err)
	}
	return nil
}

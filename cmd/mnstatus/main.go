package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/datadavev/mnstatus/internal/config"
	"github.com/datadavev/mnstatus/internal/metrics"
	"github.com/datadavev/mnstatus/internal/probe"
	"github.com/datadavev/mnstatus/internal/registry"
	"github.com/datadavev/mnstatus/internal/report"
	"github.com/datadavev/mnstatus/internal/server"
	"github.com/datadavev/mnstatus/internal/storage"
	"github.com/datadavev/mnstatus/internal/transport"
	"github.com/datadavev/mnstatus/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// memoryCacheSize is how many registries' node lists are kept in process.
const memoryCacheSize = 8

// globals holds the persistent flags.
type globals struct {
	configPath  string
	registryURL string
	indexURL    string
	timeout     time.Duration
	verbosity   string
	json        bool
	color       bool
	refresh     bool
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "mnstatus",
		Short:        "Check the status of DataONE member nodes",
		SilenceUsage: true,
	}
	f := root.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "config file path")
	f.StringVar(&g.registryURL, "cn", "", "coordinating node base URL")
	f.StringVar(&g.indexURL, "solr", "", "search index URL, absolute or relative to the coordinating node")
	f.DurationVar(&g.timeout, "timeout", 0, "request timeout")
	f.StringVar(&g.verbosity, "verbosity", "", "log level (DEBUG, INFO, WARNING, ERROR)")
	f.BoolVarP(&g.json, "json", "J", false, "write JSON")
	f.BoolVar(&g.color, "color", false, "force colored output")
	f.BoolVar(&g.refresh, "refresh", false, "ignore a cached node list")

	root.AddCommand(versionCmd())
	root.AddCommand(nidsCmd(g))
	root.AddCommand(nodeCmd(g))
	root.AddCommand(objectsCmd(g))
	root.AddCommand(cacheCmd(g))
	root.AddCommand(serveCmd(g))

	return root
}

// app is the per-invocation wiring shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *storage.DB
	svc    *probe.Service
	out    report.Options
}

// setup loads the config, applies flag overrides and builds the service.
func (g *globals) setup(cmd *cobra.Command) (*app, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if g.registryURL != "" {
		cfg.Registry.BaseURL = g.registryURL
	}
	if g.indexURL != "" {
		cfg.Index.URL = g.indexURL
	}
	if g.timeout > 0 {
		cfg.HTTP.Timeout = config.Duration{Duration: g.timeout}
	}
	if g.verbosity != "" {
		cfg.Log.Level = g.verbosity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: config.LogLevel(cfg.Log.Level),
	}))

	a := &app{cfg: cfg, logger: logger, out: report.Options{Color: g.color}}
	if !cmd.Flags().Changed("color") {
		if f, ok := cmd.OutOrStdout().(*os.File); ok {
			a.out.Color = isatty.IsTerminal(f.Fd())
		}
	}

	var persistent registry.Cache
	if cfg.Registry.CachePath != "" {
		db, err := storage.Open(cfg.Registry.CachePath)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		a.db = db
		persistent = db
	}
	cache := storage.NewMemory(memoryCacheSize, cfg.Registry.CacheTTL.Duration, persistent)
	a.svc = probe.New(cfg, transport.New(logger), cache, logger)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func serveCmd(g *globals) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve node status over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if cmd.Flags().Changed("address") {
				a.cfg.Server.Address = address
			}
			return runServe(a)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	return cmd
}

func runServe(a *app) error {
	logger := a.logger

	m := metrics.New()
	a.svc.UseMetrics(m)
	apiServer := server.New(a.svc, m, logger)

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", a.cfg.Server.Address, "registry", a.cfg.Registry.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

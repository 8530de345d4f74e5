package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/datasources/internal/api"
	"github.com/zjrosen/datasources/internal/config"
	"github.com/zjrosen/datasources/internal/flags"
	"github.com/zjrosen/datasources/internal/host"
	"github.com/zjrosen/datasources/internal/journal"
	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/metrics"
	"github.com/zjrosen/datasources/internal/tracing"

	// Register data-source readers (providers).
	_ "github.com/zjrosen/datasources/internal/datasource/readers/rdbms"
	_ "github.com/zjrosen/datasources/internal/datasource/readers/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator and its HTTP API",
	Long: `Run the host runtime: bind every compiled-in provider, the naming context
and the configuration source, initialize the configured data sources once the
readiness policy holds, and expose them over HTTP.

Example:
  datasources serve                       # Start on the configured address
  datasources serve --addr :8080          # Override the listen address
  datasources serve -c ./prod.yaml -d     # Explicit config, debug logging`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	source := config.NewViperProvider(viper.GetViper())
	cfg, err := source.Config()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cleanup, err := initLogging(cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()
	log.Info(log.CatConfig, "datasources starting", "config", viper.ConfigFileUsed(), "version", version)

	fl := flags.New(cfg.Flags)

	tp, err := tracing.NewProvider(tracingConfig(cfg.Tracing))
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.NewRecorder()
	}

	var jr *journal.Journal
	if fl.Enabled(flags.FlagJournal) {
		jr, err = journal.Open(cfg.Journal.Path, cfg.Journal.Retain)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() { _ = jr.Close() }()
	}

	h, err := host.New(host.Config{
		Settings:     cfg.Host,
		Flags:        fl,
		ConfigSource: source,
		ConfigPath:   viper.ConfigFileUsed(),
		Journal:      jr,
		Tracer:       tp.Tracer(),
		Metrics:      rec,
	})
	if err != nil {
		return fmt.Errorf("creating host: %w", err)
	}

	handlerCfg := api.HandlerConfig{
		Runtime:     h,
		MetricsPath: cfg.Metrics.Path,
		EventStream: fl.Enabled(flags.FlagEventStream),
	}
	if jr != nil {
		handlerCfg.Journal = jr
	}
	if rec != nil {
		handlerCfg.Metrics = rec.Handler()
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr:        cfg.Server.Addr,
		Handler:     handlerCfg,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Handle shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	if err := h.Start(ctx); err != nil {
		log.ErrorErr(log.CatHost, "Host start failed", err)
	}

	fmt.Printf("datasources started on port %d (state: %s)\n", server.Port(), h.State())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatAPI, "Error stopping API server", err)
	}
	if err := h.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatHost, "Error stopping host", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatTrace, "Error flushing traces", err)
	}

	fmt.Println("datasources stopped")
	return nil
}

func initLogging(cfg config.LogConfig) (func(), error) {
	level := log.ParseLevel(cfg.Level)
	if debugFlag || os.Getenv("DATASOURCES_DEBUG") != "" {
		level = log.LevelDebug
	}

	if cfg.Path == "" {
		log.InitWithWriter(os.Stderr, level)
		return func() {}, nil
	}

	cleanup, err := log.Init(cfg.Path)
	if err != nil {
		return nil, err
	}
	log.SetMinLevel(level)
	return cleanup, nil
}

func tracingConfig(c config.TracingConfig) tracing.Config {
	return tracing.Config{
		Enabled:      c.Enabled,
		Exporter:     c.Exporter,
		FilePath:     c.FilePath,
		OTLPEndpoint: c.OTLPEndpoint,
		SampleRate:   c.SampleRate,
		ServiceName:  "datasources",
	}
}

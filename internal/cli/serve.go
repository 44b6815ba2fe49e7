package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/heatwatch/internal/config"
	"github.com/ogulcanaydogan/heatwatch/internal/server"
	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/jobs"
	"github.com/ogulcanaydogan/heatwatch/pkg/sequence"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the webhook server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("no-jobs", false, "Serve webhooks only, without the periodic jobs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}
	noJobs, _ := cmd.Flags().GetBool("no-jobs")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := initApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	router, err := a.initSenders()
	if err != nil {
		return err
	}
	a.useSender(router)

	dd, err := a.initDedupe(ctx)
	if err != nil {
		return err
	}
	handler := inbound.NewHandler(a.store, a.dispatcher, a.notifier, dd, a.clock, logger, a.metrics)
	handler.SetDedupeTTL(cfg.Redis.TTL)
	defer handler.Wait()

	scheduler := jobs.NewScheduler(a.clock, logger, a.metrics)
	if !noJobs {
		source, err := initHeatSource(cfg)
		if err != nil {
			return err
		}
		heatJob, err := a.heatAlertJob(source)
		if err != nil {
			return err
		}
		if err := scheduler.Register(jobs.HeatAlertName, cfg.Jobs.HeatAlertInterval, heatJob.Run); err != nil {
			return err
		}
		if err := scheduler.Register(jobs.EscalationName, cfg.Jobs.EscalationInterval, a.escalationJob().Run); err != nil {
			return err
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	apiServer := server.NewServer(a.store, handler, sequence.NewOrchestrator(a.store, handler, a.clock, logger), server.Options{
		Secret:      cfg.Server.SignatureSecret,
		Strict:      cfg.Server.SignatureMode == config.SignatureStrict,
		MaxBodySize: cfg.Server.MaxBodySize,
		Gatherer:    a.registry,
	}, logger)

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 60 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("heatwatch started", "listen", cfg.Server.Listen, "jobs", scheduler.Jobs())
		fmt.Fprintf(os.Stderr, "HeatWatch listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("heatwatch stopped")
	return nil
}

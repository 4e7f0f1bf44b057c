package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/fleetmon/internal/api"
	"github.com/edvin/fleetmon/internal/config"
	"github.com/edvin/fleetmon/internal/hcloud"
	"github.com/edvin/fleetmon/internal/lifecycle"
	"github.com/edvin/fleetmon/internal/logging"
	"github.com/edvin/fleetmon/internal/metrics"
	"github.com/edvin/fleetmon/internal/monitor"
	"github.com/edvin/fleetmon/internal/notify"
	"github.com/edvin/fleetmon/internal/reconcile"
	"github.com/edvin/fleetmon/internal/registry"
	"github.com/edvin/fleetmon/internal/schedule"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	dryRun := flag.Bool("dry-run", false, "report instead of mutating the fleet")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)
	logger.Info().
		Strs("class_priority", cfg.ClassPriorityNames()).
		Float64("threshold", cfg.TrafficThreshold).
		Bool("snapshot_before_delete", cfg.SnapshotBeforeDelete).
		Msg("fleet monitor starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fleet := hcloud.NewClient(cfg.APIBaseURL, cfg.APIToken)

	rebuilder := lifecycle.NewRebuilder(fleet, lifecycle.Config{
		ClassPriority:          cfg.ClassPriority,
		ClassNames:             cfg.ClassNames,
		SSHKeyIDs:              cfg.SSHKeyIDs,
		Location:               cfg.Location,
		BaseImage:              cfg.BaseImage,
		CreateAttemptsPerClass: cfg.CreateAttemptsPerClass,
		TransientBackoff:       cfg.TransientBackoff,
		DeletePollInterval:     cfg.DeletePollInterval,
		DeletePollMax:          cfg.DeletePollMax,
		ReleasePollInterval:    cfg.ReleasePollInterval,
		ReleasePollMax:         cfg.ReleasePollMax,
		ProvisionPause:         cfg.ProvisionPause,
		SnapshotBeforeDelete:   cfg.SnapshotBeforeDelete,
		SnapshotPollInterval:   cfg.SnapshotPollInterval,
		SnapshotPollMax:        cfg.SnapshotPollMax,
	}, logger)

	var reg monitor.Registry
	var rec monitor.Reconciler
	if cfg.RegistryURL != "" {
		client := registry.NewClient(cfg.RegistryURL, cfg.RegistryToken)
		reg = client
		rec = reconcile.NewReconciler(client, 0, logger)
	} else {
		logger.Info().Msg("registry not configured, reconciler disabled")
	}

	notifier := notify.NewTelegram(notify.DefaultAPIBaseURL, cfg.TelegramBotToken, cfg.TelegramChatID, logger)
	if !notifier.Enabled() {
		logger.Info().Msg("telegram not configured, reports are log-only")
	}

	var scheduler monitor.Scheduler
	if cfg.SchedulerEnabled {
		window, err := schedule.ParseWindow(cfg.WindowStart, cfg.WindowEnd)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid window")
		}
		scheduler = schedule.NewMachine(window)
		logger.Info().Str("start", cfg.WindowStart).Str("end", cfg.WindowEnd).Msg("scheduler enabled")
	} else {
		scheduler = schedule.Disabled()
	}

	runner := monitor.NewRunner(fleet, rebuilder, rec, reg, notifier, scheduler, monitor.Config{
		Threshold:           cfg.TrafficThreshold,
		Interval:            cfg.CheckInterval,
		ErrorCooldown:       cfg.ErrorCooldown,
		MaxRebuildsPerCycle: cfg.MaxRebuildsPerCycle,
		PreserveAddress:     cfg.PreserveAddress,
		InitialFleetSize:    cfg.InitialFleetSize,
		RegistryTag:         cfg.RegistryTag,
		DryRun:              cfg.DryRun,
	}, logger)

	if *once {
		if err := runner.RunCycle(ctx); err != nil {
			logger.Fatal().Err(err).Msg("cycle failed")
		}
		return
	}

	notifier.SendMessage(ctx, fmt.Sprintf(
		"<b>Fleet monitor started</b>\nthreshold %.0f%%, interval %s",
		cfg.TrafficThreshold*100, cfg.CheckInterval))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	statusServer := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: api.NewServer(logger, runner).Handler(),
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("status API listening")
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return statusServer.Shutdown(shutdownCtx)
	})

	if cfg.MetricsAddr != "" {
		metricsServer := metrics.NewServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

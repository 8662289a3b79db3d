package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transfer_cavity_lock/internal/archive"
	"transfer_cavity_lock/internal/events"
	"transfer_cavity_lock/internal/handlers"
	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/hardware/serialdaq"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/repository"
	"transfer_cavity_lock/internal/repository/db"
	"transfer_cavity_lock/internal/server"
	"transfer_cavity_lock/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	stepDownTimeout = 15 * time.Second
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lock loop and the HTTP API",
		Long: `Run the lock loop and the HTTP API.

The loop stays STOPPED until an operator starts it through POST /api/v1/lock/start.
On SIGINT or SIGTERM a running loop walks the laser voltage to zero and releases
the hardware before the process exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			if err := loadConfig(v, configPath); err != nil {
				return fmt.Errorf("error reading config: %w", err)
			}
			cfg, err := readAppConfig(v)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg appConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logger.Get(cfg.LogLevel)
	if cfg.Auth.SigningKey == "" {
		log.Warnw("auth.signing_key not set; sign-in will fail")
	}
	if len(cfg.Auth.Operators) == 0 {
		log.Infow("auth.operators empty; the first account registered gets the operator role")
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init sqlite: %w", err)
	}
	defer func() {
		if cerr := database.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for the lock loop and background goroutines
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	dev, err := openDevice(ctx, cfg, log)
	if err != nil {
		return err
	}

	repos := repository.NewRepository(database)
	hub := events.NewHub()
	recorder := service.NewRecorder(hub, repos.EventRepo, log.Named("recorder"))

	ctrl, err := lock.New(cfg.Lock, dev,
		lock.WithObserver(recorder),
		lock.WithLogger(log.Named("loop")),
	)
	if err != nil {
		closeDevice(dev, false, log)
		return err
	}

	services := service.NewService(repos, service.Deps{
		RunCtx:     ctx,
		Controller: ctrl,
		Hub:        hub,
		Recorder:   recorder,
		Archive:    archive.NewWriter(cfg.ArchiveDir, cfg.Element, log.Named("archive")),
		Auth:       cfg.Auth,
		Log:        log,
	})
	apiHandler := handlers.NewHandler(services, log)

	go recorder.Run(ctx)

	srv := server.New(cfg.HTTP)
	errc := make(chan error, 1)
	go func() {
		log.Infow("http_listening", "port", cfg.Port, "driver", cfg.Hardware.Driver)
		errc <- srv.Run(cfg.Port, apiHandler.InitRoutes())
	}()

	idle, err := waitForShutdown(cancel, srv, ctrl, errc, log)
	if idle {
		closeDevice(dev, ctrl.Started(), log)
	} else {
		log.Errorw("lock loop still owns the device; leaving it open")
	}
	return err
}

// closeDevice hands the hardware back at exit. Every loop releases the
// device on its own way out, so the release here only covers a session in
// which no loop ran.
func closeDevice(dev hardware.Device, loopRan bool, log *logger.Logger) {
	if !loopRan {
		if err := dev.ReleaseControl(); err != nil {
			log.Warnw("release_control_failed", "err", err)
		}
	}
	if c, ok := dev.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warnw("device_close_failed", "err", err)
		}
	}
}

func openDevice(ctx context.Context, cfg appConfig, log *logger.Logger) (hardware.Device, error) {
	if cfg.Hardware.Driver == driverSerial {
		openCtx := ctx
		if cfg.Hardware.Timeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, cfg.Hardware.Timeout)
			defer cancel()
		}
		dev, err := serialdaq.Open(openCtx, cfg.Hardware.Port, cfg.Hardware.Serial, log.Named("daq"))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Hardware.Port, err)
		}
		return dev, nil
	}
	log.Infow("using simulated hardware", "cavity_peak", cfg.Sim.CavityPeak, "laser_peak", cfg.Sim.LaserPeak)
	return hardware.NewSimulator(cfg.Sim), nil
}

// waitForShutdown blocks until a termination signal or a server error, then
// stops the loop, waits for the laser step-down and shuts the server down.
// idle is false when the loop did not finish in time and may still be
// driving the device.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, ctrl *lock.Controller, errc <-chan error, log *logger.Logger) (idle bool, err error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		log.Infow("shutting down server...")
	case err := <-errc:
		if err != nil {
			runErr = fmt.Errorf("error starting server: %w", err)
		}
	}

	idle = stopLoop(ctrl, stepDownTimeout, log)

	// stop background goroutines
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	// a start request may have slipped in before the listener closed
	if idle {
		idle = stopLoop(ctrl, stepDownTimeout, log)
	}
	return idle, runErr
}

// stopLoop stops a running loop and waits for it to release the device.
// It reports whether the device is free.
func stopLoop(ctrl *lock.Controller, timeout time.Duration, log *logger.Logger) bool {
	if !ctrl.Running() {
		return true
	}
	_ = ctrl.StopRamp()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		log.Errorw("lock loop did not finish", "err", err)
		return false
	}
	return true
}

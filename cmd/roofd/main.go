// Command roofd drives the roll-off roof motor from limit switches, a
// push-button and an HTTP API. SIGUSR1 stops the motor; SIGUSR2 acts like
// a button press.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/obsy-sentinel/internal/config"
	"github.com/sweeney/obsy-sentinel/internal/gpio"
	"github.com/sweeney/obsy-sentinel/internal/mount"
	"github.com/sweeney/obsy-sentinel/internal/roof"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:          "roofd",
		Short:        "Roll-off roof controller",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (defaults only when empty)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	rc := cfg.RoofController

	var ms roof.MountStatus
	if rc.RequireMountParked {
		if cfg.Mount == nil {
			return errors.New("roof_controller.require_mount_parked needs a mount section")
		}
		mc := mount.NewClient(mount.Options{Addr: cfg.Mount.Addr, Timeout: cfg.Mount.Timeout, Logger: log})
		defer mc.Close()
		if err := mc.Connect(ctx); err != nil {
			log.Warn("mount not reachable yet, opening will be refused until it answers", "addr", cfg.Mount.Addr, "err", err)
		}
		ms = mc
	}

	hw, err := gpio.NewRealRoof(rc.Chip, gpio.Pins{
		OpenSensor:     rc.PinOpenSensor,
		ClosedSensor:   rc.PinClosedSensor,
		MotorStart:     rc.PinMotorStart,
		MotorDirection: rc.PinMotorDirection,
		Button:         rc.PinButton,
	})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer hw.Close()

	ln, err := net.Listen("tcp", rc.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rc.Addr, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	return serve(ctx, roof.New(roof.Options{
		Roof:          hw,
		Mount:         ms,
		MountTimeout:  mountTimeout(cfg),
		MotionTimeout: rc.MotionTimeout,
		MinPress:      rc.MinPress,
		Logger:        log,
	}), ln, log, sigCh)
}

func mountTimeout(cfg *config.Config) time.Duration {
	if cfg.Mount == nil {
		return 0
	}
	return cfg.Mount.Timeout
}

func newRouter(c *roof.Controller) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/", roof.Routes(c))
	return r
}

// serve runs the controller and its HTTP API on ln until ctx is cancelled
// or a terminating signal arrives.
func serve(ctx context.Context, c *roof.Controller, ln net.Listener, log *slog.Logger, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{Handler: newRouter(c), ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Run(gctx)
	})
	g.Go(func() error {
		log.Info("roof http api listening", "addr", ln.Addr().String())
		// limit switches and the button keep working without the API
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("roof http api failed", "addr", ln.Addr().String(), "err", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("roof http api shutdown", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case s := <-sig:
				intent, ok := signalIntent(s)
				if !ok {
					log.Info("received signal, shutting down", "signal", s)
					cancel()
					return nil
				}
				rctx, rcancel := context.WithTimeout(gctx, 5*time.Second)
				res, err := c.Request(rctx, intent)
				rcancel()
				log.Info("signal request", "signal", s, "intent", intent, "accepted", res.Accepted, "reason", res.Reason, "err", err)
			}
		}
	})

	return g.Wait()
}

// signalIntent maps the user signals to roof intents. Other signals
// terminate the daemon.
func signalIntent(s os.Signal) (roof.Intent, bool) {
	switch s {
	case syscall.SIGUSR1:
		return roof.IntentStop, true
	case syscall.SIGUSR2:
		return roof.IntentToggle, true
	}
	return 0, false
}

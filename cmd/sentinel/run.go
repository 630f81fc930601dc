package main

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
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/obsy-sentinel/internal/mqtt"
	"github.com/sweeney/obsy-sentinel/internal/web"
)

// mqttRefresh is how often the tracker's MQTT connection flag is updated.
const mqttRefresh = 10 * time.Second

func newRunCmd(g *globals, over overrides) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the safety control loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			log := g.logger(cmd.ErrOrStderr())
			a, err := newApp(cfg, log, over)
			if err != nil {
				return err
			}
			defer a.Close()

			if once {
				d, err := a.loop.RunOnce(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", d.Action, d.Reason)
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			return runDaemon(cmd.Context(), a, sigCh)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// runDaemon runs the control loop and the status server until a signal
// arrives on sig or ctx is cancelled.
func runDaemon(ctx context.Context, a *app, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.tracker.SetMQTTConnected(a.mqttConnected())
	a.publishSystem("STARTUP", "")
	a.log.Info("started",
		"interval", a.cfg.Loop.Interval,
		"broker", a.cfg.MQTT.Broker,
		"http", a.cfg.HTTP.Addr,
		"auto_resume", a.cfg.Loop.AutoResume)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loop.Run(gctx)
	})

	if a.cfg.HTTP.Addr != "" {
		srv := web.New(a.cfg.HTTP.Addr, a.tracker, a.metrics.Handler())
		g.Go(func() error {
			a.log.Info("http status server listening", "addr", a.cfg.HTTP.Addr)
			// the status page is optional; its failure must not stop the loop
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("http status server failed, status page unavailable", "addr", a.cfg.HTTP.Addr, "err", err)
				a.tracker.RecordError()
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.log.Warn("http status server shutdown", "err", err)
			}
			return nil
		})
	}

	if a.pub != nil {
		g.Go(func() error {
			t := time.NewTicker(mqttRefresh)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					a.tracker.SetMQTTConnected(a.mqttConnected())
				}
			}
		})
	}

	g.Go(func() error {
		select {
		case s := <-sig:
			name := signalName(s)
			a.log.Info("received signal, shutting down", "signal", name)
			a.publishSystem("SHUTDOWN", name)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	return g.Wait()
}

func (a *app) publishSystem(event, reason string) {
	if a.pub == nil {
		return
	}
	err := a.pub.PublishSystem(mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     event,
		Reason:    reason,
		Retained:  true,
	})
	if err != nil {
		a.log.Warn("failed to publish system event", "event", event, "err", err)
		return
	}
	a.log.Info("published system event", "event", event)
}

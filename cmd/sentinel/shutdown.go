package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/obsy-sentinel/internal/parkmon"
)

func newShutdownCmd(g *globals, over overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Run the shutdown sequence once, regardless of conditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, g.logger(cmd.ErrOrStderr()), over)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.seq.Run(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "shutdown %s\n", report.ID)
			for _, r := range report.Results {
				fmt.Fprintf(out, "  %s\n", r)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "  DONE")
			return nil
		},
	}
}

func newParkmonCmd(g *globals, over overrides) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "parkmon",
		Short: "Watch a parked mount for drift and re-park it",
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

			mon, err := parkmon.New(parkmon.Options{
				Config:  cfg,
				Gateway: a.dev.gw,
				Native:  a.dev.native,
				Alert:   a.sink,
				Metrics: a.metrics,
				Logger:  log,
				Sleep:   over.Sleep,
			})
			if err != nil {
				return err
			}

			if once {
				res := mon.Check(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "%s drift=%.3f status=%d failures=%d\n",
					res.Outcome, res.Drift, res.NativeStatus, res.Failures)
				return res.Err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mon.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single check and exit")
	return cmd
}

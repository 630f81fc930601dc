package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweeney/obsy-sentinel/internal/safety"
)

// checks maps each diagnostic condition to the evaluator method that
// answers it.
var checks = map[string]func(e *safety.Evaluator, ctx context.Context) safety.Tri{
	"weather":      (*safety.Evaluator).Weather,
	"roof":         (*safety.Evaluator).RoofClosed,
	"mount":        (*safety.Evaluator).MountParked,
	"cap":          (*safety.Evaluator).CapClosed,
	"camera":       (*safety.Evaluator).CameraWarm,
	"mount-native": (*safety.Evaluator).MountNativeParked,
}

func checkNames() []string {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func newCheckCmd(g *globals, over overrides) *cobra.Command {
	names := checkNames()
	return &cobra.Command{
		Use:       "check <" + strings.Join(names, "|") + ">",
		Short:     "Query one safety condition and print true, false or unknown",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			log := g.logger(cmd.ErrOrStderr())
			dev := openDevices(cfg, log, over)
			defer dev.Close()

			eval := safety.NewEvaluator(cfg, dev.gw, dev.native, log)
			result := checks[args[0]](eval, cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

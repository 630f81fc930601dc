// Command sentinel watches observatory safety conditions and runs the
// emergency shutdown sequence when the weather turns while the roof is open.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/obsy-sentinel/internal/config"
)

func main() {
	if err := newRootCmd(overrides{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	debug      bool
}

func (g *globals) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if g.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newRootCmd(over overrides) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "sentinel",
		Short:        "Observatory safety sentinel",
		Long:         "sentinel polls weather, roof, mount, cap and camera state and closes the observatory when conditions become unsafe.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "YAML configuration file (defaults only when empty)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(g, over),
		newCheckCmd(g, over),
		newShutdownCmd(g, over),
		newParkmonCmd(g, over),
		newMkconfCmd(),
	)
	return root
}

func newMkconfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Print an example configuration document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Marshal(config.Example())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

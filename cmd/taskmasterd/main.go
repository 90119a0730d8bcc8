// Command taskmasterd is the supervisor daemon: it loads a program
// configuration, spawns every autostart program, serves the control socket,
// and reacts to operator signals until told to shut down.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"

	"github.com/baylakmongush/taskmaster/internal/config"
	"github.com/baylakmongush/taskmaster/internal/ctlserver"
	"github.com/baylakmongush/taskmaster/internal/dispatch"
	"github.com/baylakmongush/taskmaster/internal/logging"
	"github.com/baylakmongush/taskmaster/internal/supervisor"
)

var (
	configPath string
	socketPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "taskmasterd",
		Short: "Process supervisor daemon",
		RunE:  run,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to taskmaster.yaml (searches default locations if omitted)")
	root.Flags().StringVarP(&socketPath, "socket", "s", "/tmp/taskmaster.sock", "control socket path")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := logging.New(colorable.NewColorableStdout(), logLevel)

	resolved, err := config.Resolve(configPath)
	if err != nil {
		return fmt.Errorf("resolving configuration: %w", err)
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return fmt.Errorf("loading configuration %q: %w", resolved, err)
	}
	logger.Info().Str("config", resolved).Int("programs", len(cfg.Programs)).Msg("configuration loaded")

	super := supervisor.New(logging.Component(logger, "supervisor"))
	super.StartReaping()
	defer super.StopReaping()

	super.Reload(cfg.Programs)

	d := dispatch.New(super, resolved)
	server := ctlserver.New(socketPath, d, logging.Component(logger, "ctlserver"))

	shutdown := func() {
		logger.Info().Msg("draining all groups")
		super.Shutdown()
	}
	reload := func() {
		outcome := d.Dispatch("reload")
		logger.Info().Str("result", outcome.Reply).Msg("reload complete")
	}

	return server.Run(shutdown, reload)
}

// Command meshgw is the mesh gateway core's entrypoint: it wires the
// Framed Transport, Protocol Engine, Delivery Tracker, Session/Admin
// Controller, Link-Quality/Position Estimator, Geofence Engine, Virtual-
// Node Hub, Scheduler Set, auto-welcome and auto-responder into one
// supervised process, plus the `meshgw nodes` and `meshgw channels`
// inspection subcommands over the Store Port adapter. Grounded on the teacher's
// `public/emulated/emulated.go` errgroup-supervised `Run`.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dpaschal/meshcore-gateway/internal/config"
)

var version = "dev"

func main() {
	cfg := config.Default()
	cfg.Version = version

	root := &cobra.Command{
		Use:           "meshgw",
		Short:         "Meshtastic mesh gateway core",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(""); err != nil {
				return err
			}
			lvl, err := log.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("meshgw: invalid --log-level: %w", err)
			}
			log.SetLevel(lvl)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGateway(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(root, &cfg)
	root.AddCommand(newNodesCommand(&cfg))
	root.AddCommand(newChannelsCommand(&cfg))

	if err := root.Execute(); err != nil {
		log.Error("meshgw exited with an error", "err", err)
		os.Exit(1)
	}
}

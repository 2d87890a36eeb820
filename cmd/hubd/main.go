// hubd runs the sensor hub host driver.
//
// Usage:
//
//	hubd run --config /etc/sensorhub/hub.cfg
//	hubd simulate --streams step_counter,pressure --batch accelerometer
//	hubd version
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var version = "dev"

var logLevel string

func main() {
	root := &cobra.Command{
		Use:   "hubd",
		Short: "Sensor hub host driver",
		Long: `hubd drives a sensor hub MCU over I2C or SPI: it programs sampling
rates for the requested streams, services the hub interrupt line, drains the
sample log and publishes decoded events to the log and to websocket clients.

Commands:
  run        Drive the hub described by a configuration file
  simulate   Drive the built-in simulated hub and print its events
  version    Print the driver version`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")

	root.AddCommand(
		runCmd(),
		simulateCmd(),
		versionCmd(),
	)

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the driver version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "hubd %s\n", version)
			return nil
		},
	}
}

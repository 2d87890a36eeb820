package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sensorhub-go/pkg/config"
	"sensorhub-go/pkg/hub"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/metrics"
	"sensorhub-go/pkg/sensor"
)

func runCmd() *cobra.Command {
	var (
		configPath    string
		liveList      string
		batchList     string
		flushInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the hub described by a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := positive("flush-interval", flushInterval); err != nil {
				return err
			}
			live, err := parseStreams(liveList)
			if err != nil {
				return err
			}
			batch, err := parseStreams(batchList)
			if err != nil {
				return err
			}
			hc, err := config.LoadHubConfig(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, hc, live, batch, flushInterval)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "hub configuration file")
	cmd.Flags().StringVar(&liveList, "streams", "", "comma separated streams to enable for live delivery")
	cmd.Flags().StringVar(&batchList, "batch", "", "comma separated streams to enable for batched delivery")
	cmd.Flags().DurationVar(&flushInterval, "flush-interval", 5*time.Second, "sample log flush interval")
	cmd.MarkFlagRequired("config")
	return cmd
}

// positive rejects intervals a ticker cannot run at.
func positive(flag string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("--%s must be positive, got %s", flag, d)
	}
	return nil
}

func run(ctx context.Context, hc *config.HubConfig, live, batch []sensor.Stream, flushInterval time.Duration) error {
	logCloser, err := setupLogging(hc.Log, logLevel)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	logger := log.GetLogger("hubd")

	bus, err := openBus(hc.Bus)
	if err != nil {
		return err
	}
	line, err := openLine(hc, bus)
	if err != nil {
		return err
	}
	defer line.close()

	notifier, ws, err := buildNotifier(hc.Notify)
	if err != nil {
		return err
	}
	if ws != nil {
		defer ws.Shutdown(context.Background())
	}

	hm := metrics.NewHubMetrics()
	h := hub.New(hc, bus, line, notifier, hub.WithMetrics(hm))
	defer h.Close()
	line.attach(h.HandleIRQ)

	if srv := startMetrics(hc.Metrics, hm, h); srv != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}
	if err := enableStreams(ctx, h, live, batch); err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"bus":     hc.Bus.Type,
		"version": h.Version(),
		"live":    len(live),
		"batch":   len(batch),
	}).Info("hub running")

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			hm.UpdateSystemMetrics()
			if !h.Logging() {
				continue
			}
			if n, err := h.Flush(ctx); err != nil {
				logger.WithError(err).Warn("flush failed")
			} else if n > 0 {
				logger.WithField("events", n).Debug("log flushed")
			}
		}
	}
}

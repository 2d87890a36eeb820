package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sensorhub-go/pkg/config"
	"sensorhub-go/pkg/hub"
	"sensorhub-go/pkg/hubsim"
	"sensorhub-go/pkg/irq"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/notify"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

func simulateCmd() *cobra.Command {
	var (
		liveList  string
		batchList string
		duration  time.Duration
		tick      time.Duration
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the built-in simulated hub and print its events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := positive("tick", tick); err != nil {
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
			cfg := config.DefaultHubConfig()
			if _, err := setupLogging(cfg.Log, logLevel); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, duration)
				defer stop()
			}
			return simulate(ctx, cmd.OutOrStdout(), &cfg, live, batch, tick, jsonOut)
		},
	}

	cmd.Flags().StringVar(&liveList, "streams", "step_counter,step_detector,pressure,motion_detect", "comma separated streams to enable for live delivery")
	cmd.Flags().StringVar(&batchList, "batch", "accelerometer,gyroscope", "comma separated streams to enable for batched delivery")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run, 0 for until interrupted")
	cmd.Flags().DurationVar(&tick, "tick", 100*time.Millisecond, "simulated measurement interval")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print events as JSON-RPC notifications")
	return cmd
}

// printer writes events to out, one per line.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *printer) Notify(e sensor.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		json.NewEncoder(p.out).Encode(notify.NewEventMessage(e))
		return
	}
	sec, nsec := e.Split()
	fmt.Fprintf(p.out, "%5d.%09d  %-28s %v\n", sec, nsec, e.Stream, e.Values)
}

func simulate(ctx context.Context, out io.Writer, cfg *config.HubConfig, live, batch []sensor.Stream, tick time.Duration, jsonOut bool) error {
	logger := log.GetLogger("simulate")

	sim := hubsim.New()
	line := irq.NewSoftLine()
	h := hub.New(cfg, sim, line, &printer{out: out, json: jsonOut})
	defer h.Close()
	line.Attach(h.HandleIRQ)
	sim.SetIRQ(line.Trigger)

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start simulated hub: %w", err)
	}
	if err := enableStreams(ctx, h, live, batch); err != nil {
		return err
	}
	logger.WithFields(log.Fields{"version": h.Version(), "live": len(live), "batch": len(batch)}).Info("simulation running")

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	var n uint32
	for {
		select {
		case <-ctx.Done():
			if h.Logging() {
				h.Flush(context.Background())
			}
			st := h.Stats()
			logger.WithFields(log.Fields{
				"commands": st.Executes,
				"records":  st.Replay.Records,
				"drops":    st.Pool.Drops,
			}).Info("simulation finished")
			return nil
		case <-ticker.C:
			n++
			step(sim, n)
			if h.Logging() && n%10 == 0 {
				if _, err := h.Flush(ctx); err != nil && ctx.Err() == nil {
					logger.WithError(err).Warn("flush failed")
				}
			}
		}
	}
}

// step advances the simulated MCU by one measurement interval.
func step(sim *hubsim.Sim, n uint32) {
	var rec []byte
	rec = protocol.AppendRecord(rec, protocol.RecAcc, axes(1, int16(n%64), -int16(n%32), 980))
	rec = protocol.AppendRecord(rec, protocol.RecGyro, axes(1, 3, -2, int16(n%8)))
	sim.AppendLog(rec)

	sim.RaiseDomain(protocol.DomainCustom, protocol.CustomDetail{
		Flags:    protocol.CustomEvtStepCount | protocol.CustomEvtStepDetect,
		Steps:    n,
		Detected: 1,
	}.Encode())
	if n%5 == 0 {
		sim.RaiseDomain(protocol.DomainBaro, protocol.EncodePressure(10132500+n))
	}
	if n%20 == 0 {
		sim.RaiseDomain(protocol.DomainAcc, []byte{protocol.AccEvtMotionDetect})
	}
	if n%50 == 0 {
		sim.RaiseDomain(protocol.DomainGyro, protocol.CalibDetail{Accuracy: 3, Bias: [3]int16{1, -1, 2}}.Encode())
	}
}

func axes(offset uint8, x, y, z int16) []byte {
	b := make([]byte, 7)
	b[0] = offset
	binary.LittleEndian.PutUint16(b[1:], uint16(x))
	binary.LittleEndian.PutUint16(b[3:], uint16(y))
	binary.LittleEndian.PutUint16(b[5:], uint16(z))
	return b
}

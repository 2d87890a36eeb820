package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"sensorhub-go/pkg/config"
	"sensorhub-go/pkg/hub"
	"sensorhub-go/pkg/hubsim"
	"sensorhub-go/pkg/irq"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/metrics"
	"sensorhub-go/pkg/notify"
	"sensorhub-go/pkg/sensor"
	"sensorhub-go/pkg/transport"
)

// setupLogging installs the default logger described by lc. The returned
// closer releases the log file, if any.
func setupLogging(lc config.LogConfig, override string) (io.Closer, error) {
	level := lc.Level
	if override != "" {
		level = override
	}

	var (
		logger *log.Logger
		closer io.Closer
	)
	if lc.File != "" {
		l, fw, err := log.NewFileLogger("sensorhub", log.RotationConfig{
			Filename:   lc.File,
			MaxSizeKB:  lc.MaxSizeKB,
			MaxBackups: lc.MaxBackups,
		}, true)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger, closer = l, fw
	} else {
		logger = log.New("sensorhub")
	}

	logger.SetLevel(log.ParseLevel(level))
	if lc.Format == "json" {
		logger.SetFormat(log.FormatJSON)
	}
	log.ConfigureFromEnv(logger)
	log.SetDefaultLogger(logger)
	return closer, nil
}

// openBus opens the register transport.
func openBus(bc config.BusConfig) (transport.Bus, error) {
	if bc.Type != config.BusSim && bc.Type != config.BusI2CDev {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("periph host init: %w", err)
		}
	}

	switch bc.Type {
	case config.BusSim:
		return hubsim.New(), nil
	case config.BusI2C:
		return transport.OpenPeriphI2C(bc.Device, bc.Address)
	case config.BusI2CDev:
		return transport.OpenI2CDev(bc.Device, bc.Address)
	case config.BusSPI:
		port, err := spireg.Open(bc.Device)
		if err != nil {
			return nil, fmt.Errorf("open spi port %q: %w", bc.Device, err)
		}
		c, err := port.Connect(physic.Frequency(bc.SpeedHz)*physic.Hertz, spi.Mode0, 8)
		if err != nil {
			port.Close()
			return nil, fmt.Errorf("connect spi port %q: %w", bc.Device, err)
		}
		return transport.NewPeriphSPI(c), nil
	}
	return nil, fmt.Errorf("unsupported bus type %q", bc.Type)
}

// interruptLine is the hub interrupt source wired to a driver.
type interruptLine struct {
	irq.Line
	attach func(handler func())
	close  func() error
}

// openLine returns the GPIO line named by the configuration, or a soft
// line raised by the simulator.
func openLine(hc *config.HubConfig, bus transport.Bus) (*interruptLine, error) {
	if sim, ok := bus.(*hubsim.Sim); ok {
		sl := irq.NewSoftLine()
		sim.SetIRQ(sl.Trigger)
		return &interruptLine{Line: sl, attach: sl.Attach, close: func() error { return nil }}, nil
	}
	if hc.IRQ == nil {
		return nil, fmt.Errorf("no interrupt pin configured")
	}
	gl, err := irq.OpenGPIO(hc.IRQ.Name, hc.IRQ.Pullup, hc.IRQ.Invert)
	if err != nil {
		return nil, err
	}
	return &interruptLine{Line: gl, attach: gl.Start, close: gl.Close}, nil
}

// buildNotifier assembles the configured event sinks. The broadcaster is
// nil when the websocket stream is disabled.
func buildNotifier(nc config.NotifyConfig) (*notify.Fanout, *notify.Broadcaster, error) {
	fan := notify.NewFanout()
	if nc.Log {
		fan.Add(notify.NewLogNotifier(nil, log.INFO))
	}
	if nc.WebSocket == "" {
		return fan, nil, nil
	}
	ws := notify.NewBroadcaster()
	if err := ws.Start(nc.WebSocket); err != nil {
		return nil, nil, fmt.Errorf("start event stream: %w", err)
	}
	fan.Add(ws)
	return fan, ws, nil
}

// startMetrics serves hm when enabled. The server reports ready once the
// hub has started.
func startMetrics(mc config.MetricsConfig, hm *metrics.HubMetrics, h *hub.Hub) *metrics.MetricsServer {
	if !mc.Enabled {
		return nil
	}
	srv := metrics.NewMetricsServerWithConfig(hm, metrics.MetricsServerConfig{
		Address:      mc.Address,
		Username:     mc.Username,
		Password:     mc.Password,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	srv.SetReadyCheck(func() error {
		if h.Version() == (hub.Version{}) {
			return fmt.Errorf("hub not started")
		}
		return nil
	})
	errCh := srv.StartAsync()
	go func() {
		if err := <-errCh; err != nil {
			log.GetLogger("metrics").WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}

// parseStreams parses a comma separated stream list.
func parseStreams(list string) ([]sensor.Stream, error) {
	var out []sensor.Stream
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, err := sensor.ParseStream(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// enableStreams turns on live and batched delivery.
func enableStreams(ctx context.Context, h *hub.Hub, live, batch []sensor.Stream) error {
	for _, s := range live {
		if err := h.SetActive(ctx, s, true); err != nil {
			return fmt.Errorf("enable %s: %w", s, err)
		}
	}
	for _, s := range batch {
		if err := h.SetBatchActive(ctx, s, true); err != nil {
			return fmt.Errorf("enable batched %s: %w", s, err)
		}
	}
	return nil
}

package hub

import (
	"context"

	"sensorhub-go/pkg/command"
	"sensorhub-go/pkg/hubctx"
	"sensorhub-go/pkg/irq"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

var accEvents = []struct {
	flag   uint8
	stream sensor.Stream
}{
	{protocol.AccEvtSignificantMotion, sensor.SignificantMotion},
	{protocol.AccEvtMotionDetect, sensor.MotionDetect},
	{protocol.AccEvtMotionStill, sensor.MotionStill},
	{protocol.AccEvtVehicleDetect, sensor.VehicleDetect},
	{protocol.AccEvtGDetect, sensor.GDetect},
}

var gestureEvents = []struct {
	flag   uint8
	stream sensor.Stream
}{
	{protocol.CustomEvtPickup, sensor.Pickup},
	{protocol.CustomEvtTwist, sensor.Twist},
	{protocol.CustomEvtShake, sensor.Shake},
}

// emit delivers e when its stream is enabled live or batched.
func (h *Hub) emit(e Event) {
	if !h.hc.Enabled().Has(e.Stream) {
		return
	}
	h.metrics.RecordEvent(e.Stream.String())
	h.notify.Notify(e)
}

// drainAfter runs fn and then replays the sample log when a logged stream
// is live, so live samples follow their interrupt.
func (h *Hub) drainAfter(fn irq.DomainHandler) irq.DomainHandler {
	return func(ctx context.Context, d protocol.Domain) {
		fn(ctx, d)
		if !h.hc.Snapshot().Live.Any(sensor.LoggedGroup) {
			return
		}
		if _, err := h.replay.Flush(ctx); err != nil {
			h.log.WithError(err).WithField("domain", d).Warn("live sample drain failed")
		}
	}
}

func (h *Hub) detail(ctx context.Context, d protocol.Domain) ([]byte, bool) {
	res, err := h.ch.Do(ctx, protocol.GetIntDetail{Domain: d}, command.ModeReadRegs)
	if err != nil {
		h.log.WithError(err).WithField("domain", d).Warn("interrupt detail read failed")
		return nil, false
	}
	return res.Data, true
}

func (h *Hub) handleAcc(ctx context.Context, d protocol.Domain) {
	b, ok := h.detail(ctx, d)
	if !ok || len(b) == 0 {
		return
	}
	now := h.hc.Clock.Now()
	for _, ev := range accEvents {
		if b[0]&ev.flag != 0 {
			h.emit(Event{Stream: ev.stream, Values: []int32{1}, Timestamp: now})
		}
	}
}

func (h *Hub) handleCustom(ctx context.Context, d protocol.Domain) {
	b, ok := h.detail(ctx, d)
	if !ok {
		return
	}
	cd := protocol.DecodeCustomDetail(b)
	now := h.hc.Clock.Now()
	if cd.Flags&protocol.CustomEvtStepCount != 0 {
		h.emit(Event{Stream: sensor.StepCounter, Values: []int32{int32(cd.Steps)}, Timestamp: now})
	}
	if cd.Flags&protocol.CustomEvtStepDetect != 0 {
		h.emit(Event{Stream: sensor.StepDetector, Values: []int32{int32(cd.Detected)}, Timestamp: now})
	}
	for _, ev := range gestureEvents {
		if cd.Flags&ev.flag != 0 {
			h.emit(Event{Stream: ev.stream, Values: []int32{1}, Timestamp: now})
		}
	}
}

func (h *Hub) handleBaro(ctx context.Context, d protocol.Domain) {
	b, ok := h.detail(ctx, d)
	if !ok {
		return
	}
	p := protocol.DecodePressure(b)
	h.emit(Event{Stream: sensor.Pressure, Values: []int32{int32(p)}, Timestamp: h.hc.Clock.Now()})
}

// handleCalibration refreshes the mag or gyro offsets used to rebuild
// uncalibrated samples.
func (h *Hub) handleCalibration(ctx context.Context, d protocol.Domain) {
	b, ok := h.detail(ctx, d)
	if !ok {
		return
	}
	cd := protocol.DecodeCalibDetail(b)
	prev := h.hc.Accuracy(d)
	h.hc.SetCalibration(d, hubctx.Calibration{
		Bias:     cd.Bias,
		Accuracy: cd.Accuracy,
		Updated:  h.hc.Clock.Now(),
	})
	entry := h.log.WithFields(log.Fields{"domain": d, "bias": cd.Bias, "accuracy": cd.Accuracy})
	if prev != cd.Accuracy {
		entry.WithField("previous", prev).Info("calibration accuracy changed")
		return
	}
	entry.Debug("calibration offsets updated")
}

func (h *Hub) handleFusion(ctx context.Context, d protocol.Domain) {
	b, ok := h.detail(ctx, d)
	if !ok || len(b) == 0 {
		return
	}
	if prev := h.hc.SetAccuracy(d, b[0]); prev != b[0] {
		h.log.WithFields(log.Fields{"accuracy": b[0], "previous": prev}).Info("fusion accuracy changed")
	}
}

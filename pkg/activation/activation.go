// Package activation owns the live and batched stream masks.
//
// Every change runs one transition: update the masks, let the rate
// arbiter reprogram the sampling periods, then diff-apply the derived
// hardware programming (calibration, power mode, accelerometer mode,
// sensor enables, fusion outputs, task enables, sample logging). A failed
// transition restores the previous masks and tries to put the previous
// programming back.
package activation

import (
	"context"
	"sync"
	"time"

	"sensorhub-go/pkg/command"
	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/hubctx"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/rate"
	"sensorhub-go/pkg/sensor"
)

// Recomputer reprograms the sampling periods for new masks.
type Recomputer interface {
	Recompute(ctx context.Context, live, batch sensor.Mask) (hubctx.Timing, error)
}

// Machine serialises activation changes.
type Machine struct {
	mu  sync.Mutex
	hc  *hubctx.Context
	arb Recomputer
	cmd rate.Commander
	log *log.Logger
}

// New creates an activation machine.
func New(hc *hubctx.Context, arb Recomputer, cmd rate.Commander) *Machine {
	return &Machine{
		hc:  hc,
		arb: arb,
		cmd: cmd,
		log: log.GetLogger("activation"),
	}
}

// Derive returns the hardware programming implied by the masks and the
// sampling periods the arbiter chose for them.
func Derive(live, batch sensor.Mask, timing hubctx.Timing) hubctx.Hardware {
	enabled := live | batch
	on := func(slot int) bool { return timing.Periods[slot] != protocol.InfinitePeriod }

	var hw hubctx.Hardware
	hw.Sensors = protocol.SetSensorEnable{
		Acc:  on(protocol.SlotAcc),
		Mag:  on(protocol.SlotMag),
		Gyro: on(protocol.SlotGyro),
		Baro: on(protocol.SlotBaro),
	}
	hw.MagCal = hw.Sensors.Mag
	hw.GyroCal = hw.Sensors.Gyro

	hw.DeepSleep = !enabled.Any(sensor.AlwaysOnGroup)
	if hw.DeepSleep {
		hw.AccMode = protocol.AccModeNormal
	} else {
		hw.AccMode = protocol.AccModeFreeRun
	}

	for i, s := range rate.FusionSlotStreams {
		if enabled.Has(s) {
			hw.FusionMask |= 1 << i
		}
	}
	hw.Tasks = protocol.SetTaskEnable{
		Sensor: hw.Sensors.Acc || hw.Sensors.Mag || hw.Sensors.Gyro || hw.Sensors.Baro,
		App:    enabled.Any(sensor.AppGroup),
		Fusion: hw.FusionMask != 0,
	}
	hw.Logging = sensor.LoggedFamilies(live, batch)
	return hw
}

func checkStream(s sensor.Stream) error {
	if !s.Valid() {
		return huberrors.ArgumentError("unknown stream").SetContext("stream", uint8(s))
	}
	return nil
}

// SetActive enables or disables live delivery of s.
func (m *Machine) SetActive(ctx context.Context, s sensor.Stream, enabled bool) error {
	if err := checkStream(s); err != nil {
		return err
	}
	return m.transition(ctx, "set_active", func(st *hubctx.State) {
		if enabled {
			st.Live = st.Live.With(s)
		} else {
			st.Live = st.Live.Without(s)
		}
	})
}

// SetBatchActive enables or disables batched delivery of s.
func (m *Machine) SetBatchActive(ctx context.Context, s sensor.Stream, enabled bool) error {
	if err := checkStream(s); err != nil {
		return err
	}
	return m.transition(ctx, "set_batch_active", func(st *hubctx.State) {
		if enabled {
			st.Batch = st.Batch.With(s)
		} else {
			st.Batch = st.Batch.Without(s)
		}
	})
}

// SetDelay sets the requested period of s in microseconds. An idle
// stream only records the request.
func (m *Machine) SetDelay(ctx context.Context, s sensor.Stream, periodUs uint32) error {
	if err := checkStream(s); err != nil {
		return err
	}
	if periodUs == 0 {
		return huberrors.ArgumentError("period must be positive").SetContext("stream", s.String())
	}
	return m.transition(ctx, "set_delay", func(st *hubctx.State) {
		st.Delays[s] = periodUs
	})
}

// Sync reprograms everything from scratch for the current masks.
func (m *Machine) Sync(ctx context.Context) error {
	m.hc.Update(func(st *hubctx.State) {
		st.TimingOK = false
		st.HardwareOK = false
	})
	return m.transition(ctx, "sync", func(*hubctx.State) {})
}

// Snapshot returns the current activation state.
func (m *Machine) Snapshot() hubctx.State {
	return m.hc.Snapshot()
}

func (m *Machine) transition(ctx context.Context, op string, mutate func(*hubctx.State)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.hc.Snapshot()
	next := prev
	mutate(&next)

	sameMasks := next.Live == prev.Live && next.Batch == prev.Batch
	if sameMasks && prev.TimingOK && prev.HardwareOK && !next.Enabled().Any(changedDelays(prev, next)) {
		// nothing the hardware sees changed
		m.hc.Update(func(st *hubctx.State) { st.Delays = next.Delays })
		return nil
	}

	m.hc.Update(func(st *hubctx.State) {
		st.Live = next.Live
		st.Batch = next.Batch
		st.Delays = next.Delays
	})

	started := (next.Enabled() &^ prev.Enabled()).Families()
	if started != 0 {
		m.hc.Reconciler.SetPending(started, m.hc.Clock.Now())
	}

	timing, err := m.arb.Recompute(ctx, next.Live, next.Batch)
	if err != nil {
		m.rollback(ctx, prev, false)
		return m.fail(op, err)
	}

	hw := Derive(next.Live, next.Batch, timing)
	if err := m.program(ctx, prev.Hardware, prev.HardwareOK, hw); err != nil {
		m.rollback(ctx, prev, true)
		return m.fail(op, err)
	}

	if started != 0 {
		m.hc.Reconciler.Commit(started)
	}
	m.hc.Metrics.SetActiveStreams(next.Live.Count(), next.Batch.Count())
	m.log.WithFields(log.Fields{
		"op":    op,
		"live":  next.Live,
		"batch": next.Batch,
	}).Debug("activation applied")
	return nil
}

func changedDelays(a, b hubctx.State) sensor.Mask {
	var m sensor.Mask
	for s := sensor.Stream(0); s < sensor.NumStreams; s++ {
		if a.Delays[s] != b.Delays[s] {
			m = m.With(s)
		}
	}
	return m
}

func (m *Machine) fail(op string, err error) error {
	m.hc.Metrics.RecordActivationError()
	m.log.WithError(err).WithField("op", op).Warn("activation failed, previous state restored")
	if huberrors.Is(err, huberrors.ErrStateInconsistency) {
		return err
	}
	return huberrors.StateError(op, err)
}

// program sends the hardware settings that differ from the committed ones
// and commits hw when all of them succeeded.
func (m *Machine) program(ctx context.Context, prev hubctx.Hardware, known bool, hw hubctx.Hardware) error {
	steps := []struct {
		changed bool
		cmd     protocol.Command
	}{
		{!known || hw.MagCal != prev.MagCal || hw.GyroCal != prev.GyroCal,
			protocol.SetCalibration{Mag: hw.MagCal, Gyro: hw.GyroCal}},
		{!known || hw.DeepSleep != prev.DeepSleep, protocol.SetPowerMode{DeepSleep: hw.DeepSleep}},
		{!known || hw.AccMode != prev.AccMode, protocol.SetAccMode{Mode: hw.AccMode}},
		{!known || hw.Sensors != prev.Sensors, hw.Sensors},
		{!known || hw.FusionMask != prev.FusionMask, protocol.SetFusionOutput{Mask: hw.FusionMask}},
		{!known || hw.Tasks != prev.Tasks, hw.Tasks},
		{!known || hw.Logging != prev.Logging, protocol.SetLoggingEnable{Families: uint16(hw.Logging)}},
	}
	for _, step := range steps {
		if !step.changed {
			continue
		}
		if _, err := m.cmd.Do(ctx, step.cmd, command.ModeWait); err != nil {
			return huberrors.StateError(step.cmd.Opcode().String(), err)
		}
		switch step.cmd.(type) {
		case protocol.SetSensorEnable:
			if hw.Sensors.Gyro && (!known || !prev.Sensors.Gyro) {
				m.settle(m.hc.Tuning.GyroSettle)
			}
		case protocol.SetFusionOutput:
			if known || hw.FusionMask != 0 {
				m.settle(m.hc.Tuning.FusionSettle)
			}
		}
	}

	m.hc.Update(func(st *hubctx.State) {
		st.Hardware = hw
		st.HardwareOK = true
	})
	return nil
}

func (m *Machine) settle(d time.Duration) {
	if d > 0 {
		m.hc.Sleep(d)
	}
}

// rollback restores prev's masks and reprograms the sampling periods in
// full, since a failed step may have left some of them applied. When the
// hardware stage was reached the previous hardware programming is resent
// as well. Whatever cannot be restored is marked unknown so the next
// transition sends it in full.
func (m *Machine) rollback(ctx context.Context, prev hubctx.State, hardware bool) {
	m.hc.Update(func(st *hubctx.State) {
		st.Live = prev.Live
		st.Batch = prev.Batch
		st.Delays = prev.Delays
		st.TimingOK = false
	})
	if _, err := m.arb.Recompute(ctx, prev.Live, prev.Batch); err != nil {
		m.log.WithError(err).Warn("rollback could not restore sampling periods")
	}
	if !hardware || !prev.HardwareOK {
		return
	}
	if err := m.program(ctx, prev.Hardware, false, prev.Hardware); err != nil {
		m.log.WithError(err).Warn("rollback could not restore hardware programming")
		m.hc.Update(func(st *hubctx.State) { st.HardwareOK = false })
	}
}

// Package rate derives the hub's hardware sampling programming from the
// requested stream periods.
//
// Compute is pure: given the live and batched masks and the requested
// periods it returns the shared sensor period, the fusion period, the
// per-sensor sampling periods and the decimation counts. Arbiter.Recompute
// sends the programming that differs from what was last committed and
// commits the new programming only when every command succeeded.
package rate

import (
	"context"

	"sensorhub-go/pkg/command"
	"sensorhub-go/pkg/config"
	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/hubctx"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

// MaxDecimation is the largest count a decimation register holds.
const MaxDecimation = 255

// Bucket is the fusion configuration the active fusion streams need.
type Bucket uint8

const (
	BucketNone Bucket = iota
	BucketAccGyro
	BucketAccMag
	BucketNineAxis
)

func (b Bucket) String() string {
	switch b {
	case BucketAccGyro:
		return "acc+gyro"
	case BucketAccMag:
		return "acc+mag"
	case BucketNineAxis:
		return "nine-axis"
	}
	return "none"
}

// BucketFor classifies the enabled fusion streams.
func BucketFor(enabled sensor.Mask) Bucket {
	needGyro := enabled.Any(sensor.NineAxisGroup | sensor.AccGyroGroup)
	needMag := enabled.Any(sensor.NineAxisGroup | sensor.AccMagGroup)
	switch {
	case needGyro && needMag:
		return BucketNineAxis
	case needMag:
		return BucketAccMag
	case needGyro:
		return BucketAccGyro
	}
	return BucketNone
}

// SlotStreams lists the streams served by each physical sensor slot.
var SlotStreams = [protocol.NumSlots]sensor.Mask{
	protocol.SlotAcc:  sensor.AccelGroup,
	protocol.SlotMag:  sensor.MagGroup,
	protocol.SlotGyro: sensor.GyroGroup,
	protocol.SlotBaro: sensor.BaroGroup,
}

// FusionSlotStreams maps fusion output slots to their streams.
var FusionSlotStreams = [protocol.NumFusionSlots]sensor.Stream{
	protocol.FusionOrientation:        sensor.Orientation,
	protocol.FusionGravity:            sensor.Gravity,
	protocol.FusionLinearAcc:          sensor.LinearAcceleration,
	protocol.FusionRotationVector:     sensor.RotationVector,
	protocol.FusionGameRotationVector: sensor.GameRotationVector,
	protocol.FusionGeoRotationVector:  sensor.GeomagneticRotationVector,
}

// Request is the input of Compute.
type Request struct {
	Live   sensor.Mask
	Batch  sensor.Mask
	Delays [sensor.NumStreams]uint32
}

// Plan is the output of Compute.
type Plan struct {
	hubctx.Timing
	Bucket Bucket
	// Delays are the requested periods with idle streams reset.
	Delays [sensor.NumStreams]uint32
}

func targetFor(b config.BucketTargets, slot int) uint32 {
	switch slot {
	case protocol.SlotAcc:
		return b.AccUs
	case protocol.SlotMag:
		return b.MagUs
	case protocol.SlotGyro:
		return b.GyroUs
	}
	return 0
}

func bucketTargets(t config.Tuning, b Bucket) config.BucketTargets {
	switch b {
	case BucketNineAxis:
		return t.Buckets.NineAxis
	case BucketAccMag:
		return t.Buckets.AccMag
	case BucketAccGyro:
		return t.Buckets.AccGyro
	}
	return config.BucketTargets{}
}

func minDelay(m sensor.Mask, delays *[sensor.NumStreams]uint32) uint32 {
	out := protocol.InfinitePeriod
	for _, s := range m.Streams() {
		if delays[s] < out {
			out = delays[s]
		}
	}
	return out
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// decimation returns how many shared periods fit in periodUs, rounded and
// clamped to the register range.
func decimation(periodUs, sharedUs uint32) uint8 {
	if sharedUs == 0 {
		return 1
	}
	n := (uint64(periodUs) + uint64(sharedUs)/2) / uint64(sharedUs)
	if n < 1 {
		return 1
	}
	if n > MaxDecimation {
		return MaxDecimation
	}
	return uint8(n)
}

// evenCount is where live counts would be forced even; the firmware
// accepts any count so it is the identity.
func evenCount(n uint8) uint8 {
	return n
}

// Compute derives the sampling programming for req.
func Compute(req Request, t config.Tuning) Plan {
	var p Plan
	enabled := req.Live | req.Batch

	// Idle streams forget their requested period.
	for s := sensor.Stream(0); s < sensor.NumStreams; s++ {
		if enabled.Has(s) {
			p.Delays[s] = req.Delays[s]
		} else {
			p.Delays[s] = protocol.InfinitePeriod
		}
	}

	p.FusionUs = protocol.InfinitePeriod
	if fusion := enabled & sensor.FusionGroup; fusion != 0 {
		f := minDelay(fusion, &p.Delays)
		if f == protocol.InfinitePeriod {
			f = t.DefaultTaskPeriodUs
		}
		if f < t.FusionMinUs {
			f = t.FusionMinUs
		}
		p.FusionUs = f
	}

	p.Bucket = BucketFor(enabled)
	targets := bucketTargets(t, p.Bucket)
	for slot := 0; slot < protocol.NumSlots; slot++ {
		requested := minDelay(enabled&SlotStreams[slot], &p.Delays)
		active := enabled.Any(SlotStreams[slot])
		period := requested
		if target := targetFor(targets, slot); target != 0 {
			active = true
			period = min32(requested, target)
		} else if def := targetFor(t.Buckets.Default, slot); active && def != 0 {
			period = min32(requested, def)
		}
		if !active {
			p.Periods[slot] = protocol.InfinitePeriod
			continue
		}
		p.Periods[slot] = t.SlotBounds(slot).Clamp(period)
	}

	shared := t.DefaultTaskPeriodUs
	if req.Batch != 0 {
		shared = t.BatchMinUs
	}
	shared = min32(shared, p.FusionUs)
	for _, period := range p.Periods {
		shared = min32(shared, period)
	}

	// Accelerometer features cap both the accelerometer and the shared
	// period.
	for _, s := range (enabled & sensor.AppGroup).Streams() {
		fp, ok := t.FeaturePeriod(s)
		if !ok {
			fp = t.DefaultTaskPeriodUs
		}
		acc := min32(p.Periods[protocol.SlotAcc], fp)
		p.Periods[protocol.SlotAcc] = t.Acc.Clamp(acc)
		shared = min32(shared, p.Periods[protocol.SlotAcc])
	}

	p.SensorUs = protocol.QuantizePeriod(shared)

	for slot := 0; slot < protocol.NumSlots; slot++ {
		bounds := t.SlotBounds(slot)
		if live := req.Live & SlotStreams[slot]; live != 0 {
			period := bounds.Clamp(minDelay(live, &p.Delays))
			p.Live[slot] = evenCount(decimation(period, p.SensorUs))
		}
		if batch := req.Batch & SlotStreams[slot]; batch != 0 {
			period := bounds.Clamp(minDelay(batch, &p.Delays))
			p.Batch[slot] = decimation(period, p.SensorUs)
		}
	}
	for i, s := range FusionSlotStreams {
		if !req.Batch.Has(s) {
			continue
		}
		period := p.Delays[s]
		if period == protocol.InfinitePeriod {
			period = p.FusionUs
		}
		if period < t.FusionMinUs {
			period = t.FusionMinUs
		}
		p.FusionBatch[i] = decimation(period, p.SensorUs)
	}
	return p
}

// Commander sends a command and waits for its completion.
type Commander interface {
	Do(ctx context.Context, cmd protocol.Command, mode command.Mode) (*command.Result, error)
}

// Arbiter programs the hub's sampling periods.
type Arbiter struct {
	hc  *hubctx.Context
	cmd Commander
	log *log.Logger
}

// NewArbiter creates an arbiter sending through cmd.
func NewArbiter(hc *hubctx.Context, cmd Commander) *Arbiter {
	return &Arbiter{
		hc:  hc,
		cmd: cmd,
		log: log.GetLogger("rate"),
	}
}

// Recompute derives the programming for live and batch, sends what
// differs from the committed programming and commits the result. On
// failure nothing is committed and the previous timing is returned.
func (a *Arbiter) Recompute(ctx context.Context, live, batch sensor.Mask) (hubctx.Timing, error) {
	st := a.hc.Snapshot()
	plan := Compute(Request{Live: live, Batch: batch, Delays: st.Delays}, a.hc.Tuning)
	prev, known := st.Timing, st.TimingOK

	steps := []struct {
		changed bool
		cmd     protocol.Command
	}{
		{!known || plan.SensorUs != prev.SensorUs || plan.FusionUs != prev.FusionUs,
			protocol.SetTaskPeriod{SensorUs: plan.SensorUs, FusionUs: plan.FusionUs}},
		{!known || plan.Live != prev.Live, protocol.SetDecimation{Counts: plan.Live}},
		{!known || plan.Batch != prev.Batch, protocol.SetBatchDecimation{Counts: plan.Batch}},
		{!known || plan.FusionBatch != prev.FusionBatch, protocol.SetFusionBatchDecimation{Counts: plan.FusionBatch}},
	}
	for _, step := range steps {
		if !step.changed {
			continue
		}
		if _, err := a.cmd.Do(ctx, step.cmd, command.ModeWait); err != nil {
			a.hc.Metrics.RecordRecompute(prev.SensorUs, prev.FusionUs, err)
			a.log.WithError(err).WithField("step", step.cmd.Opcode()).Warn("rate programming aborted")
			return prev, huberrors.StateError(step.cmd.Opcode().String(), err)
		}
	}

	a.hc.Update(func(s *hubctx.State) {
		s.Timing = plan.Timing
		s.TimingOK = true
		s.Delays = plan.Delays
	})
	a.hc.Reconciler.SetTaskPeriod(plan.SensorUs)
	a.hc.Metrics.RecordRecompute(plan.SensorUs, plan.FusionUs, nil)
	a.log.WithFields(log.Fields{
		"sensor_us": plan.SensorUs,
		"fusion_us": plan.FusionUs,
		"bucket":    plan.Bucket,
		"live":      plan.Live,
		"batch":     plan.Batch,
	}).Debug("sampling programmed")
	return plan.Timing, nil
}

package logreplay

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"sensorhub-go/pkg/clocksync"
	"sensorhub-go/pkg/command"
	"sensorhub-go/pkg/config"
	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/hubctx"
	"sensorhub-go/pkg/hubsim"
	"sensorhub-go/pkg/irq"
	"sensorhub-go/pkg/pool"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

const (
	testNow  int64 = 1_000_000_000
	testBase int64 = 500_000_000
	cycleNs  int64 = 20_000_000 // 20 ms task period
)

type collector struct {
	mu     sync.Mutex
	events []sensor.Event
}

func (c *collector) Notify(e sensor.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []sensor.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sensor.Event(nil), c.events...)
}

type rig struct {
	sim *hubsim.Sim
	hc  *hubctx.Context
	eng *Engine
	out *collector
}

func newRig(t *testing.T, batch sensor.Mask, delays map[sensor.Stream]uint32) *rig {
	t.Helper()
	sim := hubsim.New()
	ch := command.NewChannel(sim, command.WithTimeouts(command.Timeouts{Normal: time.Second}))
	line := irq.NewSoftLine()
	wp := pool.NewWorkPool(4)
	d := irq.NewDispatcher(sim, ch, line, wp)
	line.Attach(d.HandleIRQ)
	sim.SetIRQ(line.Trigger)
	t.Cleanup(func() {
		d.Close()
		wp.Close()
	})

	hc := hubctx.New(config.DefaultTuning(),
		hubctx.WithClock(clocksync.ClockFunc(func() int64 { return testNow })))
	hc.Update(func(st *hubctx.State) {
		st.Batch = batch
		for s, us := range delays {
			st.Delays[s] = us
		}
	})
	hc.Reconciler.SetTaskPeriod(20000)
	hc.Reconciler.CommitAt(sensor.AllFamilies, testBase)

	out := &collector{}
	return &rig{sim: sim, hc: hc, eng: New(hc, ch, out), out: out}
}

func xyz(off uint8, x, y, z int16) []byte {
	b := []byte{off, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint16(b[1:], uint16(x))
	binary.LittleEndian.PutUint16(b[3:], uint16(y))
	binary.LittleEndian.PutUint16(b[5:], uint16(z))
	return b
}

func stepCount(off uint8, steps uint32) []byte {
	b := []byte{off, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[1:], steps)
	return b
}

func TestFlushThreeRecords(t *testing.T) {
	r := newRig(t, sensor.Accelerometer.Bit()|sensor.Gyroscope.Bit()|sensor.StepCounter.Bit(),
		map[sensor.Stream]uint32{
			sensor.Accelerometer: 20000,
			sensor.Gyroscope:     20000,
			sensor.StepCounter:   200000,
		})

	var log []byte
	log = protocol.AppendRecord(log, protocol.RecAcc, xyz(2, 10, -20, 30))
	log = protocol.AppendRecord(log, protocol.RecGyro, xyz(1, 1, 2, 3))
	log = protocol.AppendRecord(log, protocol.RecStepCount, stepCount(3, 1234))
	r.sim.AppendLog(log)
	r.sim.SetDelta(int(sensor.FamilyAcc), 5)
	r.sim.SetDelta(int(sensor.FamilyPedometer), 10)

	n, err := r.eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 3 {
		t.Fatalf("delivered %d events, want 3", n)
	}

	events := r.out.all()
	want := []struct {
		stream sensor.Stream
		ts     int64
		first  int32
	}{
		{sensor.Accelerometer, testBase + 7*cycleNs, 10},
		{sensor.Gyroscope, testBase + 1*cycleNs, 1},
		{sensor.StepCounter, testBase + 13*cycleNs, 1234},
	}
	for i, w := range want {
		e := events[i]
		if e.Stream != w.stream || e.Timestamp != w.ts || e.Values[0] != w.first {
			t.Errorf("event %d = %v, want %s@%d first value %d", i, e, w.stream, w.ts, w.first)
		}
	}
	if events[0].Values[1] != -20 {
		t.Errorf("acc y = %d, want -20", events[0].Values[1])
	}

	// drift larger than the threshold: pending bases committed outright
	for _, f := range []sensor.Family{sensor.FamilyAcc, sensor.FamilyGyro, sensor.FamilyPedometer} {
		if got := r.hc.Reconciler.Committed(f); got != testNow {
			t.Errorf("committed %s = %d, want %d", f, got, testNow)
		}
	}
	if r.sim.LogSize() != 0 {
		t.Error("log not drained")
	}
}

func TestFlushDeltaAppliedOncePerFamily(t *testing.T) {
	r := newRig(t, sensor.Accelerometer.Bit(), map[sensor.Stream]uint32{sensor.Accelerometer: 20000})

	var log []byte
	log = protocol.AppendRecord(log, protocol.RecAcc, xyz(2, 0, 0, 0))
	log = protocol.AppendRecord(log, protocol.RecAcc, xyz(3, 0, 0, 0))
	log = protocol.AppendRecord(log, protocol.RecAcc, xyz(0, 0, 0, 0))
	r.sim.AppendLog(log)
	r.sim.SetDelta(int(sensor.FamilyAcc), 5)

	if _, err := r.eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	events := r.out.all()
	want := []int64{testBase + 7*cycleNs, testBase + 10*cycleNs, testBase + 10*cycleNs}
	if len(events) != len(want) {
		t.Fatalf("got %d events", len(events))
	}
	for i, ts := range want {
		if events[i].Timestamp != ts {
			t.Errorf("event %d at %d, want %d", i, events[i].Timestamp, ts)
		}
		if i > 0 && events[i].Timestamp < events[i-1].Timestamp {
			t.Errorf("timestamps went backwards at %d", i)
		}
	}
}

func TestFlushMalformedDeliversNothing(t *testing.T) {
	tests := []struct {
		name string
		log  []byte
	}{
		{"unknown tag", append(protocol.AppendRecord(nil, protocol.RecAcc, xyz(1, 1, 1, 1)), 0x7F, 0, 0)},
		{"truncated record", append(protocol.AppendRecord(nil, protocol.RecAcc, xyz(1, 1, 1, 1)), byte(protocol.RecGyro), 1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, sensor.Accelerometer.Bit(), map[sensor.Stream]uint32{sensor.Accelerometer: 20000})
			r.sim.AppendLog(tt.log)

			n, err := r.eng.Flush(context.Background())
			if !huberrors.Is(err, huberrors.ErrBadRecord) {
				t.Fatalf("err = %v, want BAD_RECORD", err)
			}
			if n != 0 || len(r.out.all()) != 0 {
				t.Errorf("events delivered from a malformed log")
			}
			if r.hc.Reconciler.Committed(sensor.FamilyAcc) != testBase {
				t.Error("malformed log moved the timestamp base")
			}
		})
	}
}

func bigLog(records int) []byte {
	var log []byte
	for i := 0; i < records; i++ {
		log = protocol.AppendRecord(log, protocol.RecAcc, xyz(1, int16(i), 0, 0))
	}
	return log
}

func TestFlushMultipleBlocks(t *testing.T) {
	r := newRig(t, sensor.Accelerometer.Bit(), map[sensor.Stream]uint32{sensor.Accelerometer: 20000})
	r.sim.AppendLog(bigLog(200)) // 1600 bytes

	n, err := r.eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 200 {
		t.Fatalf("delivered %d events, want 200", n)
	}
	if got := r.sim.Count(protocol.OpLoggingGetBlock); got != 3 {
		t.Errorf("LOGGING_GET_BLOCK issued %d times, want 3", got)
	}
	events := r.out.all()
	if events[199].Values[0] != 199 {
		t.Errorf("last record x = %d, blocks reassembled out of order", events[199].Values[0])
	}
}

func TestFlushBlockSizeMismatch(t *testing.T) {
	r := newRig(t, sensor.Accelerometer.Bit(), map[sensor.Stream]uint32{sensor.Accelerometer: 20000})
	r.sim.AppendLog(bigLog(100))
	r.sim.InjectBlockShortfall(1)

	n, err := r.eng.Flush(context.Background())
	if !huberrors.Is(err, huberrors.ErrSizeMismatch) {
		t.Fatalf("err = %v, want SIZE_MISMATCH", err)
	}
	if n != 0 || len(r.out.all()) != 0 {
		t.Error("events delivered from a short transfer")
	}
	if st := r.eng.GetStats(); st.Failures != 1 {
		t.Errorf("failures = %d", st.Failures)
	}
}

func TestFlushEmptyCommitsPending(t *testing.T) {
	r := newRig(t, sensor.Gyroscope.Bit(), map[sensor.Stream]uint32{sensor.Gyroscope: 20000})

	n, err := r.eng.Flush(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	if got := r.hc.Reconciler.Committed(sensor.FamilyGyro); got != testNow {
		t.Errorf("committed = %d, want %d", got, testNow)
	}
	if got := r.hc.Reconciler.Committed(sensor.FamilyAcc); got != testBase {
		t.Errorf("unbatched family moved to %d", got)
	}
}

func TestFlushSkipsDisabledStreams(t *testing.T) {
	r := newRig(t, sensor.Accelerometer.Bit(), map[sensor.Stream]uint32{sensor.Accelerometer: 20000})
	var log []byte
	log = protocol.AppendRecord(log, protocol.RecMag, append(xyz(4, 1, 2, 3), 3))
	log = protocol.AppendRecord(log, protocol.RecAcc, xyz(1, 0, 0, 0))
	r.sim.AppendLog(log)

	n, err := r.eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 1 || r.out.all()[0].Stream != sensor.Accelerometer {
		t.Errorf("events = %v", r.out.all())
	}
}

func TestFlushCalibrationAndUncalibrated(t *testing.T) {
	batch := sensor.Gyroscope.Bit() | sensor.GyroscopeUncalibrated.Bit()
	r := newRig(t, batch, map[sensor.Stream]uint32{
		sensor.Gyroscope:             20000,
		sensor.GyroscopeUncalibrated: 20000,
	})

	cal := make([]byte, 6)
	binary.LittleEndian.PutUint16(cal[0:], uint16(5))
	binary.LittleEndian.PutUint16(cal[2:], uint16(0xFFF6)) // -10
	binary.LittleEndian.PutUint16(cal[4:], uint16(1))
	var log []byte
	log = protocol.AppendRecord(log, protocol.RecGyroCal, cal)
	log = protocol.AppendRecord(log, protocol.RecGyro, xyz(1, 100, 200, 300))
	log = protocol.AppendRecord(log, protocol.RecTotalStatusShort, []byte{1, 0, 0, 0})
	r.sim.AppendLog(log)

	n, err := r.eng.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 2 {
		t.Fatalf("delivered %d events, want 2", n)
	}
	if c := r.hc.Calibration(protocol.DomainGyro); c.Bias != [3]int16{5, -10, 1} || c.Updated != testNow {
		t.Errorf("calibration cache = %+v", c)
	}
	unc := r.out.all()[1]
	want := []int32{105, 190, 301, 5, -10, 1}
	if unc.Stream != sensor.GyroscopeUncalibrated || len(unc.Values) != len(want) {
		t.Fatalf("second event = %v", unc)
	}
	for i := range want {
		if unc.Values[i] != want[i] {
			t.Errorf("uncalibrated value %d = %d, want %d", i, unc.Values[i], want[i])
		}
	}
	if st := r.eng.GetStats(); st.Status != 1 || st.Records != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFlushFlashCorrection(t *testing.T) {
	const base = testNow - 30_000_000
	tests := []struct {
		name   string
		batch  sensor.Mask
		delays map[sensor.Stream]uint32
		want   int64
	}{
		{
			// requested period is the task period and the acc drift is
			// 10 ms against a 16 ms limit
			name:   "periods match",
			batch:  sensor.Accelerometer.Bit(),
			delays: map[sensor.Stream]uint32{sensor.Accelerometer: 20000},
			want:   testNow - 5_000_000,
		},
		{
			name:   "periods differ",
			batch:  sensor.Accelerometer.Bit(),
			delays: map[sensor.Stream]uint32{sensor.Accelerometer: 40000},
			want:   testNow,
		},
		{
			// the pedometer is the slowest batched family and drifted 30 ms
			name:  "slowest family drifted",
			batch: sensor.Accelerometer.Bit() | sensor.StepCounter.Bit(),
			delays: map[sensor.Stream]uint32{
				sensor.Accelerometer: 20000,
				sensor.StepCounter:   200000,
			},
			want: testNow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.batch, tt.delays)
			r.hc.Reconciler.CommitAt(sensor.AllFamilies, base)
			r.sim.AppendLog(protocol.AppendRecord(nil, protocol.RecAcc, xyz(1, 0, 0, 0)))

			n, err := r.eng.Flush(context.Background())
			if err != nil || n != 1 {
				t.Fatalf("Flush = %d, %v", n, err)
			}
			if got := r.out.all()[0].Timestamp; got != base+cycleNs {
				t.Errorf("sample at %d, want %d", got, base+cycleNs)
			}
			if got := r.hc.Reconciler.Committed(sensor.FamilyAcc); got != tt.want {
				t.Errorf("committed = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFlushLiveOnlyStream(t *testing.T) {
	r := newRig(t, 0, map[sensor.Stream]uint32{sensor.Accelerometer: 20000})
	r.hc.Update(func(st *hubctx.State) { st.Live = sensor.Accelerometer.Bit() })
	r.sim.AppendLog(protocol.AppendRecord(nil, protocol.RecAcc, xyz(2, 7, 8, 9)))

	n, err := r.eng.Flush(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	if e := r.out.all()[0]; e.Stream != sensor.Accelerometer || e.Timestamp != testBase+2*cycleNs {
		t.Errorf("event = %v", e)
	}
	// nothing batched, so the base jumps to the delimiter time
	if got := r.hc.Reconciler.Committed(sensor.FamilyAcc); got != testNow {
		t.Errorf("committed = %d, want %d", got, testNow)
	}
	if got := r.hc.Reconciler.Committed(sensor.FamilyGyro); got != testBase {
		t.Errorf("unlogged family moved to %d", got)
	}
}

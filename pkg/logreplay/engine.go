// Package logreplay drains the hub's sample log.
//
// The MCU logs every family with a batched stream, and every family of a
// live stream that has no other path to the host (motion and fusion
// samples). Replayed events are delivered for streams enabled live or
// batched; records of other streams are dropped.
//
// A flush issues LOGGING_DELIMITER, which closes the log at a time
// boundary and returns a header (payload size and one task-cycle delta per
// timestamp family) followed by the first part of the payload. Further
// blocks are pulled with LOGGING_GET_BLOCK; the MCU must report exactly
// the size that was asked for. The assembled payload is validated in full
// before any event is delivered.
//
// Timestamps are rebuilt from the committed base of each family. The
// first record of a family in a flush adds the header delta for that
// family, every record adds its own offset counter, and each computed
// timestamp becomes the new base so a batch chains forward.
package logreplay

import (
	"context"
	"sync"

	"sensorhub-go/pkg/command"
	huberrors "sensorhub-go/pkg/errors"
	"sensorhub-go/pkg/hubctx"
	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/pool"
	"sensorhub-go/pkg/protocol"
	"sensorhub-go/pkg/sensor"
)

// Channel is the part of the command channel a flush needs.
type Channel interface {
	Do(ctx context.Context, cmd protocol.Command, mode command.Mode) (*command.Result, error)
	ReadFIFO(op protocol.Opcode) (*command.Result, error)
	Unlock()
}

// Stats counts flush activity.
type Stats struct {
	Flushes  uint64
	Failures uint64
	Bytes    uint64
	Records  uint64
	Events   uint64
	Status   uint64
}

// Engine replays the sample log.
type Engine struct {
	mu     sync.Mutex
	hc     *hubctx.Context
	ch     Channel
	notify sensor.Notifier
	stats  Stats
	log    *log.Logger
}

// New creates a replay engine delivering to n.
func New(hc *hubctx.Context, ch Channel, n sensor.Notifier) *Engine {
	if n == nil {
		n = sensor.Discard
	}
	return &Engine{
		hc:     hc,
		ch:     ch,
		notify: n,
		log:    log.GetLogger("logreplay"),
	}
}

// Flush drains the log and returns the number of events delivered.
func (e *Engine) Flush(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Flushes++
	n, size, err := e.flush(ctx)
	if err != nil {
		e.stats.Failures++
		e.hc.Metrics.RecordFlush(size, string(huberrors.Code(err)))
		e.log.WithError(err).Warn("log flush failed")
		return 0, err
	}
	e.hc.Metrics.RecordFlush(size, "")
	return n, nil
}

func (e *Engine) flush(ctx context.Context) (int, int, error) {
	st := e.hc.Snapshot()
	logged := sensor.LoggedFamilies(st.Live, st.Batch)

	first, err := e.delimit(ctx, logged)
	if err != nil {
		return 0, 0, err
	}
	hdr, err := protocol.DecodeDelimiterHeader(first)
	if err != nil {
		return 0, len(first), huberrors.SizeMismatchError(protocol.DelimiterHeaderSize, len(first))
	}
	total := int(hdr.Total)
	chunk := first[protocol.DelimiterHeaderSize:]
	if len(chunk) > total {
		return 0, len(first), huberrors.SizeMismatchError(total, len(chunk))
	}

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	buf.Grow(total)
	buf.Write(chunk)

	for buf.Len() < total {
		want := total - buf.Len()
		if want > protocol.FIFOSize {
			want = protocol.FIFOSize
		}
		res, err := e.ch.Do(ctx, protocol.LoggingGetBlock{Size: uint16(want)}, command.ModeReadFIFO)
		if err != nil {
			return 0, buf.Len(), err
		}
		if res.Size != want || len(res.Data) != want {
			return 0, buf.Len(), huberrors.SizeMismatchError(want, res.Size).SetOp(protocol.OpLoggingGetBlock.String())
		}
		buf.Write(res.Data)
	}
	e.stats.Bytes += uint64(total)

	if total == 0 {
		if logged != 0 {
			e.hc.Reconciler.Commit(logged)
		}
		return 0, 0, nil
	}

	recs, err := parseRecords(buf.Bytes())
	if err != nil {
		return 0, total, err
	}
	n := e.replay(recs, hdr, st.Enabled())

	if logged != 0 {
		ref, minDelay := slowest(st)
		adjusted := e.hc.Reconciler.FlashAdjust(logged, ref, minDelay == e.hc.Reconciler.TaskPeriod())
		e.log.WithFields(log.Fields{
			"bytes":    total,
			"records":  len(recs),
			"events":   n,
			"adjusted": adjusted,
		}).Debug("log flushed")
	}
	return n, total, nil
}

// delimit issues LOGGING_DELIMITER and reads its FIFO result. The host
// time is sampled between completion and the FIFO read and becomes the
// pending base of every logged family.
func (e *Engine) delimit(ctx context.Context, logged sensor.FamilyMask) ([]byte, error) {
	op := protocol.OpLoggingDelimiter
	if _, err := e.ch.Do(ctx, protocol.LoggingDelimiter{}, command.ModeWait|command.ModeSkipUnlock); err != nil {
		return nil, err
	}
	now := e.hc.Clock.Now()
	res, err := e.ch.ReadFIFO(op)
	e.ch.Unlock()
	if err != nil {
		return nil, err
	}
	if logged != 0 {
		e.hc.Reconciler.SetPending(logged, now)
	}
	return res.Data, nil
}

// slowest returns the family of the batched stream with the longest
// requested period and the shortest requested period among batched
// streams. With nothing batched the periods never match and the flush
// commits outright.
func slowest(st hubctx.State) (sensor.Family, uint32) {
	ref := sensor.NoFamily
	var maxDelay uint32
	minDelay := protocol.InfinitePeriod
	for _, s := range st.Batch.Streams() {
		f := sensor.FamilyOf(s)
		if f == sensor.NoFamily {
			continue
		}
		d := st.Delays[s]
		if d < minDelay {
			minDelay = d
		}
		if ref == sensor.NoFamily || d > maxDelay {
			ref, maxDelay = f, d
		}
	}
	return ref, minDelay
}

func (e *Engine) replay(recs []record, hdr protocol.DelimiterHeader, enabled sensor.Mask) int {
	var used sensor.FamilyMask
	n := 0
	emit := func(s sensor.Stream, values []int32, ts int64) {
		if !enabled.Has(s) {
			return
		}
		e.notify.Notify(sensor.Event{Stream: s, Values: values, Timestamp: ts})
		e.hc.Metrics.RecordEvent(s.String())
		n++
	}

	for _, r := range recs {
		e.stats.Records++
		switch r.tag {
		case protocol.RecMagCal:
			e.updateBias(protocol.DomainMag, bias(r.payload))
			continue
		case protocol.RecGyroCal:
			e.updateBias(protocol.DomainGyro, bias(r.payload))
			continue
		case protocol.RecTotalStatusShort, protocol.RecTotalStatusLong:
			e.stats.Status++
			e.log.WithFields(log.Fields{"tag": r.tag, "status": log.Hex(r.payload)}).Trace("status record")
			continue
		}

		f := recordFamily(r.tag)
		cycles := uint32(r.payload[0])
		if !used.Has(f) {
			cycles += hdr.Deltas[f]
			used |= f.Bit()
		}
		ts := e.hc.Reconciler.OffsetToTimestamp(f, cycles)
		e.hc.Metrics.RecordRecord(f.String())

		s, values := sample(r)
		emit(s, values, ts)
		switch s {
		case sensor.MagneticField:
			emit(sensor.MagneticFieldUncalibrated, uncalibrated(values, e.hc.Calibration(protocol.DomainMag).Bias), ts)
		case sensor.Gyroscope:
			emit(sensor.GyroscopeUncalibrated, uncalibrated(values, e.hc.Calibration(protocol.DomainGyro).Bias), ts)
		}
	}
	e.stats.Events += uint64(n)
	return n
}

func (e *Engine) updateBias(d protocol.Domain, b [3]int16) {
	c := e.hc.Calibration(d)
	c.Bias = b
	c.Updated = e.hc.Clock.Now()
	e.hc.SetCalibration(d, c)
}

// GetStats returns the flush counters.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

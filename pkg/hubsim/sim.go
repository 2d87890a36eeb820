// Package hubsim is an in-memory sensor hub MCU.
//
// Sim implements transport.Bus with the hub's register semantics: a
// parameter block, the two opcode bytes and the entry trigger start a
// command, ERROR0..INTREQ1 report its outcome and the interrupt reasons,
// and results come back through the result registers or the FIFO. The
// interrupt line is a callback raised after every completion. Failures can
// be scripted per opcode.
package hubsim

import (
	"encoding/binary"
	"sync"

	"sensorhub-go/pkg/log"
	"sensorhub-go/pkg/protocol"
)

// ErrCodeUnknownCommand is reported for opcodes the simulator cannot parse.
const ErrCodeUnknownCommand uint16 = 0x0001

// State is the programming the simulated MCU has accepted.
type State struct {
	TaskPeriod  protocol.SetTaskPeriod
	Decimation  [protocol.NumSlots]uint8
	Batch       [protocol.NumSlots]uint8
	FusionBatch [protocol.NumFusionSlots]uint8
	Sensors     protocol.SetSensorEnable
	FusionMask  uint8
	Tasks       protocol.SetTaskEnable
	DeepSleep   bool
	AccMode     protocol.AccMode
	Calibration protocol.SetCalibration
	Logging     uint16
}

// Sim is a simulated hub MCU.
type Sim struct {
	mu sync.Mutex

	regs   [256]byte
	param  protocol.ParamBlock
	opcode [protocol.OpcodeSize]byte

	errCode uint16
	intReq  protocol.IntReq
	result  [protocol.ResultRegCount]byte
	fifo    []byte

	irq     func()
	history []protocol.Command
	acks    int
	state   State

	busy  map[protocol.Opcode]int
	codes map[protocol.Opcode]uint16
	drop  map[protocol.Opcode]int
	hard  map[protocol.Opcode]int

	version   [4]byte
	details   [protocol.NumDomains][]byte
	offsets   [protocol.NumDomains]protocol.CalibDetail
	logBuf    []byte
	deltas    [protocol.DelimiterDeltaCount]uint32
	transfer  []byte
	shortfall int

	log *log.Logger
}

// New creates an idle simulator.
func New() *Sim {
	return &Sim{
		busy:    make(map[protocol.Opcode]int),
		codes:   make(map[protocol.Opcode]uint16),
		drop:    make(map[protocol.Opcode]int),
		hard:    make(map[protocol.Opcode]int),
		version: [4]byte{1, 4, 0, 0},
		log:     log.GetLogger("hubsim"),
	}
}

// SetIRQ installs the interrupt line callback. It is called without the
// simulator lock held.
func (s *Sim) SetIRQ(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq = fn
}

// Write implements transport.Bus.
func (s *Sim) Write(addr uint8, data []byte) error {
	s.mu.Lock()
	switch {
	case addr == protocol.RegCmdEntry:
		s.mu.Unlock()
		if len(data) > 0 && data[0] == protocol.CmdEntryTrigger {
			s.execute()
		}
		return nil
	case addr == protocol.RegParam:
		s.param = protocol.ParamBlock{}
		copy(s.param[:], data)
	case addr == protocol.RegCmd0 && len(data) >= protocol.OpcodeSize:
		if data[0] == 0 && data[1] == 0 {
			s.acks++
		}
		copy(s.opcode[:], data)
	default:
		copy(s.regs[addr:], data)
	}
	s.mu.Unlock()
	return nil
}

// Read implements transport.Bus. Reading ERROR0 clears the pending
// interrupt reasons; FIFO reads consume the FIFO.
func (s *Sim) Read(addr uint8, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch addr {
	case protocol.RegError0:
		reg := protocol.EncodeErrorReg(s.errCode, s.intReq)
		copy(buf, reg[:])
		s.intReq = 0
	case protocol.RegResult:
		copy(buf, s.result[:])
	case protocol.RegFIFO:
		n := copy(buf, s.fifo)
		s.fifo = s.fifo[n:]
	default:
		copy(buf, s.regs[addr:])
	}
	return nil
}

func (s *Sim) execute() {
	s.mu.Lock()
	op := protocol.Opcode(uint16(s.opcode[0])<<8 | uint16(s.opcode[1]))
	cmd, err := protocol.ParseCommand(op, s.param)
	raise := true

	switch {
	case err != nil:
		s.log.WithError(err).Warn("unknown command")
		s.complete(ErrCodeUnknownCommand)
	case s.take(s.hard, op):
		s.history = append(s.history, cmd)
		s.errCode = 0
		s.intReq = protocol.IntHardError
	case s.take(s.drop, op):
		s.history = append(s.history, cmd)
		raise = false
	case s.take(s.busy, op):
		s.history = append(s.history, cmd)
		s.complete(protocol.ErrCodeBusy)
	case s.codes[op] != 0:
		s.history = append(s.history, cmd)
		s.complete(s.codes[op])
	default:
		s.history = append(s.history, cmd)
		s.complete(s.apply(cmd))
	}

	irq := s.irq
	s.mu.Unlock()
	if raise && irq != nil {
		irq()
	}
}

func (s *Sim) take(m map[protocol.Opcode]int, op protocol.Opcode) bool {
	if m[op] <= 0 {
		return false
	}
	m[op]--
	return true
}

func (s *Sim) complete(code uint16) {
	s.errCode = code
	s.intReq |= protocol.IntCmdComplete
}

func (s *Sim) setResult(data []byte) {
	s.result = [protocol.ResultRegCount]byte{}
	copy(s.result[:], data)
}

func (s *Sim) setFIFO(data []byte, reported int) {
	s.fifo = data
	s.result = [protocol.ResultRegCount]byte{}
	binary.LittleEndian.PutUint16(s.result[0:2], uint16(reported))
}

func (s *Sim) apply(cmd protocol.Command) uint16 {
	switch c := cmd.(type) {
	case protocol.GetVersion:
		s.setResult(s.version[:])
	case protocol.CheckAccess:
	case protocol.GetIntDetail:
		if c.Domain < protocol.NumDomains {
			s.setResult(s.details[c.Domain])
		}
	case protocol.GetCalibOffsets:
		if c.Domain < protocol.NumDomains {
			s.setResult(s.offsets[c.Domain].Encode())
		}
	case protocol.SetTaskPeriod:
		s.state.TaskPeriod = c
	case protocol.SetDecimation:
		s.state.Decimation = c.Counts
	case protocol.SetBatchDecimation:
		s.state.Batch = c.Counts
	case protocol.SetFusionBatchDecimation:
		s.state.FusionBatch = c.Counts
	case protocol.SetSensorEnable:
		s.state.Sensors = c
	case protocol.SetFusionOutput:
		s.state.FusionMask = c.Mask
	case protocol.SetTaskEnable:
		s.state.Tasks = c
	case protocol.SetPowerMode:
		s.state.DeepSleep = c.DeepSleep
	case protocol.SetAccMode:
		s.state.AccMode = c.Mode
	case protocol.SetCalibration:
		s.state.Calibration = c
	case protocol.SetLoggingEnable:
		s.state.Logging = c.Families
	case protocol.LoggingDelimiter:
		s.delimit()
	case protocol.LoggingGetBlock:
		s.block(int(c.Size))
	}
	return protocol.ErrCodeOK
}

// delimit closes the current log: the header and the first part of the
// payload go to the FIFO, the rest waits for LOGGING_GET_BLOCK.
func (s *Sim) delimit() {
	payload := s.logBuf
	s.logBuf = nil
	hdr := protocol.DelimiterHeader{Total: uint16(len(payload)), Deltas: s.deltas}
	s.deltas = [protocol.DelimiterDeltaCount]uint32{}

	first := protocol.FIFOSize - protocol.DelimiterHeaderSize
	if first > len(payload) {
		first = len(payload)
	}
	out := append(hdr.Encode(), payload[:first]...)
	s.transfer = payload[first:]
	s.setFIFO(out, len(out))
}

func (s *Sim) block(size int) {
	n := size
	if n > len(s.transfer) {
		n = len(s.transfer)
	}
	reported := n
	if s.shortfall > 0 && n > 0 {
		reported = n - s.shortfall
		if reported < 0 {
			reported = 0
		}
	}
	s.setFIFO(s.transfer[:reported], reported)
	s.transfer = s.transfer[n:]
}

// InjectBusy makes the next n executions of op report ErrCodeBusy.
func (s *Sim) InjectBusy(op protocol.Opcode, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[op] += n
}

// InjectCode makes every execution of op fail with code. Zero clears it.
func (s *Sim) InjectCode(op protocol.Opcode, code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.codes, op)
		return
	}
	s.codes[op] = code
}

// InjectDrop suppresses the completion interrupt of the next n executions
// of op.
func (s *Sim) InjectDrop(op protocol.Opcode, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop[op] += n
}

// InjectHardError makes the next n executions of op raise the hard-error
// interrupt.
func (s *Sim) InjectHardError(op protocol.Opcode, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hard[op] += n
}

// InjectBlockShortfall makes LOGGING_GET_BLOCK report n bytes fewer than
// it was asked for.
func (s *Sim) InjectBlockShortfall(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortfall = n
}

// SetVersion sets the firmware version returned by GET_VERSION.
func (s *Sim) SetVersion(major, minor, patch, rev byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = [4]byte{major, minor, patch, rev}
}

// SetCalibOffsets sets the offsets returned by GET_CALIB_OFFSETS.
func (s *Sim) SetCalibOffsets(d protocol.Domain, c protocol.CalibDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < protocol.NumDomains {
		s.offsets[d] = c
	}
}

// AppendLog appends encoded records to the batch log.
func (s *Sim) AppendLog(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logBuf = append(s.logBuf, b...)
}

// SetDelta sets the task-cycle delta reported for a family slot in the
// next delimiter header.
func (s *Sim) SetDelta(family int, cycles uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if family >= 0 && family < protocol.DelimiterDeltaCount {
		s.deltas[family] = cycles
	}
}

// LogSize returns the number of bytes waiting in the batch log.
func (s *Sim) LogSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logBuf)
}

// RaiseDomain posts an interrupt for domain d with the given detail.
func (s *Sim) RaiseDomain(d protocol.Domain, detail []byte) {
	s.mu.Lock()
	if d < protocol.NumDomains {
		s.details[d] = append([]byte(nil), detail...)
		s.intReq |= d.Bit()
	}
	irq := s.irq
	s.mu.Unlock()
	if irq != nil {
		irq()
	}
}

// State returns the accepted programming.
func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns every command the simulator parsed, including rejected
// ones.
func (s *Sim) History() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.history...)
}

// Count returns how many times op was executed.
func (s *Sim) Count(op protocol.Opcode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.history {
		if c.Opcode() == op {
			n++
		}
	}
	return n
}

// Acks returns how many command register acknowledgements were written.
func (s *Sim) Acks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks
}

// Reg returns the value of a plain register.
func (s *Sim) Reg(addr uint8) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

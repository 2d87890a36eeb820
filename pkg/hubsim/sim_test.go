package hubsim

import (
	"encoding/binary"
	"testing"

	"sensorhub-go/pkg/protocol"
)

// issue runs cmd the way the command channel does and returns the decoded
// error register.
func issue(t *testing.T, s *Sim, cmd protocol.Command) (uint16, protocol.IntReq) {
	t.Helper()
	p := cmd.MarshalParams()
	ob := cmd.Opcode().Bytes()
	s.Write(protocol.RegParam, p[:])
	s.Write(protocol.RegCmd0, ob[:])
	s.Write(protocol.RegCmdEntry, []byte{protocol.CmdEntryTrigger})

	var reg [protocol.ErrorRegSize]byte
	s.Read(protocol.RegError0, reg[:])
	return protocol.DecodeErrorReg(reg[:])
}

func TestExecuteAppliesState(t *testing.T) {
	s := New()
	irqs := 0
	s.SetIRQ(func() { irqs++ })

	code, req := issue(t, s, protocol.SetTaskPeriod{SensorUs: 20000, FusionUs: 40000})
	if code != protocol.ErrCodeOK || !req.Has(protocol.IntCmdComplete) {
		t.Fatalf("code %d req %#x", code, req)
	}
	issue(t, s, protocol.SetSensorEnable{Acc: true, Baro: true})
	issue(t, s, protocol.SetLoggingEnable{Families: 0x0005})

	st := s.State()
	if st.TaskPeriod.SensorUs != 20000 || st.TaskPeriod.FusionUs != 40000 {
		t.Errorf("task period = %+v", st.TaskPeriod)
	}
	if !st.Sensors.Acc || !st.Sensors.Baro || st.Sensors.Gyro {
		t.Errorf("sensors = %+v", st.Sensors)
	}
	if st.Logging != 0x0005 {
		t.Errorf("logging = %#x", st.Logging)
	}
	if irqs != 3 || s.Count(protocol.OpSetSensorEnable) != 1 {
		t.Errorf("irqs %d, history %v", irqs, s.History())
	}

	// reading the error register clears the reasons
	var reg [protocol.ErrorRegSize]byte
	s.Read(protocol.RegError0, reg[:])
	if _, req := protocol.DecodeErrorReg(reg[:]); req != 0 {
		t.Errorf("reasons not cleared: %#x", req)
	}
}

func TestInjections(t *testing.T) {
	tests := []struct {
		name     string
		inject   func(*Sim)
		wantCode uint16
		wantReq  protocol.IntReq
		wantIRQ  bool
	}{
		{"busy", func(s *Sim) { s.InjectBusy(protocol.OpCheckAccess, 1) }, protocol.ErrCodeBusy, protocol.IntCmdComplete, true},
		{"code", func(s *Sim) { s.InjectCode(protocol.OpCheckAccess, 0x0033) }, 0x0033, protocol.IntCmdComplete, true},
		{"drop", func(s *Sim) { s.InjectDrop(protocol.OpCheckAccess, 1) }, 0, 0, false},
		{"hard", func(s *Sim) { s.InjectHardError(protocol.OpCheckAccess, 1) }, 0, protocol.IntHardError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			fired := false
			s.SetIRQ(func() { fired = true })
			tt.inject(s)

			code, req := issue(t, s, protocol.CheckAccess{})
			if code != tt.wantCode || req != tt.wantReq || fired != tt.wantIRQ {
				t.Errorf("code %#x req %#x irq %v", code, req, fired)
			}
			if tt.name == "code" {
				return
			}
			// one-shot injections clear after use
			code, req = issue(t, s, protocol.CheckAccess{})
			if code != protocol.ErrCodeOK || req != protocol.IntCmdComplete {
				t.Errorf("second run: code %#x req %#x", code, req)
			}
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	s := New()
	s.Write(protocol.RegCmd0, []byte{0x7f, 0x7f})
	s.Write(protocol.RegCmdEntry, []byte{protocol.CmdEntryTrigger})
	var reg [protocol.ErrorRegSize]byte
	s.Read(protocol.RegError0, reg[:])
	if code, _ := protocol.DecodeErrorReg(reg[:]); code != ErrCodeUnknownCommand {
		t.Errorf("code = %#x", code)
	}
}

func TestAckCounted(t *testing.T) {
	s := New()
	issue(t, s, protocol.CheckAccess{})
	s.Write(protocol.RegCmd0, []byte{0, 0})
	if s.Acks() != 1 {
		t.Errorf("acks = %d", s.Acks())
	}
}

func TestResultRegisters(t *testing.T) {
	s := New()
	s.SetVersion(3, 2, 1, 9)
	issue(t, s, protocol.GetVersion{})
	res := make([]byte, protocol.ResultRegCount)
	s.Read(protocol.RegResult, res)
	if res[0] != 3 || res[1] != 2 || res[2] != 1 || res[3] != 9 {
		t.Errorf("version = %v", res[:4])
	}

	s.SetCalibOffsets(protocol.DomainMag, protocol.CalibDetail{Accuracy: 1, Bias: [3]int16{-7, 8, 9}})
	issue(t, s, protocol.GetCalibOffsets{Domain: protocol.DomainMag})
	s.Read(protocol.RegResult, res)
	if d := protocol.DecodeCalibDetail(res); d.Bias != [3]int16{-7, 8, 9} || d.Accuracy != 1 {
		t.Errorf("offsets = %+v", d)
	}
}

func TestRaiseDomain(t *testing.T) {
	s := New()
	fired := 0
	s.SetIRQ(func() { fired++ })
	s.RaiseDomain(protocol.DomainBaro, protocol.EncodePressure(987654))

	var reg [protocol.ErrorRegSize]byte
	s.Read(protocol.RegError0, reg[:])
	if _, req := protocol.DecodeErrorReg(reg[:]); req != protocol.IntBaro || fired != 1 {
		t.Fatalf("req %#x fired %d", req, fired)
	}
	issue(t, s, protocol.GetIntDetail{Domain: protocol.DomainBaro})
	res := make([]byte, protocol.ResultRegCount)
	s.Read(protocol.RegResult, res)
	if p := protocol.DecodePressure(res); p != 987654 {
		t.Errorf("pressure = %d", p)
	}
}

func fifoSize(s *Sim) int {
	var sz [protocol.ResultSizeBytes]byte
	s.Read(protocol.RegResult, sz[:])
	return int(binary.LittleEndian.Uint16(sz[:]))
}

func TestLogDelimiterAndBlocks(t *testing.T) {
	s := New()
	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i)
	}
	s.AppendLog(payload)
	s.SetDelta(2, 9)

	issue(t, s, protocol.LoggingDelimiter{})
	n := fifoSize(s)
	if n != protocol.FIFOSize {
		t.Fatalf("delimiter size = %d", n)
	}
	first := make([]byte, n)
	s.Read(protocol.RegFIFO, first)
	hdr, err := protocol.DecodeDelimiterHeader(first)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Total != 600 || hdr.Deltas[2] != 9 {
		t.Errorf("header = %+v", hdr)
	}
	if s.LogSize() != 0 {
		t.Error("log not closed by the delimiter")
	}

	rest := 600 - (protocol.FIFOSize - protocol.DelimiterHeaderSize)
	issue(t, s, protocol.LoggingGetBlock{Size: uint16(rest)})
	if got := fifoSize(s); got != rest {
		t.Errorf("block size = %d, want %d", got, rest)
	}
	block := make([]byte, rest)
	s.Read(protocol.RegFIFO, block)
	if block[0] != byte(600-rest) {
		t.Errorf("block starts with %d", block[0])
	}

	// nothing left to transfer
	issue(t, s, protocol.LoggingGetBlock{Size: 4})
	if got := fifoSize(s); got != 0 {
		t.Errorf("empty transfer reported %d bytes", got)
	}
}

func TestBlockShortfall(t *testing.T) {
	s := New()
	s.AppendLog(make([]byte, protocol.FIFOSize-protocol.DelimiterHeaderSize+4))
	s.InjectBlockShortfall(1)

	issue(t, s, protocol.LoggingDelimiter{})
	s.Read(protocol.RegFIFO, make([]byte, fifoSize(s)))
	issue(t, s, protocol.LoggingGetBlock{Size: 4})
	if got := fifoSize(s); got != 3 {
		t.Errorf("block reported %d bytes, want 3", got)
	}
}

// Package protocol defines the sensor hub register map, interrupt-reason
// bits, MCU error codes and the typed host-command frames.
package protocol

// Register addresses. The layout is fixed by the MCU firmware.
const (
	RegCfg      uint8 = 0x00
	RegIntMask0 uint8 = 0x02
	RegIntMask1 uint8 = 0x03
	RegStatus   uint8 = 0x09
	RegError0   uint8 = 0x0A
	RegError1   uint8 = 0x0B
	RegIntReq0  uint8 = 0x0C
	RegIntReq1  uint8 = 0x0D
	RegParam    uint8 = 0x10 // PRM00..PRM0F
	RegCmd0     uint8 = 0x20
	RegCmd1     uint8 = 0x21
	RegCmdEntry uint8 = 0x22
	RegFIFO     uint8 = 0x30
	RegResult   uint8 = 0x40 // RSLT00..RSLT3F
)

// Frame sizes.
const (
	ParamSize       = 16
	OpcodeSize      = 2
	FIFOSize        = 512
	ResultRegCount  = 64
	ErrorRegSize    = 4 // ERROR0, ERROR1, INTREQ0, INTREQ1
	ResultSizeBytes = 2
)

// CmdEntryTrigger is written to CMDENTRY to start the command held in
// CMD0/CMD1 and the parameter block.
const CmdEntryTrigger byte = 0x01

// IntReq is the interrupt-reason bit set read from INTREQ0/INTREQ1.
type IntReq uint16

const (
	IntCmdComplete IntReq = 0x0001
	IntAcc         IntReq = 0x0002
	IntBaro        IntReq = 0x0004
	IntMag         IntReq = 0x0008
	IntGyro        IntReq = 0x0010
	IntFusion      IntReq = 0x0020
	IntCustom      IntReq = 0x0040

	// IntValidMask covers every defined reason bit.
	IntValidMask IntReq = 0x007F

	// IntHardError is the all-ones value the MCU reports on a fatal error.
	IntHardError IntReq = 0xFFFF
)

// Has reports whether bit is set in r.
func (r IntReq) Has(bit IntReq) bool {
	return r&bit != 0
}

// MCU error codes reported in ERROR0/ERROR1 after a command completes.
const (
	ErrCodeOK uint16 = 0x0000
	// ErrCodeBusy is the transient MCU-busy code; the command may be retried.
	ErrCodeBusy uint16 = 0x0002
)

// CFG register bits.
const (
	CfgIntEnable byte = 0x01
)

// DecodeErrorReg splits the 4-byte ERROR0..INTREQ1 block into the MCU
// error code and the interrupt-reason bits. Both halves are little endian.
func DecodeErrorReg(b []byte) (code uint16, req IntReq) {
	if len(b) < ErrorRegSize {
		return 0, 0
	}
	code = uint16(b[0]) | uint16(b[1])<<8
	req = IntReq(uint16(b[2]) | uint16(b[3])<<8)
	return code, req
}

// EncodeErrorReg is the inverse of DecodeErrorReg.
func EncodeErrorReg(code uint16, req IntReq) [ErrorRegSize]byte {
	return [ErrorRegSize]byte{byte(code), byte(code >> 8), byte(req), byte(req >> 8)}
}

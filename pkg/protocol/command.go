package protocol

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the 2-byte command code written to CMD0 (high) and CMD1 (low).
type Opcode uint16

const (
	OpGetVersion    Opcode = 0x0001
	OpCheckAccess   Opcode = 0x0002
	OpGetIntDetail  Opcode = 0x0003
	OpSetTaskEnable Opcode = 0x0004
	OpSetPowerMode  Opcode = 0x0005

	OpSetTaskPeriod            Opcode = 0x0101
	OpSetDecimation            Opcode = 0x0102
	OpSetBatchDecimation       Opcode = 0x0103
	OpSetFusionBatchDecimation Opcode = 0x0104
	OpSetSensorEnable          Opcode = 0x0105
	OpSetFusionOutput          Opcode = 0x0106
	OpSetCalibration           Opcode = 0x0107
	OpSetAccMode               Opcode = 0x0108
	OpSetLoggingEnable         Opcode = 0x0109
	OpGetCalibOffsets          Opcode = 0x010A

	OpLoggingDelimiter Opcode = 0x0201
	OpLoggingGetBlock  Opcode = 0x0202
)

var opcodeNames = map[Opcode]string{
	OpGetVersion:               "GET_VERSION",
	OpCheckAccess:              "CHECK_ACCESS",
	OpGetIntDetail:             "GET_INT_DETAIL",
	OpSetTaskEnable:            "SET_TASK_ENABLE",
	OpSetPowerMode:             "SET_POWER_MODE",
	OpSetTaskPeriod:            "SET_TASK_PERIOD",
	OpSetDecimation:            "SET_DECIMATION",
	OpSetBatchDecimation:       "SET_BATCH_DECIMATION",
	OpSetFusionBatchDecimation: "SET_FUSION_BATCH_DECIMATION",
	OpSetSensorEnable:          "SET_SENSOR_ENABLE",
	OpSetFusionOutput:          "SET_FUSION_OUTPUT",
	OpSetCalibration:           "SET_CALIBRATION",
	OpSetAccMode:               "SET_ACC_MODE",
	OpSetLoggingEnable:         "SET_LOGGING_ENABLE",
	OpGetCalibOffsets:          "GET_CALIB_OFFSETS",
	OpLoggingDelimiter:         "LOGGING_DELIMITER",
	OpLoggingGetBlock:          "LOGGING_GET_BLOCK",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP_%04X", uint16(op))
}

// Bytes returns the CMD0/CMD1 register values.
func (op Opcode) Bytes() [OpcodeSize]byte {
	return [OpcodeSize]byte{byte(op >> 8), byte(op)}
}

// ParamBlock is the fixed 16-byte parameter block at PRM00..PRM0F.
type ParamBlock [ParamSize]byte

// Command is one host command. Each opcode family has its own variant with
// typed fields; the wire layout is produced only by MarshalParams.
type Command interface {
	Opcode() Opcode
	MarshalParams() ParamBlock
}

// Domain selects an interrupt domain in detail and calibration queries.
type Domain uint8

const (
	DomainAcc Domain = iota
	DomainBaro
	DomainMag
	DomainGyro
	DomainFusion
	DomainCustom

	NumDomains
)

var domainNames = [NumDomains]string{"acc", "baro", "mag", "gyro", "fusion", "custom"}

func (d Domain) String() string {
	if d < NumDomains {
		return domainNames[d]
	}
	return fmt.Sprintf("domain(%d)", uint8(d))
}

// Bit returns the interrupt-reason bit for the domain.
func (d Domain) Bit() IntReq {
	switch d {
	case DomainAcc:
		return IntAcc
	case DomainBaro:
		return IntBaro
	case DomainMag:
		return IntMag
	case DomainGyro:
		return IntGyro
	case DomainFusion:
		return IntFusion
	case DomainCustom:
		return IntCustom
	}
	return 0
}

// AccMode is the accelerometer operating mode.
type AccMode uint8

const (
	AccModeNormal  AccMode = 0
	AccModeFreeRun AccMode = 1
)

func (m AccMode) String() string {
	if m == AccModeFreeRun {
		return "free-run"
	}
	return "normal"
}

// Physical sensor slots used by the decimation commands.
const (
	SlotAcc = iota
	SlotMag
	SlotGyro
	SlotBaro

	NumSlots
)

// Fusion output slots; bit i of the fusion output mask enables slot i.
const (
	FusionOrientation = iota
	FusionGravity
	FusionLinearAcc
	FusionRotationVector
	FusionGameRotationVector
	FusionGeoRotationVector

	NumFusionSlots
)

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// GetVersion reads the firmware version into the result registers.
type GetVersion struct{}

func (GetVersion) Opcode() Opcode            { return OpGetVersion }
func (GetVersion) MarshalParams() ParamBlock { return ParamBlock{} }

// CheckAccess is the connectivity probe; it is issued with a short timeout.
type CheckAccess struct{}

func (CheckAccess) Opcode() Opcode            { return OpCheckAccess }
func (CheckAccess) MarshalParams() ParamBlock { return ParamBlock{} }

// GetIntDetail asks for the sub-reason of a domain interrupt.
type GetIntDetail struct {
	Domain Domain
}

func (GetIntDetail) Opcode() Opcode { return OpGetIntDetail }
func (c GetIntDetail) MarshalParams() ParamBlock {
	return ParamBlock{byte(c.Domain)}
}

// SetTaskEnable switches the MCU sensor, app and fusion tasks.
type SetTaskEnable struct {
	Sensor bool
	App    bool
	Fusion bool
}

func (SetTaskEnable) Opcode() Opcode { return OpSetTaskEnable }
func (c SetTaskEnable) MarshalParams() ParamBlock {
	return ParamBlock{boolByte(c.Sensor), boolByte(c.App), boolByte(c.Fusion)}
}

// SetPowerMode allows or forbids MCU deep sleep.
type SetPowerMode struct {
	DeepSleep bool
}

func (SetPowerMode) Opcode() Opcode { return OpSetPowerMode }
func (c SetPowerMode) MarshalParams() ParamBlock {
	return ParamBlock{boolByte(c.DeepSleep)}
}

// SetTaskPeriod programs the shared sensor sampling period and the fusion
// task period, both in microseconds.
type SetTaskPeriod struct {
	SensorUs uint32
	FusionUs uint32
}

func (SetTaskPeriod) Opcode() Opcode { return OpSetTaskPeriod }
func (c SetTaskPeriod) MarshalParams() ParamBlock {
	var p ParamBlock
	binary.LittleEndian.PutUint32(p[0:4], c.SensorUs)
	binary.LittleEndian.PutUint32(p[4:8], c.FusionUs)
	return p
}

// SetDecimation programs live per-sensor decimation counts.
type SetDecimation struct {
	Counts [NumSlots]uint8
}

func (SetDecimation) Opcode() Opcode { return OpSetDecimation }
func (c SetDecimation) MarshalParams() ParamBlock {
	var p ParamBlock
	copy(p[:], c.Counts[:])
	return p
}

// SetBatchDecimation programs batched per-sensor decimation counts.
type SetBatchDecimation struct {
	Counts [NumSlots]uint8
}

func (SetBatchDecimation) Opcode() Opcode { return OpSetBatchDecimation }
func (c SetBatchDecimation) MarshalParams() ParamBlock {
	var p ParamBlock
	copy(p[:], c.Counts[:])
	return p
}

// SetFusionBatchDecimation programs batched decimation for fusion outputs.
type SetFusionBatchDecimation struct {
	Counts [NumFusionSlots]uint8
}

func (SetFusionBatchDecimation) Opcode() Opcode { return OpSetFusionBatchDecimation }
func (c SetFusionBatchDecimation) MarshalParams() ParamBlock {
	var p ParamBlock
	copy(p[:], c.Counts[:])
	return p
}

// SetSensorEnable switches the physical sensors.
type SetSensorEnable struct {
	Acc  bool
	Mag  bool
	Gyro bool
	Baro bool
}

func (SetSensorEnable) Opcode() Opcode { return OpSetSensorEnable }
func (c SetSensorEnable) MarshalParams() ParamBlock {
	return ParamBlock{boolByte(c.Acc), boolByte(c.Mag), boolByte(c.Gyro), boolByte(c.Baro)}
}

// SetFusionOutput selects the fusion outputs the fusion task produces.
type SetFusionOutput struct {
	Mask uint8
}

func (SetFusionOutput) Opcode() Opcode { return OpSetFusionOutput }
func (c SetFusionOutput) MarshalParams() ParamBlock {
	return ParamBlock{c.Mask}
}

// SetCalibration enables background calibration per sensor.
type SetCalibration struct {
	Mag  bool
	Gyro bool
}

func (SetCalibration) Opcode() Opcode { return OpSetCalibration }
func (c SetCalibration) MarshalParams() ParamBlock {
	return ParamBlock{boolByte(c.Mag), boolByte(c.Gyro)}
}

// SetAccMode selects the accelerometer operating mode.
type SetAccMode struct {
	Mode AccMode
}

func (SetAccMode) Opcode() Opcode { return OpSetAccMode }
func (c SetAccMode) MarshalParams() ParamBlock {
	return ParamBlock{byte(c.Mode)}
}

// SetLoggingEnable selects which families are written to the batch log.
type SetLoggingEnable struct {
	Families uint16
}

func (SetLoggingEnable) Opcode() Opcode { return OpSetLoggingEnable }
func (c SetLoggingEnable) MarshalParams() ParamBlock {
	var p ParamBlock
	binary.LittleEndian.PutUint16(p[0:2], c.Families)
	return p
}

// GetCalibOffsets reads the current calibration offsets of a domain.
type GetCalibOffsets struct {
	Domain Domain
}

func (GetCalibOffsets) Opcode() Opcode { return OpGetCalibOffsets }
func (c GetCalibOffsets) MarshalParams() ParamBlock {
	return ParamBlock{byte(c.Domain)}
}

// LoggingDelimiter marks a time boundary in the batch log and returns the
// delimiter header plus the first part of the log through the FIFO.
type LoggingDelimiter struct{}

func (LoggingDelimiter) Opcode() Opcode            { return OpLoggingDelimiter }
func (LoggingDelimiter) MarshalParams() ParamBlock { return ParamBlock{} }

// LoggingGetBlock pulls the next Size bytes of the batch log.
type LoggingGetBlock struct {
	Size uint16
}

func (LoggingGetBlock) Opcode() Opcode { return OpLoggingGetBlock }
func (c LoggingGetBlock) MarshalParams() ParamBlock {
	var p ParamBlock
	binary.LittleEndian.PutUint16(p[0:2], c.Size)
	return p
}

// ParseCommand rebuilds the typed command from its wire form. It is used by
// the simulator and trace tooling.
func ParseCommand(op Opcode, p ParamBlock) (Command, error) {
	switch op {
	case OpGetVersion:
		return GetVersion{}, nil
	case OpCheckAccess:
		return CheckAccess{}, nil
	case OpGetIntDetail:
		return GetIntDetail{Domain: Domain(p[0])}, nil
	case OpSetTaskEnable:
		return SetTaskEnable{Sensor: p[0] != 0, App: p[1] != 0, Fusion: p[2] != 0}, nil
	case OpSetPowerMode:
		return SetPowerMode{DeepSleep: p[0] != 0}, nil
	case OpSetTaskPeriod:
		return SetTaskPeriod{
			SensorUs: binary.LittleEndian.Uint32(p[0:4]),
			FusionUs: binary.LittleEndian.Uint32(p[4:8]),
		}, nil
	case OpSetDecimation:
		var c SetDecimation
		copy(c.Counts[:], p[:])
		return c, nil
	case OpSetBatchDecimation:
		var c SetBatchDecimation
		copy(c.Counts[:], p[:])
		return c, nil
	case OpSetFusionBatchDecimation:
		var c SetFusionBatchDecimation
		copy(c.Counts[:], p[:])
		return c, nil
	case OpSetSensorEnable:
		return SetSensorEnable{Acc: p[0] != 0, Mag: p[1] != 0, Gyro: p[2] != 0, Baro: p[3] != 0}, nil
	case OpSetFusionOutput:
		return SetFusionOutput{Mask: p[0]}, nil
	case OpSetCalibration:
		return SetCalibration{Mag: p[0] != 0, Gyro: p[1] != 0}, nil
	case OpSetAccMode:
		return SetAccMode{Mode: AccMode(p[0])}, nil
	case OpSetLoggingEnable:
		return SetLoggingEnable{Families: binary.LittleEndian.Uint16(p[0:2])}, nil
	case OpGetCalibOffsets:
		return GetCalibOffsets{Domain: Domain(p[0])}, nil
	case OpLoggingDelimiter:
		return LoggingDelimiter{}, nil
	case OpLoggingGetBlock:
		return LoggingGetBlock{Size: binary.LittleEndian.Uint16(p[0:2])}, nil
	}
	return nil, fmt.Errorf("protocol: unknown opcode 0x%04x", uint16(op))
}

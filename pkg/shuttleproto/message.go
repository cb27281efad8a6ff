// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is a decoded frame payload. The set of implementations is closed:
// it is fixed by the controller firmware's message table.
type Message interface {
	// Type returns the wire message ID
	Type() MsgID

	appendPayload(b []byte) []byte
}

// ErrUnknownType is returned by DecodeMessage for message IDs outside the table
var ErrUnknownType = errors.New("unknown message type")

// PayloadError reports a payload shorter than its message's fixed layout
type PayloadError struct {
	Type MsgID
	Have int
	Want int
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s payload too short: %d bytes (want %d)", FormatMessageType(e.Type), e.Have, e.Want)
}

// Telemetry is the HEARTBEAT payload
type Telemetry struct {
	ErrorCode         uint16
	Position          uint16 // mm
	Speed             uint16 // %
	BatteryMillivolts uint16
	StateFlags        uint16
	Status            uint8 // command currently executing
	BatteryCharge     uint8 // %
	ShuttleNumber     uint8
	PalletCount       uint8
}

// Sensors is the SENSORS payload
type Sensors struct {
	DistanceFront       uint16 // mm
	DistanceRear        uint16 // mm
	DistancePalletFront uint16 // mm
	DistancePalletRear  uint16 // mm
	Angle               uint16
	LifterCurrent       int16
	TemperatureDeci     int16 // 0.1 °C
	HardwareFlags       uint16
}

// Stats is the STATS payload (lifetime counters)
type Stats struct {
	TotalDistance    uint32
	LoadCount        uint32
	UnloadCount      uint32
	CompactCount     uint32
	LiftUpCount      uint32
	LiftDownCount    uint32
	PalletsDetected  uint32
	UptimeMinutes    uint32
	MotorStalls      uint16
	LifterOverloads  uint16
	Crashes          uint16
	WatchdogResets   uint16
	LowBatteryEvents uint16
}

// Log is a text line emitted by the controller
type Log struct {
	Level LogLevel
	Text  string
}

// Config carries a single EEPROM parameter. Kind is MsgConfigSet, MsgConfigGet or MsgConfigReply.
type Config struct {
	Kind  MsgID
	Param ConfigParam
	Value int32
}

// FullConfig is the complete configuration block. Kind is MsgConfigSyncPush or MsgConfigSyncRep.
type FullConfig struct {
	Kind          MsgID  `cbor:"-"`
	InterPallet   uint16 `cbor:"1,keyasint"`
	ShuttleLength uint16 `cbor:"2,keyasint"`
	MaxSpeed      uint16 `cbor:"3,keyasint"`
	WaitTime      uint16 `cbor:"4,keyasint"`
	MprOffset     int16  `cbor:"5,keyasint"`
	ChannelOffset int16  `cbor:"6,keyasint"`
	ShuttleNumber uint8  `cbor:"7,keyasint"`
	MinBattery    uint8  `cbor:"8,keyasint"`
	FifoLifo      uint8  `cbor:"9,keyasint"`
	ReverseMode   uint8  `cbor:"10,keyasint"`
}

// Command requests an action. Commands with HasArg set travel as CMD_WITH_ARG.
type Command struct {
	Cmd    CmdType
	Arg    int32
	HasArg bool
}

// DateTime sets the controller's real-time clock
type DateTime struct {
	Time time.Time
}

// Ack acknowledges the command sent with sequence RefSeq
type Ack struct {
	RefSeq uint8
	Result AckResult
}

// Request is a message with an empty payload (telemetry and config sync requests)
type Request struct {
	Kind MsgID
}

func (Telemetry) Type() MsgID    { return MsgHeartbeat }
func (Sensors) Type() MsgID      { return MsgSensors }
func (Stats) Type() MsgID        { return MsgStats }
func (Log) Type() MsgID          { return MsgLog }
func (c Config) Type() MsgID     { return c.Kind }
func (c FullConfig) Type() MsgID { return c.Kind }
func (DateTime) Type() MsgID     { return MsgSetDateTime }
func (Ack) Type() MsgID          { return MsgAck }
func (r Request) Type() MsgID    { return r.Kind }

func (c Command) Type() MsgID {
	if c.HasArg {
		return MsgCmdWithArg
	}
	return MsgCmdSimple
}

// BatteryVolts returns the battery voltage in volts
func (t Telemetry) BatteryVolts() float64 {
	return float64(t.BatteryMillivolts) / 1000.0
}

// HasFlag reports whether the given state flag bit is set
func (t Telemetry) HasFlag(flag uint16) bool {
	return t.StateFlags&flag != 0
}

// Temperature returns the controller temperature in °C
func (s Sensors) Temperature() float64 {
	return float64(s.TemperatureDeci) / 10.0
}

// OK reports whether the acknowledged command was accepted
func (a Ack) OK() bool {
	return a.Result == AckOK
}

var le = binary.LittleEndian

func (t Telemetry) appendPayload(b []byte) []byte {
	b = le.AppendUint16(b, t.ErrorCode)
	b = le.AppendUint16(b, t.Position)
	b = le.AppendUint16(b, t.Speed)
	b = le.AppendUint16(b, t.BatteryMillivolts)
	b = le.AppendUint16(b, t.StateFlags)
	return append(b, t.Status, t.BatteryCharge, t.ShuttleNumber, t.PalletCount)
}

func (s Sensors) appendPayload(b []byte) []byte {
	b = le.AppendUint16(b, s.DistanceFront)
	b = le.AppendUint16(b, s.DistanceRear)
	b = le.AppendUint16(b, s.DistancePalletFront)
	b = le.AppendUint16(b, s.DistancePalletRear)
	b = le.AppendUint16(b, s.Angle)
	b = le.AppendUint16(b, uint16(s.LifterCurrent))
	b = le.AppendUint16(b, uint16(s.TemperatureDeci))
	return le.AppendUint16(b, s.HardwareFlags)
}

func (s Stats) appendPayload(b []byte) []byte {
	for _, v := range []uint32{
		s.TotalDistance, s.LoadCount, s.UnloadCount, s.CompactCount,
		s.LiftUpCount, s.LiftDownCount, s.PalletsDetected, s.UptimeMinutes,
	} {
		b = le.AppendUint32(b, v)
	}
	for _, v := range []uint16{
		s.MotorStalls, s.LifterOverloads, s.Crashes, s.WatchdogResets, s.LowBatteryEvents,
	} {
		b = le.AppendUint16(b, v)
	}
	return b
}

func (l Log) appendPayload(b []byte) []byte {
	b = append(b, byte(l.Level))
	return append(b, l.Text...)
}

func (c Config) appendPayload(b []byte) []byte {
	b = le.AppendUint32(b, uint32(c.Value))
	return append(b, byte(c.Param))
}

func (c FullConfig) appendPayload(b []byte) []byte {
	b = le.AppendUint16(b, c.InterPallet)
	b = le.AppendUint16(b, c.ShuttleLength)
	b = le.AppendUint16(b, c.MaxSpeed)
	b = le.AppendUint16(b, c.WaitTime)
	b = le.AppendUint16(b, uint16(c.MprOffset))
	b = le.AppendUint16(b, uint16(c.ChannelOffset))
	return append(b, c.ShuttleNumber, c.MinBattery, c.FifoLifo, c.ReverseMode)
}

func (c Command) appendPayload(b []byte) []byte {
	if c.HasArg {
		b = le.AppendUint32(b, uint32(c.Arg))
	}
	return append(b, byte(c.Cmd))
}

func (d DateTime) appendPayload(b []byte) []byte {
	t := d.Time
	return append(b,
		byte(t.Year()-2000), byte(t.Month()), byte(t.Day()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()))
}

func (a Ack) appendPayload(b []byte) []byte {
	return append(b, a.RefSeq, byte(a.Result))
}

func (Request) appendPayload(b []byte) []byte {
	return b
}

// EncodeMessage encodes msg into a wire frame with the given sequence number
func EncodeMessage(seq uint8, msg Message) ([]byte, error) {
	return Encode(seq, msg.Type(), msg.appendPayload(nil))
}

// MarshalPayload returns the packed payload bytes of msg
func MarshalPayload(msg Message) []byte {
	return msg.appendPayload(nil)
}

// DecodeMessage converts a frame into its typed message. Payloads shorter than the
// message's fixed layout are rejected with a *PayloadError; extra trailing bytes are ignored.
func DecodeMessage(f Frame) (Message, error) {
	p := f.Payload

	need := func(n int) error {
		if len(p) < n {
			return &PayloadError{Type: f.Type, Have: len(p), Want: n}
		}
		return nil
	}

	switch f.Type {
	case MsgHeartbeat:
		if err := need(telemetrySize); err != nil {
			return nil, err
		}
		return Telemetry{
			ErrorCode:         le.Uint16(p[0:]),
			Position:          le.Uint16(p[2:]),
			Speed:             le.Uint16(p[4:]),
			BatteryMillivolts: le.Uint16(p[6:]),
			StateFlags:        le.Uint16(p[8:]),
			Status:            p[10],
			BatteryCharge:     p[11],
			ShuttleNumber:     p[12],
			PalletCount:       p[13],
		}, nil

	case MsgSensors:
		if err := need(sensorsSize); err != nil {
			return nil, err
		}
		return Sensors{
			DistanceFront:       le.Uint16(p[0:]),
			DistanceRear:        le.Uint16(p[2:]),
			DistancePalletFront: le.Uint16(p[4:]),
			DistancePalletRear:  le.Uint16(p[6:]),
			Angle:               le.Uint16(p[8:]),
			LifterCurrent:       int16(le.Uint16(p[10:])),
			TemperatureDeci:     int16(le.Uint16(p[12:])),
			HardwareFlags:       le.Uint16(p[14:]),
		}, nil

	case MsgStats:
		if err := need(statsSize); err != nil {
			return nil, err
		}
		return Stats{
			TotalDistance:    le.Uint32(p[0:]),
			LoadCount:        le.Uint32(p[4:]),
			UnloadCount:      le.Uint32(p[8:]),
			CompactCount:     le.Uint32(p[12:]),
			LiftUpCount:      le.Uint32(p[16:]),
			LiftDownCount:    le.Uint32(p[20:]),
			PalletsDetected:  le.Uint32(p[24:]),
			UptimeMinutes:    le.Uint32(p[28:]),
			MotorStalls:      le.Uint16(p[32:]),
			LifterOverloads:  le.Uint16(p[34:]),
			Crashes:          le.Uint16(p[36:]),
			WatchdogResets:   le.Uint16(p[38:]),
			LowBatteryEvents: le.Uint16(p[40:]),
		}, nil

	case MsgLog:
		if err := need(logMinSize); err != nil {
			return nil, err
		}
		// Firmware truncates log lines at a byte limit, possibly mid-rune
		return Log{Level: LogLevel(p[0]), Text: strings.ToValidUTF8(string(p[1:]), "\uFFFD")}, nil

	case MsgConfigSet, MsgConfigGet, MsgConfigReply:
		if err := need(configSize); err != nil {
			return nil, err
		}
		return Config{
			Kind:  f.Type,
			Value: int32(le.Uint32(p[0:])),
			Param: ConfigParam(p[4]),
		}, nil

	case MsgConfigSyncPush, MsgConfigSyncRep:
		if err := need(fullConfigSize); err != nil {
			return nil, err
		}
		return FullConfig{
			Kind:          f.Type,
			InterPallet:   le.Uint16(p[0:]),
			ShuttleLength: le.Uint16(p[2:]),
			MaxSpeed:      le.Uint16(p[4:]),
			WaitTime:      le.Uint16(p[6:]),
			MprOffset:     int16(le.Uint16(p[8:])),
			ChannelOffset: int16(le.Uint16(p[10:])),
			ShuttleNumber: p[12],
			MinBattery:    p[13],
			FifoLifo:      p[14],
			ReverseMode:   p[15],
		}, nil

	case MsgCmdSimple:
		if err := need(cmdSimpleSize); err != nil {
			return nil, err
		}
		return Command{Cmd: CmdType(p[0])}, nil

	case MsgCmdWithArg:
		if err := need(cmdWithArgSize); err != nil {
			return nil, err
		}
		return Command{Cmd: CmdType(p[4]), Arg: int32(le.Uint32(p[0:])), HasArg: true}, nil

	case MsgSetDateTime:
		if err := need(dateTimeSize); err != nil {
			return nil, err
		}
		return DateTime{Time: time.Date(2000+int(p[0]), time.Month(p[1]), int(p[2]),
			int(p[3]), int(p[4]), int(p[5]), 0, time.Local)}, nil

	case MsgAck:
		if err := need(ackSize); err != nil {
			return nil, err
		}
		return Ack{RefSeq: p[0], Result: AckResult(p[1])}, nil

	case MsgReqHeartbeat, MsgReqSensors, MsgReqStats, MsgConfigSyncReq:
		return Request{Kind: f.Type}, nil
	}

	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(f.Type))
}

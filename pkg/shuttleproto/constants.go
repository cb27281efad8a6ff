// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package shuttleproto implements the binary frame protocol spoken by shuttle controllers.
//
// A frame is laid out as
//
//	0xAA 0x55 | length (u16 LE) | sequence (u8) | type (u8) | payload | CRC16 (BE)
//
// where the CRC-16-CCITT covers everything from the first sync byte to the end of the
// payload. Payload structs are packed little-endian.
package shuttleproto

// Frame sync bytes
const (
	SyncByte1 = 0xAA
	SyncByte2 = 0x55
)

// Frame size limits
const (
	HeaderSize     = 6 // sync(2) + length(2) + seq(1) + type(1)
	CRCSize        = 2
	MaxPayloadSize = 0xFFFF
)

// CRC-16-CCITT configuration (must match the controller firmware)
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// MsgID identifies the payload carried by a frame.
type MsgID uint8

// Routine telemetry (pushed only on request)
const (
	MsgHeartbeat    MsgID = 0x01
	MsgSensors      MsgID = 0x02
	MsgStats        MsgID = 0x03
	MsgReqHeartbeat MsgID = 0x04
	MsgReqSensors   MsgID = 0x05
	MsgReqStats     MsgID = 0x06
)

// Asynchronous
const (
	MsgLog MsgID = 0x10
)

// Configuration
const (
	MsgConfigSet      MsgID = 0x20
	MsgConfigGet      MsgID = 0x21
	MsgConfigReply    MsgID = 0x22
	MsgConfigSyncReq  MsgID = 0x23
	MsgConfigSyncPush MsgID = 0x24
	MsgConfigSyncRep  MsgID = 0x25
)

// Action commands
const (
	MsgCmdSimple   MsgID = 0x30
	MsgCmdWithArg  MsgID = 0x31
	MsgSetDateTime MsgID = 0x32
	MsgAck         MsgID = 0x33
)

// Fixed payload sizes
const (
	telemetrySize  = 14
	sensorsSize    = 16
	statsSize      = 42
	logMinSize     = 1
	configSize     = 5
	fullConfigSize = 16
	cmdSimpleSize  = 1
	cmdWithArgSize = 5
	dateTimeSize   = 6
	ackSize        = 2
)

// LogLevel is the severity carried by a LOG message.
type LogLevel uint8

// Log levels
const (
	LogInfo  LogLevel = 0
	LogWarn  LogLevel = 1
	LogError LogLevel = 2
	LogDebug LogLevel = 3
)

// AckResult is the status byte carried by an ACK message.
type AckResult uint8

// ACK results
const (
	AckOK    AckResult = 0
	AckError AckResult = 1
	AckBusy  AckResult = 2
)

// CmdType is the action requested by a CMD_SIMPLE or CMD_WITH_ARG message.
type CmdType uint8

// Lifecycle & state
const (
	CmdStop        CmdType = 0x00
	CmdStopManual  CmdType = 0x01
	CmdSystemReset CmdType = 0x02
	CmdResetError  CmdType = 0x03
	CmdManualMode  CmdType = 0x04
	CmdLogMode     CmdType = 0x05
	CmdDemo        CmdType = 0x06
	CmdHome        CmdType = 0x07
)

// Core movement
const (
	CmdMoveRightManual CmdType = 0x10
	CmdMoveLeftManual  CmdType = 0x11
	CmdMoveDistRear    CmdType = 0x12 // requires argument (mm)
	CmdMoveDistFront   CmdType = 0x13 // requires argument (mm)
	CmdLiftUp          CmdType = 0x14
	CmdLiftDown        CmdType = 0x15
	CmdCalibrate       CmdType = 0x16
)

// Auto operations
const (
	CmdLoad          CmdType = 0x20
	CmdUnload        CmdType = 0x21
	CmdLongLoad      CmdType = 0x22
	CmdLongUnload    CmdType = 0x23
	CmdLongUnloadQty CmdType = 0x24 // requires argument (pallet count)
	CmdCompactFront  CmdType = 0x25
	CmdCompactRear   CmdType = 0x26
	CmdCountPallets  CmdType = 0x27
	CmdEvacuateOn    CmdType = 0x28
)

// Configuration updates
const (
	CmdSaveEEPROM     CmdType = 0x30
	CmdGetConfig      CmdType = 0x31
	CmdFirmwareUpdate CmdType = 0x32
)

// ConfigParam identifies a single EEPROM parameter.
type ConfigParam uint8

// Configuration parameters
const (
	CfgShuttleNumber ConfigParam = 1
	CfgInterPallet   ConfigParam = 2
	CfgShuttleLength ConfigParam = 3
	CfgMaxSpeed      ConfigParam = 4
	CfgMinBattery    ConfigParam = 5
	CfgWaitTime      ConfigParam = 6
	CfgMprOffset     ConfigParam = 7
	CfgChannelOffset ConfigParam = 8
	CfgFifoLifo      ConfigParam = 9
	CfgReverseMode   ConfigParam = 10
)

// State flag bits in Telemetry.StateFlags
const (
	FlagLifterUp   = 1 << 0
	FlagMotorStart = 1 << 1
	FlagReverse    = 1 << 2
	FlagInverse    = 1 << 3
	FlagInChannel  = 1 << 4
	FlagFifoLifo   = 1 << 5
)

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Builder functions create Message values ready for EncodeMessage.

// NewCommand creates a CMD_SIMPLE message, or CMD_WITH_ARG when the command
// takes an argument (see CmdType.NeedsArg).
func NewCommand(cmd CmdType, arg int32) Command {
	if cmd.NeedsArg() {
		return Command{Cmd: cmd, Arg: arg, HasArg: true}
	}
	return Command{Cmd: cmd}
}

// NewCommandWithArg always creates a CMD_WITH_ARG message.
func NewCommandWithArg(cmd CmdType, arg int32) Command {
	return Command{Cmd: cmd, Arg: arg, HasArg: true}
}

// NewConfigSet creates a CONFIG_SET message (0x20).
// The controller acknowledges with ACK.
func NewConfigSet(param ConfigParam, value int32) Config {
	return Config{Kind: MsgConfigSet, Param: param, Value: value}
}

// NewConfigGet creates a CONFIG_GET message (0x21).
// The controller answers with CONFIG_REP carrying the same parameter.
func NewConfigGet(param ConfigParam) Config {
	return Config{Kind: MsgConfigGet, Param: param}
}

// NewConfigSyncPush creates a CONFIG_SYNC_PUSH message (0x24) from a full configuration block.
func NewConfigSyncPush(cfg FullConfig) FullConfig {
	cfg.Kind = MsgConfigSyncPush
	return cfg
}

// NewDateTime creates a SET_DATETIME message (0x32). Seconds are truncated.
func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t.Truncate(time.Second)}
}

// NewHeartbeatRequest creates a REQ_HEARTBEAT message (0x04).
func NewHeartbeatRequest() Request { return Request{Kind: MsgReqHeartbeat} }

// NewSensorsRequest creates a REQ_SENSORS message (0x05).
func NewSensorsRequest() Request { return Request{Kind: MsgReqSensors} }

// NewStatsRequest creates a REQ_STATS message (0x06).
func NewStatsRequest() Request { return Request{Kind: MsgReqStats} }

// NewConfigSyncRequest creates a CONFIG_SYNC_REQ message (0x23).
func NewConfigSyncRequest() Request { return Request{Kind: MsgConfigSyncReq} }

// ExpectsAck reports whether the controller acknowledges msg with an ACK frame
func ExpectsAck(msg Message) bool {
	switch msg.Type() {
	case MsgCmdSimple, MsgCmdWithArg, MsgConfigSet, MsgConfigSyncPush, MsgSetDateTime:
		return true
	}
	return false
}

var cmdNames = map[CmdType]string{
	CmdStop:            "STOP",
	CmdStopManual:      "STOP_MANUAL",
	CmdSystemReset:     "SYSTEM_RESET",
	CmdResetError:      "RESET_ERROR",
	CmdManualMode:      "MANUAL_MODE",
	CmdLogMode:         "LOG_MODE",
	CmdDemo:            "DEMO",
	CmdHome:            "HOME",
	CmdMoveRightManual: "MOVE_RIGHT_MAN",
	CmdMoveLeftManual:  "MOVE_LEFT_MAN",
	CmdMoveDistRear:    "MOVE_DIST_R",
	CmdMoveDistFront:   "MOVE_DIST_F",
	CmdLiftUp:          "LIFT_UP",
	CmdLiftDown:        "LIFT_DOWN",
	CmdCalibrate:       "CALIBRATE",
	CmdLoad:            "LOAD",
	CmdUnload:          "UNLOAD",
	CmdLongLoad:        "LONG_LOAD",
	CmdLongUnload:      "LONG_UNLOAD",
	CmdLongUnloadQty:   "LONG_UNLOAD_QTY",
	CmdCompactFront:    "COMPACT_F",
	CmdCompactRear:     "COMPACT_R",
	CmdCountPallets:    "COUNT_PALLETS",
	CmdEvacuateOn:      "EVACUATE_ON",
	CmdSaveEEPROM:      "SAVE_EEPROM",
	CmdGetConfig:       "GET_CONFIG",
	CmdFirmwareUpdate:  "FIRMWARE_UPDATE",
}

var configNames = map[ConfigParam]string{
	CfgShuttleNumber: "SHUTTLE_NUMBER",
	CfgInterPallet:   "INTER_PALLET",
	CfgShuttleLength: "SHUTTLE_LEN",
	CfgMaxSpeed:      "MAX_SPEED",
	CfgMinBattery:    "MIN_BATT",
	CfgWaitTime:      "WAIT_TIME",
	CfgMprOffset:     "MPR_OFFSET",
	CfgChannelOffset: "CHNL_OFFSET",
	CfgFifoLifo:      "FIFO_LIFO",
	CfgReverseMode:   "REVERSE_MODE",
}

func (c CmdType) String() string {
	if name, ok := cmdNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD_0x%02X", uint8(c))
}

// NeedsArg reports whether the command is only meaningful with an argument
func (c CmdType) NeedsArg() bool {
	switch c {
	case CmdMoveDistRear, CmdMoveDistFront, CmdLongUnloadQty:
		return true
	}
	return false
}

// Commands returns every known command in wire order
func Commands() []CmdType {
	out := make([]CmdType, 0, len(cmdNames))
	for i := 0; i <= 0xFF; i++ {
		if _, ok := cmdNames[CmdType(i)]; ok {
			out = append(out, CmdType(i))
		}
	}
	return out
}

// ParseCmdType accepts a command name (case-insensitive, "-" or "_") or a numeric code
func ParseCmdType(s string) (CmdType, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for c, n := range cmdNames {
		if n == name {
			return c, nil
		}
	}
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		return CmdType(v), nil
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

func (p ConfigParam) String() string {
	if name, ok := configNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PARAM_%d", uint8(p))
}

// ParseConfigParam accepts a parameter name (case-insensitive, "-" or "_") or a numeric ID
func ParseConfigParam(s string) (ConfigParam, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for p, n := range configNames {
		if n == name {
			return p, nil
		}
	}
	if v, err := strconv.ParseUint(s, 0, 8); err == nil && v >= 1 && v <= uint64(CfgReverseMode) {
		return ConfigParam(v), nil
	}
	return 0, fmt.Errorf("unknown config parameter %q", s)
}

// ConfigParams returns every known parameter in ID order
func ConfigParams() []ConfigParam {
	out := make([]ConfigParam, 0, len(configNames))
	for p := CfgShuttleNumber; p <= CfgReverseMode; p++ {
		out = append(out, p)
	}
	return out
}

func (l LogLevel) String() string {
	switch l {
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	case LogError:
		return "ERROR"
	case LogDebug:
		return "DEBUG"
	}
	return fmt.Sprintf("LEVEL_%d", uint8(l))
}

func (r AckResult) String() string {
	switch r {
	case AckOK:
		return "OK"
	case AckError:
		return "ERROR"
	case AckBusy:
		return "BUSY"
	}
	return fmt.Sprintf("RESULT_%d", uint8(r))
}

// Value returns the parameter's value in a full configuration block
func (c FullConfig) Value(p ConfigParam) (int32, bool) {
	switch p {
	case CfgShuttleNumber:
		return int32(c.ShuttleNumber), true
	case CfgInterPallet:
		return int32(c.InterPallet), true
	case CfgShuttleLength:
		return int32(c.ShuttleLength), true
	case CfgMaxSpeed:
		return int32(c.MaxSpeed), true
	case CfgMinBattery:
		return int32(c.MinBattery), true
	case CfgWaitTime:
		return int32(c.WaitTime), true
	case CfgMprOffset:
		return int32(c.MprOffset), true
	case CfgChannelOffset:
		return int32(c.ChannelOffset), true
	case CfgFifoLifo:
		return int32(c.FifoLifo), true
	case CfgReverseMode:
		return int32(c.ReverseMode), true
	}
	return 0, false
}

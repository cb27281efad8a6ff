// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a received frame into a human-readable block
func FormatFrame(f Frame, at time.Time) string {
	timestamp := at.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d len=%d\n",
		timestamp, FormatMessageType(f.Type), uint8(f.Type), f.Seq, len(f.Payload))

	msg, err := DecodeMessage(f)
	if err != nil {
		return result + fmt.Sprintf("  Decode error: %v\n  Raw: % X\n", err, f.Payload)
	}
	return result + "  " + FormatMessage(msg) + "\n"
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(t MsgID) string {
	switch t {
	// Telemetry
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgSensors:
		return "SENSORS"
	case MsgStats:
		return "STATS"
	case MsgReqHeartbeat:
		return "REQ_HEARTBEAT"
	case MsgReqSensors:
		return "REQ_SENSORS"
	case MsgReqStats:
		return "REQ_STATS"

	case MsgLog:
		return "LOG"

	// Configuration
	case MsgConfigSet:
		return "CONFIG_SET"
	case MsgConfigGet:
		return "CONFIG_GET"
	case MsgConfigReply:
		return "CONFIG_REP"
	case MsgConfigSyncReq:
		return "CONFIG_SYNC_REQ"
	case MsgConfigSyncPush:
		return "CONFIG_SYNC_PUSH"
	case MsgConfigSyncRep:
		return "CONFIG_SYNC_REP"

	// Commands
	case MsgCmdSimple:
		return "CMD_SIMPLE"
	case MsgCmdWithArg:
		return "CMD_WITH_ARG"
	case MsgSetDateTime:
		return "SET_DATETIME"
	case MsgAck:
		return "ACK"

	default:
		return "UNKNOWN"
	}
}

func (t MsgID) String() string {
	return FormatMessageType(t)
}

// FormatMessage renders a decoded message on a single line
func FormatMessage(msg Message) string {
	switch m := msg.(type) {
	case Telemetry:
		return fmt.Sprintf("Shuttle %d: Cmd=%s, Pos=%d mm, Speed=%d%%, Battery=%d%% (%.2f V), Pallets=%d, Error=%d, Flags=[%s]",
			m.ShuttleNumber, CmdType(m.Status), m.Position, m.Speed,
			m.BatteryCharge, m.BatteryVolts(), m.PalletCount, m.ErrorCode, formatStateFlags(m.StateFlags))

	case Sensors:
		return fmt.Sprintf("Dist F/R=%d/%d mm, Pallet F/R=%d/%d mm, Angle=%d, Lifter=%d mA, Temp=%.1f°C, HW=0x%04X",
			m.DistanceFront, m.DistanceRear, m.DistancePalletFront, m.DistancePalletRear,
			m.Angle, m.LifterCurrent, m.Temperature(), m.HardwareFlags)

	case Stats:
		return fmt.Sprintf("Distance=%d, Load=%d, Unload=%d, Compact=%d, Lift=%d/%d, Pallets=%d, Uptime=%s, Stalls=%d, Overloads=%d, Crashes=%d, WDT=%d, LowBatt=%d",
			m.TotalDistance, m.LoadCount, m.UnloadCount, m.CompactCount,
			m.LiftUpCount, m.LiftDownCount, m.PalletsDetected,
			formatMinutes(m.UptimeMinutes), m.MotorStalls, m.LifterOverloads,
			m.Crashes, m.WatchdogResets, m.LowBatteryEvents)

	case Log:
		return fmt.Sprintf("[%s] %s", m.Level, strings.TrimRight(m.Text, "\r\n"))

	case Config:
		if m.Kind == MsgConfigGet {
			return fmt.Sprintf("Param: %s", m.Param)
		}
		return fmt.Sprintf("Param: %s = %d", m.Param, m.Value)

	case FullConfig:
		parts := make([]string, 0, 10)
		for _, p := range ConfigParams() {
			v, _ := m.Value(p)
			parts = append(parts, fmt.Sprintf("%s=%d", p, v))
		}
		return strings.Join(parts, ", ")

	case Command:
		if m.HasArg {
			return fmt.Sprintf("Command: %s (0x%02X), Arg: %d", m.Cmd, uint8(m.Cmd), m.Arg)
		}
		return fmt.Sprintf("Command: %s (0x%02X)", m.Cmd, uint8(m.Cmd))

	case DateTime:
		return "DateTime: " + m.Time.Format("2006-01-02 15:04:05")

	case Ack:
		return fmt.Sprintf("ACK seq=%d: %s", m.RefSeq, m.Result)

	case Request:
		return "(no payload)"
	}
	return fmt.Sprintf("%v", msg)
}

// formatStateFlags lists the set state flag bits
func formatStateFlags(flags uint16) string {
	names := []struct {
		bit  uint16
		name string
	}{
		{FlagLifterUp, "LIFTER_UP"},
		{FlagMotorStart, "MOTOR"},
		{FlagReverse, "REVERSE"},
		{FlagInverse, "INVERSE"},
		{FlagInChannel, "IN_CHANNEL"},
		{FlagFifoLifo, "LIFO"},
	}
	set := []string{}
	for _, n := range names {
		if flags&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	return strings.Join(set, " ")
}

func formatMinutes(minutes uint32) string {
	d := time.Duration(minutes) * time.Minute
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes%60)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes%60)
}

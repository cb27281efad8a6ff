// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeMessage_Heartbeat(t *testing.T) {
	frames, _ := ScanFrames(heartbeatFrame)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}

	msg, err := DecodeMessage(frames[0])
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	tel, ok := msg.(Telemetry)
	if !ok {
		t.Fatalf("got %T, want Telemetry", msg)
	}

	want := Telemetry{
		Position:          1500,
		Speed:             50,
		BatteryMillivolts: 48200,
		StateFlags:        FlagLifterUp | FlagMotorStart,
		Status:            0x20,
		BatteryCharge:     87,
		ShuttleNumber:     7,
		PalletCount:       3,
	}
	if tel != want {
		t.Errorf("telemetry = %+v\nwant %+v", tel, want)
	}
	if !tel.HasFlag(FlagMotorStart) || tel.HasFlag(FlagReverse) {
		t.Error("HasFlag mismatch")
	}
	if tel.BatteryVolts() != 48.2 {
		t.Errorf("BatteryVolts() = %v", tel.BatteryVolts())
	}
}

func TestEncodeMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		size int
	}{
		{"telemetry", Telemetry{ErrorCode: 4, Position: 65535, ShuttleNumber: 200}, telemetrySize},
		{"sensors", Sensors{DistanceFront: 120, LifterCurrent: -350, TemperatureDeci: -125, HardwareFlags: 0x8001}, sensorsSize},
		{"stats", Stats{TotalDistance: 0xDEADBEEF, UptimeMinutes: 90061, LowBatteryEvents: 12}, statsSize},
		{"log", Log{Level: LogWarn, Text: "lifter overload"}, 1 + len("lifter overload")},
		{"config set", NewConfigSet(CfgMprOffset, -42), configSize},
		{"config get", NewConfigGet(CfgMaxSpeed), configSize},
		{"config reply", Config{Kind: MsgConfigReply, Param: CfgWaitTime, Value: 1000}, configSize},
		{"full config", NewConfigSyncPush(FullConfig{InterPallet: 100, MprOffset: -5, ReverseMode: 1}), fullConfigSize},
		{"simple command", NewCommand(CmdHome, 0), cmdSimpleSize},
		{"command with arg", NewCommand(CmdMoveDistFront, 2500), cmdWithArgSize},
		{"negative arg", NewCommandWithArg(CmdMoveDistRear, -1), cmdWithArgSize},
		{"datetime", NewDateTime(time.Date(2025, 3, 14, 15, 9, 26, 535, time.Local)), dateTimeSize},
		{"ack", Ack{RefSeq: 200, Result: AckBusy}, ackSize},
		{"request", NewStatsRequest(), 0},
		{"sync request", NewConfigSyncRequest(), 0},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := uint8(i * 17)
			frame, err := EncodeMessage(seq, tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			if got := len(frame) - HeaderSize - CRCSize; got != tt.size {
				t.Errorf("payload size = %d, want %d", got, tt.size)
			}

			frames, _ := ScanFrames(frame)
			if len(frames) != 1 || frames[0].Seq != seq {
				t.Fatalf("frames = %+v", frames)
			}
			decoded, err := DecodeMessage(frames[0])
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if decoded != tt.msg {
				t.Errorf("decoded = %+v\nwant %+v", decoded, tt.msg)
			}
		})
	}
}

func TestDecodeMessage_CommandLayout(t *testing.T) {
	// CMD_WITH_ARG carries the argument before the command byte
	payload := MarshalPayload(NewCommand(CmdLongUnloadQty, 3))
	want := []byte{0x03, 0x00, 0x00, 0x00, byte(CmdLongUnloadQty)}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = % X, want % X", payload, want)
	}

	// CONFIG_SET carries the value before the parameter byte
	payload = MarshalPayload(NewConfigSet(CfgShuttleNumber, 0x0102))
	want = []byte{0x02, 0x01, 0x00, 0x00, byte(CfgShuttleNumber)}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = % X, want % X", payload, want)
	}

	// Year is an offset from 2000
	payload = MarshalPayload(DateTime{Time: time.Date(2031, 12, 31, 23, 59, 58, 0, time.UTC)})
	want = []byte{31, 12, 31, 23, 59, 58}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = % X, want % X", payload, want)
	}
}

func TestDecodeMessage_ShortPayload(t *testing.T) {
	tests := []struct {
		msgType MsgID
		size    int
	}{
		{MsgHeartbeat, telemetrySize},
		{MsgSensors, sensorsSize},
		{MsgStats, statsSize},
		{MsgLog, logMinSize},
		{MsgConfigReply, configSize},
		{MsgConfigSyncRep, fullConfigSize},
		{MsgCmdSimple, cmdSimpleSize},
		{MsgCmdWithArg, cmdWithArgSize},
		{MsgSetDateTime, dateTimeSize},
		{MsgAck, ackSize},
	}

	for _, tt := range tests {
		t.Run(FormatMessageType(tt.msgType), func(t *testing.T) {
			_, err := DecodeMessage(Frame{Type: tt.msgType, Payload: make([]byte, tt.size-1)})
			var perr *PayloadError
			if !errors.As(err, &perr) {
				t.Fatalf("err = %v, want *PayloadError", err)
			}
			if perr.Have != tt.size-1 || perr.Want != tt.size {
				t.Errorf("PayloadError = %+v", perr)
			}

			// Longer payloads are accepted
			if _, err := DecodeMessage(Frame{Type: tt.msgType, Payload: make([]byte, tt.size+3)}); err != nil {
				t.Errorf("oversized payload rejected: %v", err)
			}
		})
	}
}

func TestDecodeMessage_UnknownType(t *testing.T) {
	_, err := DecodeMessage(Frame{Type: 0x7F, Payload: []byte{1, 2, 3}})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeMessage_LogInvalidUTF8(t *testing.T) {
	msg, err := DecodeMessage(Frame{Type: MsgLog, Payload: []byte{byte(LogError), 'o', 'k', 0xE2, 0x82}})
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	log := msg.(Log)
	if log.Level != LogError || !strings.HasPrefix(log.Text, "ok") || !strings.HasSuffix(log.Text, "�") {
		t.Errorf("log = %+v", log)
	}
}

func TestExpectsAck(t *testing.T) {
	tests := []struct {
		msg  Message
		want bool
	}{
		{NewCommand(CmdStop, 0), true},
		{NewCommand(CmdMoveDistRear, 10), true},
		{NewConfigSet(CfgMaxSpeed, 80), true},
		{NewConfigSyncPush(FullConfig{}), true},
		{NewDateTime(time.Now()), true},
		{NewConfigGet(CfgMaxSpeed), false},
		{NewHeartbeatRequest(), false},
		{NewConfigSyncRequest(), false},
	}
	for _, tt := range tests {
		if got := ExpectsAck(tt.msg); got != tt.want {
			t.Errorf("ExpectsAck(%s) = %v, want %v", tt.msg.Type(), got, tt.want)
		}
	}
}

func TestParseCmdType(t *testing.T) {
	tests := []struct {
		in      string
		want    CmdType
		wantErr bool
	}{
		{"home", CmdHome, false},
		{"LONG-UNLOAD-QTY", CmdLongUnloadQty, false},
		{"move_dist_f", CmdMoveDistFront, false},
		{"0x14", CmdLiftUp, false},
		{"0", CmdStop, false},
		{"jump", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCmdType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseConfigParam(t *testing.T) {
	for _, p := range ConfigParams() {
		got, err := ParseConfigParam(strings.ToLower(p.String()))
		if err != nil || got != p {
			t.Errorf("ParseConfigParam(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParseConfigParam("11"); err == nil {
		t.Error("expected error for out of range parameter")
	}
	if got, err := ParseConfigParam("4"); err != nil || got != CfgMaxSpeed {
		t.Errorf("ParseConfigParam(\"4\") = %v, %v", got, err)
	}
}

func TestFullConfig_Value(t *testing.T) {
	cfg := FullConfig{ShuttleNumber: 9, ChannelOffset: -30, FifoLifo: 1}
	if v, ok := cfg.Value(CfgChannelOffset); !ok || v != -30 {
		t.Errorf("Value(CHNL_OFFSET) = %d, %v", v, ok)
	}
	if v, ok := cfg.Value(CfgShuttleNumber); !ok || v != 9 {
		t.Errorf("Value(SHUTTLE_NUMBER) = %d, %v", v, ok)
	}
	if _, ok := cfg.Value(0); ok {
		t.Error("Value(0) should not be found")
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		msg      Message
		contains string
	}{
		{Telemetry{ShuttleNumber: 3, BatteryCharge: 50, StateFlags: FlagLifterUp}, "LIFTER_UP"},
		{Sensors{TemperatureDeci: 235}, "23.5°C"},
		{Stats{UptimeMinutes: 1501}, "1d 1h 1m"},
		{Log{Level: LogWarn, Text: "low battery\r\n"}, "[WARN] low battery"},
		{NewConfigSet(CfgMaxSpeed, 80), "MAX_SPEED = 80"},
		{NewCommand(CmdMoveDistFront, 300), "MOVE_DIST_F (0x13), Arg: 300"},
		{Ack{RefSeq: 4, Result: AckError}, "ACK seq=4: ERROR"},
		{FullConfig{MinBattery: 20}, "MIN_BATT=20"},
	}
	for _, tt := range tests {
		t.Run(tt.msg.Type().String(), func(t *testing.T) {
			if got := FormatMessage(tt.msg); !strings.Contains(got, tt.contains) {
				t.Errorf("FormatMessage() = %q, want it to contain %q", got, tt.contains)
			}
		})
	}
}

func TestFormatFrame(t *testing.T) {
	frames, _ := ScanFrames(heartbeatFrame)
	out := FormatFrame(frames[0], time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local))
	if !strings.HasPrefix(out, "[12:00:00.000] HEARTBEAT (0x01) seq=5 len=14") {
		t.Errorf("unexpected header: %q", out)
	}

	out = FormatFrame(Frame{Type: MsgAck, Payload: []byte{1}}, time.Now())
	if !strings.Contains(out, "Decode error") {
		t.Errorf("expected decode error in %q", out)
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []AnomalyType
	}{
		{"plausible telemetry", Telemetry{BatteryCharge: 80, BatteryMillivolts: 48000}, nil},
		{"unsampled battery", Telemetry{}, nil},
		{"charge over 100", Telemetry{BatteryCharge: 101, BatteryMillivolts: 48000}, []AnomalyType{AnomalyBatteryCharge}},
		{"voltage too high", Telemetry{BatteryCharge: 50, BatteryMillivolts: 61000}, []AnomalyType{AnomalyBatteryVoltage}},
		{"both", Telemetry{BatteryCharge: 255, BatteryMillivolts: 100}, []AnomalyType{AnomalyBatteryCharge, AnomalyBatteryVoltage}},
		{"hot", Sensors{TemperatureDeci: 1300}, []AnomalyType{AnomalyTemperature}},
		{"cold", Sensors{TemperatureDeci: -500}, []AnomalyType{AnomalyTemperature}},
		{"unknown ack", Ack{Result: 9}, []AnomalyType{AnomalyUnknownResult}},
		{"unknown level", Log{Level: 7}, []AnomalyType{AnomalyUnknownLevel}},
		{"unknown param", Config{Kind: MsgConfigReply, Param: 42}, []AnomalyType{AnomalyInvalidValue}},
		{"request", NewStatsRequest(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateMessage(tt.msg)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d errors (%v), want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("error %d type = %d, want %d", i, got[i].Type, tt.want[i])
				}
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.Update(nil, nil)
	s.Update(nil, []ValidationError{{Type: AnomalyBatteryCharge}})
	s.Update(&PayloadError{Type: MsgAck, Have: 1, Want: 2}, nil)
	s.Update(ErrUnknownType, nil)
	s.UpdateScan(ScanStats{CRCErrors: 2, DiscardedBytes: 17})

	if s.TotalFrames != 4 || s.ValidFrames != 1 || s.AnomalousValues != 1 ||
		s.DecodeErrors != 1 || s.UnknownTypes != 1 || s.CRCErrors != 2 || s.DiscardedBytes != 17 {
		t.Errorf("statistics = %+v", s)
	}

	out := s.String()
	for _, want := range []string{"Total Frames:", "CRC Errors:", "Unknown Types:", "Discarded Bytes:"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q", want)
		}
	}

	s.Reset()
	if s.TotalFrames != 0 || s.CRCErrors != 0 {
		t.Error("Reset should clear counters")
	}
}

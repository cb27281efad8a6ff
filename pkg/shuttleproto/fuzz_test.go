// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

var fuzzTypes = []MsgID{
	MsgHeartbeat, MsgSensors, MsgStats, MsgReqHeartbeat, MsgReqSensors, MsgReqStats,
	MsgLog, MsgConfigSet, MsgConfigGet, MsgConfigReply, MsgConfigSyncReq,
	MsgConfigSyncPush, MsgConfigSyncRep, MsgCmdSimple, MsgCmdWithArg, MsgSetDateTime, MsgAck,
}

func randomFrame(rng *rand.Rand) Frame {
	payload := make([]byte, rng.Intn(64))
	rng.Read(payload)
	return Frame{
		Seq:     uint8(rng.Intn(256)),
		Type:    fuzzTypes[rng.Intn(len(fuzzTypes))],
		Payload: payload,
	}
}

// TestFuzz_RandomChunking splits a clean stream of random frames at random points
func TestFuzz_RandomChunking(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		want := make([]Frame, 1+rng.Intn(8))
		var stream []byte
		for i := range want {
			want[i] = randomFrame(rng)
			frame, err := Encode(want[i].Seq, want[i].Type, want[i].Payload)
			if err != nil {
				t.Fatalf("round %d: Encode failed: %v", round, err)
			}
			stream = append(stream, frame...)
		}

		s := NewScanner()
		var got []Frame
		for len(stream) > 0 {
			n := 1 + rng.Intn(len(stream))
			s.Write(stream[:n])
			stream = stream[n:]
			got = append(got, s.Frames()...)
		}

		if len(got) != len(want) {
			t.Fatalf("round %d: got %d frames, want %d", round, len(got), len(want))
		}
		for i := range got {
			if got[i].Seq != want[i].Seq || got[i].Type != want[i].Type || !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Fatalf("round %d frame %d mismatch", round, i)
			}
		}
		if s.Buffered() != 0 {
			t.Fatalf("round %d: %d bytes left buffered", round, s.Buffered())
		}
	}
}

// TestFuzz_RandomNoise feeds random bytes; the scanner must not panic and must
// only emit frames whose CRC holds.
func TestFuzz_RandomNoise(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	s := NewScanner()
	for round := 0; round < rounds; round++ {
		noise := make([]byte, rng.Intn(256))
		rng.Read(noise)
		// Bias toward sync markers so the header paths are exercised
		for i := 0; i+1 < len(noise); i += 1 + rng.Intn(32) {
			noise[i], noise[i+1] = SyncByte1, SyncByte2
			if i+3 < len(noise) {
				noise[i+2], noise[i+3] = byte(rng.Intn(16)), 0
			}
		}
		s.Write(noise)

		for _, f := range s.Frames() {
			frame, _ := Encode(f.Seq, f.Type, f.Payload)
			if again, _ := ScanFrames(frame); len(again) != 1 {
				t.Fatalf("round %d: emitted frame does not re-encode cleanly", round)
			}
			// Decoding arbitrary payloads must never panic
			_, _ = DecodeMessage(f)
		}
		if s.Buffered() > 256+0xFFFF+HeaderSize+CRCSize {
			t.Fatalf("round %d: buffer grew to %d bytes", round, s.Buffered())
		}
	}
}

// TestFuzz_DecodeRandomPayloads decodes random payloads of every type
func TestFuzz_DecodeRandomPayloads(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		f := randomFrame(rng)
		msg, err := DecodeMessage(f)
		if err != nil {
			continue
		}
		if f.Type == MsgSetDateTime || f.Type == MsgLog {
			// Calendar normalization and UTF-8 repair may rewrite bytes
			continue
		}
		// Re-encoding a decoded message reproduces the fixed-size prefix
		payload := MarshalPayload(msg)
		if len(payload) > len(f.Payload) {
			t.Fatalf("round %d: %s re-encoded to %d bytes from %d", round, f.Type, len(payload), len(f.Payload))
		}
		if !bytes.Equal(payload, f.Payload[:len(payload)]) {
			t.Fatalf("round %d: %s payload mismatch\n got % X\nwant % X", round, f.Type, payload, f.Payload[:len(payload)])
		}
	}
}

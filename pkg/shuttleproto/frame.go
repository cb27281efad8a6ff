// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"encoding/binary"
	"fmt"
)

// Frame is one CRC-validated wire unit
type Frame struct {
	Seq     uint8
	Type    MsgID
	Payload []byte
}

// Encode builds a complete wire frame: header, payload and big-endian CRC.
func Encode(seq uint8, msgType MsgID, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(payload)+CRCSize)
	frame[0] = SyncByte1
	frame[1] = SyncByte2
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(payload)))
	frame[4] = seq
	frame[5] = byte(msgType)
	frame = append(frame, payload...)

	crc := CalculateCRC(frame)
	return binary.BigEndian.AppendUint16(frame, crc), nil
}

// ScanFrames extracts every complete, CRC-valid frame from buf.
//
// consumed is the number of leading bytes the caller may discard; bytes after it
// (a partial header or partial frame) must be kept and prefixed to the next read.
// A frame whose CRC does not match is dropped and scanning resumes two bytes past
// its sync marker.
func ScanFrames(buf []byte) (frames []Frame, consumed int) {
	frames, consumed, _ = scan(buf)
	return frames, consumed
}

// scan is ScanFrames that also reports how many false syncs were skipped.
func scan(buf []byte) (frames []Frame, consumed int, crcErrors int) {
	offset := 0
	for offset < len(buf) {
		sync := findSync(buf, offset)
		if sync < 0 {
			// No sync left. Keep a trailing first sync byte, it may be half a marker.
			if buf[len(buf)-1] == SyncByte1 {
				return frames, len(buf) - 1, crcErrors
			}
			return frames, len(buf), crcErrors
		}

		if len(buf)-sync < HeaderSize {
			return frames, sync, crcErrors
		}

		payloadLen := int(binary.LittleEndian.Uint16(buf[sync+2 : sync+4]))
		total := HeaderSize + payloadLen + CRCSize
		if len(buf)-sync < total {
			return frames, sync, crcErrors
		}

		end := sync + HeaderSize + payloadLen
		received := binary.BigEndian.Uint16(buf[end : end+CRCSize])
		if received != CalculateCRC(buf[sync:end]) {
			crcErrors++
			offset = sync + 2
			continue
		}

		payload := make([]byte, payloadLen)
		copy(payload, buf[sync+HeaderSize:end])
		frames = append(frames, Frame{
			Seq:     buf[sync+4],
			Type:    MsgID(buf[sync+5]),
			Payload: payload,
		})
		offset = sync + total
	}
	return frames, offset, crcErrors
}

func findSync(buf []byte, from int) int {
	for i := from; i < len(buf)-1; i++ {
		if buf[i] == SyncByte1 && buf[i+1] == SyncByte2 {
			return i
		}
	}
	return -1
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

import "encoding/binary"

// runSTM32 drives the STM32 bootloader:
//
//	INIT -> OK
//	ERASE mode -> OK
//	WRITE_STREAM base:u32le len:u32le -> OK
//	<image>
//	OK (flash complete)
//	RUN -> OK
func (s *session) runSTM32(fullErase bool) error {
	t := s.cfg.timeouts

	if err := s.command("init", t.Ack, CmdInit); err != nil {
		return err
	}

	mode := byte(EraseIncremental)
	if fullErase {
		mode = EraseFull
	}
	if err := s.command("erase", t.Erase, CmdErase, mode); err != nil {
		return err
	}

	hdr := binary.LittleEndian.AppendUint32(nil, STM32BaseAddress)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(s.firmware)))
	if err := s.command("stream", t.Ack, CmdWriteStream, hdr...); err != nil {
		return err
	}

	if err := s.upload(); err != nil {
		return err
	}
	return s.finish(t.STM32Flash, s.cfg.stm32Step)
}

// runESP32 drives the ESP32 updater:
//
//	INIT len:u32le -> OK
//	WRITE_STREAM len:u32le -> OK
//	<image>
//	OK (flash complete)
//	RUN -> OK
func (s *session) runESP32() error {
	t := s.cfg.timeouts
	size := binary.LittleEndian.AppendUint32(nil, uint32(len(s.firmware)))

	if err := s.command("init", t.Ack, CmdInit, size...); err != nil {
		return err
	}
	if err := s.command("stream", t.Ack, CmdWriteStream, size...); err != nil {
		return err
	}

	if err := s.upload(); err != nil {
		return err
	}
	return s.finish(t.ESP32Flash, s.cfg.esp32Step)
}

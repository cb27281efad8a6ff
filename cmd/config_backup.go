// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

// configBackupVersion is bumped when the backup layout changes
const configBackupVersion = 1

// configBackup is the on-disk form of a pulled configuration
type configBackup struct {
	Version int                     `cbor:"1,keyasint"`
	SavedAt time.Time               `cbor:"2,keyasint"`
	Config  shuttleproto.FullConfig `cbor:"3,keyasint"`
}

var backupEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func encodeConfigBackup(cfg shuttleproto.FullConfig, at time.Time) ([]byte, error) {
	data, err := backupEncMode.Marshal(configBackup{
		Version: configBackupVersion,
		SavedAt: at.Truncate(time.Second),
		Config:  cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	return data, nil
}

func decodeConfigBackup(data []byte) (configBackup, error) {
	var b configBackup
	if err := cbor.Unmarshal(data, &b); err != nil {
		return configBackup{}, fmt.Errorf("failed to decode backup: %w", err)
	}
	if b.Version != configBackupVersion {
		return configBackup{}, fmt.Errorf("unsupported backup version %d", b.Version)
	}
	return b, nil
}

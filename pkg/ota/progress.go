// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

// Phase is a stage of an update
type Phase int

const (
	PhaseUpload Phase = iota
	PhaseFlashing
	PhaseFinalizing
)

func (p Phase) String() string {
	switch p {
	case PhaseUpload:
		return "upload"
	case PhaseFlashing:
		return "flashing"
	case PhaseFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// Progress bands: upload fills 0-70 %, the device-side flash wait 70-95 %,
// reboot 95-100 %.
const (
	uploadEnd     = 70
	flashingEnd   = 95
	flashingLimit = flashingEnd - 1
	done          = 100
)

// Progress is one progress report
type Progress struct {
	Phase      Phase
	Percent    int
	BytesSent  int
	BytesTotal int
}

// ProgressFunc receives progress reports. Calls are sequential and never
// happen after RunUpdate returns.
type ProgressFunc func(Progress)

// uploadPercent maps bytes sent onto the upload band
func uploadPercent(sent, total int) int {
	return int(int64(sent) * uploadEnd / int64(total))
}

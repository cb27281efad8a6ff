// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	CRCErrors       uint64
	DecodeErrors    uint64
	UnknownTypes    uint64
	AnomalousValues uint64
	DiscardedBytes  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a decoded frame and its errors
func (s *Statistics) Update(decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrUnknownType) {
			s.UnknownTypes++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if len(validationErrors) > 0 {
		s.AnomalousValues++
		return
	}
	s.ValidFrames++
}

// UpdateScan folds in scanner counters since the previous call
func (s *Statistics) UpdateScan(delta ScanStats) {
	s.CRCErrors += delta.CRCErrors
	s.DiscardedBytes += delta.DiscardedBytes
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.CRCErrors + s.DecodeErrors + s.UnknownTypes + s.AnomalousValues
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	pct := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, pct(s.ValidFrames))

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, pct(s.DecodeErrors))
	}
	if s.UnknownTypes > 0 {
		result += fmt.Sprintf("Unknown Types:   %8d (%.1f%%)\n", s.UnknownTypes, pct(s.UnknownTypes))
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, pct(s.AnomalousValues))
	}
	if s.DiscardedBytes > 0 {
		result += fmt.Sprintf("Discarded Bytes: %8d\n", s.DiscardedBytes)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

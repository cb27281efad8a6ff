// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuttleproto

// ScanStats counts what a Scanner has seen since it was created
type ScanStats struct {
	Frames         uint64
	CRCErrors      uint64
	DiscardedBytes uint64
}

// Scanner accumulates a byte stream and yields complete frames.
// It is not safe for concurrent use; each connection owns one.
type Scanner struct {
	buf   []byte
	stats ScanStats
}

// NewScanner creates an empty scanner
func NewScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, 1024)}
}

// Write appends received bytes. It never fails.
func (s *Scanner) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Frames returns every complete frame currently buffered and drops the bytes
// they (and any garbage before them) occupied.
func (s *Scanner) Frames() []Frame {
	frames, consumed, crcErrors := scan(s.buf)

	framed := 0
	for _, f := range frames {
		framed += HeaderSize + len(f.Payload) + CRCSize
	}
	s.stats.Frames += uint64(len(frames))
	s.stats.CRCErrors += uint64(crcErrors)
	s.stats.DiscardedBytes += uint64(consumed - framed)

	n := copy(s.buf, s.buf[consumed:])
	s.buf = s.buf[:n]
	return frames
}

// Buffered returns the number of bytes waiting for the rest of a frame
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Stats returns a copy of the scanner counters
func (s *Scanner) Stats() ScanStats {
	return s.stats
}

// Reset drops buffered bytes and clears the counters
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
	s.stats = ScanStats{}
}

// Sub returns the counters accumulated since prev
func (s ScanStats) Sub(prev ScanStats) ScanStats {
	return ScanStats{
		Frames:         s.Frames - prev.Frames,
		CRCErrors:      s.CRCErrors - prev.CRCErrors,
		DiscardedBytes: s.DiscardedBytes - prev.DiscardedBytes,
	}
}

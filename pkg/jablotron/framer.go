// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jablotron

// LineFramer splits the raw serial stream into telegrams.
//
// A separator run is any mix of CR, LF and non-ASCII bytes. The panel emits
// line noise above 0x7F when the bus is idle, so those bytes end a line the
// same way CR and LF do.
//
// A line longer than the limit is dropped as a whole: once the buffer
// overflows, every byte up to the next separator run is discarded.
type LineFramer struct {
	buffer     []byte
	inRun      bool
	discarding bool
	maxLen     int
	overflows  uint64
}

// NewLineFramer creates a framer that drops any line longer than maxLen
// bytes. maxLen <= 0 selects DefaultMaxLineLength.
func NewLineFramer(maxLen int) *LineFramer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	return &LineFramer{
		buffer: make([]byte, 0, 64),
		maxLen: maxLen,
	}
}

// Reset discards any buffered partial line
func (f *LineFramer) Reset() {
	f.buffer = f.buffer[:0]
	f.inRun = false
	f.discarding = false
}

// Pending returns the buffered, not yet terminated fragment.
func (f *LineFramer) Pending() string {
	return string(f.buffer)
}

// Overflows returns how many oversized lines were discarded.
func (f *LineFramer) Overflows() uint64 {
	return f.overflows
}

// Feed appends data and returns every line completed by it, in order.
// A separator run produces exactly one line boundary, so the returned slice
// may contain an empty string when the stream starts with a separator.
func (f *LineFramer) Feed(data []byte) []string {
	var lines []string
	for _, b := range data {
		if isSeparator(b) {
			if f.discarding {
				f.discarding = false
				f.inRun = true
				continue
			}
			if !f.inRun {
				lines = append(lines, string(f.buffer))
				f.buffer = f.buffer[:0]
				f.inRun = true
			}
			continue
		}
		f.inRun = false
		if f.discarding {
			continue
		}
		if len(f.buffer) >= f.maxLen {
			f.overflows++
			f.buffer = f.buffer[:0]
			f.discarding = true
			continue
		}
		f.buffer = append(f.buffer, b)
	}
	return lines
}

func isSeparator(b byte) bool {
	return b == '\r' || b == '\n' || b >= 0x80
}

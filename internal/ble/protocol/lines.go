package protocol

import "bytes"

// DefaultMaxLine bounds how much a LineSplitter buffers without seeing a
// newline before it discards the partial line.
const DefaultMaxLine = 512

// LineSplitter reassembles newline-terminated lines from notifications that
// may carry partial or multiple lines. Not safe for concurrent use.
type LineSplitter struct {
	buf     []byte
	maxLine int
}

// NewLineSplitter creates a splitter. maxLine <= 0 uses DefaultMaxLine.
func NewLineSplitter(maxLine int) *LineSplitter {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &LineSplitter{maxLine: maxLine}
}

// Feed appends p and returns every complete line, without its terminator.
// Lines are split on '\n'; a preceding '\r' is left for the decoder to trim.
// The returned slices do not alias p or the internal buffer.
func (s *LineSplitter) Feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, s.buf[:i])
		lines = append(lines, line)
		s.buf = s.buf[i+1:]
	}

	if len(s.buf) > s.maxLine {
		s.buf = s.buf[:0]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Pending returns the number of buffered bytes awaiting a newline.
func (s *LineSplitter) Pending() int { return len(s.buf) }

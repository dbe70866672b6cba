// Package framer recovers discrete newline-delimited messages from an
// unbounded byte stream, regardless of how the stream is chunked by the
// operating system pipe layer.
package framer

import (
	"bytes"
	"fmt"
)

const delimiter = '\n'

// Framer accumulates incoming chunks and yields complete lines. The bytes
// after the last delimiter are retained as a residual buffer until a later
// chunk completes them, so a message split across arbitrary chunk boundaries
// is reassembled intact.
type Framer struct {
	residual []byte
	maxLine  int
	dropping bool
}

// New creates a Framer. maxLine bounds the size of a single message; zero
// means unbounded. An oversized line is discarded in its entirety and
// reported through the error returned by Push.
func New(maxLine int) *Framer {
	return &Framer{maxLine: maxLine}
}

// Push appends chunk to the residual buffer and returns every complete line
// found, without the trailing delimiter. The trailing element after the last
// delimiter, possibly empty or partial, becomes the new residual buffer.
func (f *Framer) Push(chunk []byte) ([][]byte, error) {
	data := append(f.residual, chunk...)
	parts := bytes.Split(data, []byte{delimiter})

	// Split never returns an empty slice; the last element is the residual.
	last := len(parts) - 1
	f.residual = append([]byte(nil), parts[last]...)

	var err error
	var lines [][]byte
	for _, part := range parts[:last] {
		if f.dropping {
			// Tail of a line that already exceeded maxLine.
			f.dropping = false
			continue
		}
		if f.maxLine > 0 && len(part) > f.maxLine {
			err = fmt.Errorf("message exceeds %d bytes, discarded", f.maxLine)
			continue
		}
		if len(part) == 0 {
			continue
		}
		lines = append(lines, part)
	}

	if f.maxLine > 0 && len(f.residual) > f.maxLine {
		f.residual = nil
		f.dropping = true
		err = fmt.Errorf("message exceeds %d bytes, discarded", f.maxLine)
	}
	return lines, err
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (f *Framer) Pending() int {
	return len(f.residual)
}

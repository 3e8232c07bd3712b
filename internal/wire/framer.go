// Package wire implements the line-delimited framing and parsing shared by
// the ingress and control listeners.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// MaxLineSize is the maximum line length, including the terminating '\n',
// accepted from either listener.
const MaxLineSize = 64 << 10

// ErrProtocolViolation is returned when a line, counting its terminating
// '\n', is longer than MaxLineSize bytes.
var ErrProtocolViolation = errors.New("wire: line exceeds max size")

// Framer reads newline-delimited lines from a connection, stripping a
// trailing '\r'. It is the line-oriented counterpart of the teacher's
// length-prefixed frame reader: instead of a 4-byte size header, each frame
// is terminated by '\n', and the same "bound before you allocate" discipline
// applies via a running byte counter rather than a header field.
type Framer struct {
	r       *bufio.Reader
	scratch []byte
}

// NewFramer wraps r for line-oriented reads.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next line with its terminator stripped. It returns
// io.EOF when the underlying reader is exhausted with no partial line
// pending, ErrProtocolViolation if a line exceeds MaxLineSize, or any
// other read error from the underlying connection.
func (f *Framer) Next() (string, error) {
	f.scratch = f.scratch[:0]
	for {
		chunk, err := f.r.ReadSlice('\n')
		f.scratch = append(f.scratch, chunk...)
		if len(f.scratch) > MaxLineSize {
			return "", ErrProtocolViolation
		}
		if err == nil {
			return trimTerminators(f.scratch), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(f.scratch) == 0 {
				return "", io.EOF
			}
			return trimTerminators(f.scratch), nil
		}
		return "", fmt.Errorf("wire: read line: %w", err)
	}
}

func trimTerminators(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return string(b[:n])
}

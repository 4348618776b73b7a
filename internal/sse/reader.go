package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const doneSentinel = "[DONE]"

// ErrTruncated reports an event stream that ended without its terminator,
// which is how an upstream connection drop shows up to the consumer.
var ErrTruncated = errors.New("event stream ended without terminator")

// Reader extracts data frames from a server-sent event stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps a raw SSE byte stream. The buffer is enlarged because
// single events can carry multi-kilobyte deltas.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the payload of the next data frame. io.EOF signals a clean
// terminator; ErrTruncated signals a stream that stopped early; any other
// error comes from the underlying connection.
func (r *Reader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == doneSentinel {
			return nil, io.EOF
		}
		return []byte(data), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, ErrTruncated
}

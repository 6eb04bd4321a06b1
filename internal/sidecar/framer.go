package sidecar

import (
	"bytes"
	"log/slog"

	"lyra/internal/protocol"
)

const maxLoggedLine = 200

// Framer splits an accumulating byte stream into newline-delimited messages.
// It is not safe for concurrent use; the manager feeds it from one goroutine.
type Framer struct {
	buf    []byte
	logger *slog.Logger
}

func NewFramer(logger *slog.Logger) *Framer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Framer{logger: logger}
}

// Feed appends chunk and emits every complete line, in order. The trailing
// partial line stays buffered until a later chunk completes it.
func (f *Framer) Feed(chunk []byte, emit func(protocol.Message)) {
	f.buf = append(f.buf, chunk...)

	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(f.buf[:idx])
		f.buf = f.buf[idx+1:]
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			// Lines can carry conversation text; content stays out of warn logs.
			f.logger.Warn("dropping malformed sidecar line", "bytes", len(line), "error", err)
			f.logger.Debug("malformed sidecar line", "line", truncate(line))
			continue
		}
		emit(msg)
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
}

// Pending returns a copy of the buffered partial line.
func (f *Framer) Pending() []byte {
	return append([]byte(nil), f.buf...)
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedLine {
		return string(line)
	}
	return string(line[:maxLoggedLine]) + "..."
}

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// errorPrefixes mark server output lines reported as errors.
var errorPrefixes = []string{"[Error", "  Message: Request"}

// OutputWriter logs language server output line by line and reports error
// lines as telemetry. Safe for concurrent use.
type OutputWriter struct {
	telemetry Service
	logger    zerolog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewOutputWriter creates an OutputWriter logging to logger.
func NewOutputWriter(svc Service, logger zerolog.Logger) *OutputWriter {
	if svc == nil {
		svc = Nop{}
	}
	return &OutputWriter{telemetry: svc, logger: logger}
}

// Write implements io.Writer. Incomplete trailing lines are held until the
// next write or Flush.
func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Put the partial line back.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *OutputWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *OutputWriter) emit(line string) {
	if line == "" {
		return
	}
	w.logger.Info().Str("stream", "server").Msg(line)

	for _, prefix := range errorPrefixes {
		if strings.HasPrefix(line, prefix) {
			w.telemetry.Send(context.Background(), Event{
				Name:       EventServerError,
				Properties: map[string]string{"error": line},
			})
			return
		}
	}
}

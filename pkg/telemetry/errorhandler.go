package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrorAction tells the connection how to proceed after a transport error.
type ErrorAction int

const (
	// Continue keeps the connection running.
	Continue ErrorAction = iota
	// Shutdown stops the connection.
	Shutdown
)

// CloseAction tells the supervisor what to do after the server exits.
type CloseAction int

const (
	// Restart starts the server again.
	Restart CloseAction = iota
	// DoNotRestart leaves the server stopped.
	DoNotRestart
)

// restartWindow is the span in which too many crashes stop restarts.
const restartWindow = 3 * time.Minute

// ErrorHandler applies the restart policy for a language server.
// Safe for concurrent use.
type ErrorHandler struct {
	telemetry       Service
	name            string
	maxRestartCount int
	now             func() time.Time
	logger          zerolog.Logger

	mu       sync.Mutex
	restarts []time.Time
}

// NewErrorHandler creates an ErrorHandler for the server called name.
func NewErrorHandler(svc Service, name string, maxRestartCount int) *ErrorHandler {
	if svc == nil {
		svc = Nop{}
	}
	return &ErrorHandler{
		telemetry:       svc,
		name:            name,
		maxRestartCount: maxRestartCount,
		now:             time.Now,
		logger:          log.With().Str("component", "error-handler").Logger(),
	}
}

// Error records a transport error. count is the number of consecutive errors.
func (h *ErrorHandler) Error(ctx context.Context, err error, count int) ErrorAction {
	props := map[string]string{"jsonrpc": "2.0"}
	if err != nil {
		props["error"] = err.Error()
	}
	h.telemetry.Send(ctx, Event{Name: EventLSPError, Properties: props})

	if count >= 1 && count <= 3 {
		return Continue
	}
	return Shutdown
}

// Closed records a server exit and decides whether to restart.
// The server is given up on after maxRestartCount+1 exits within three minutes.
func (h *ErrorHandler) Closed() CloseAction {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.restarts = append(h.restarts, h.now())
	if len(h.restarts) <= h.maxRestartCount {
		serverRestarts.Inc()
		return Restart
	}

	diff := h.restarts[len(h.restarts)-1].Sub(h.restarts[0])
	if diff <= restartWindow {
		h.logger.Error().
			Str("server", h.name).
			Int("crashes", h.maxRestartCount+1).
			Msgf("The %s server crashed %d times in the last 3 minutes. The server will not be restarted.",
				h.name, h.maxRestartCount+1)
		return DoNotRestart
	}

	h.restarts = h.restarts[1:]
	serverRestarts.Inc()
	return Restart
}

// Package telemetry records client and language server events and decides
// how to react to language server failures.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event names.
const (
	EventStartup     = "startup"
	EventShutdown    = "shutdown"
	EventLSPError    = "yaml.lsp.error"
	EventServerError = "yaml.server.error"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yaml_telemetry_events_total",
		Help: "Telemetry events by name",
	}, []string{"event"})

	serverRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yaml_server_restarts_total",
		Help: "Language server restarts",
	})
)

// Event is a named telemetry record.
type Event struct {
	Name       string
	Properties map[string]string
}

// Service sends telemetry events.
type Service interface {
	Send(ctx context.Context, event Event)
	SendStartupEvent(ctx context.Context)
	SendShutdownEvent(ctx context.Context)
}

// LogService writes events to a zerolog logger and counts them.
type LogService struct {
	logger zerolog.Logger
}

// NewLogService creates a LogService using the "telemetry" component logger.
func NewLogService() *LogService {
	return &LogService{logger: log.With().Str("component", "telemetry").Logger()}
}

// Send implements Service.
func (s *LogService) Send(_ context.Context, event Event) {
	eventsTotal.WithLabelValues(event.Name).Inc()

	e := s.logger.Info().Str("event", event.Name)
	for k, v := range event.Properties {
		e = e.Str(k, v)
	}
	e.Msg("Telemetry event")
}

// SendStartupEvent implements Service.
func (s *LogService) SendStartupEvent(ctx context.Context) {
	s.Send(ctx, Event{Name: EventStartup})
}

// SendShutdownEvent implements Service.
func (s *LogService) SendShutdownEvent(ctx context.Context) {
	s.Send(ctx, Event{Name: EventShutdown})
}

// Nop discards all events.
type Nop struct{}

// Send implements Service.
func (Nop) Send(context.Context, Event) {}

// SendStartupEvent implements Service.
func (Nop) SendStartupEvent(context.Context) {}

// SendShutdownEvent implements Service.
func (Nop) SendShutdownEvent(context.Context) {}

package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is the subject prefix when none is configured.
const DefaultSubject = "agentflow.events"

// NATSSink publishes events as JSON to <subject>.<type>.
//
// Subjects published:
//   - agentflow.events.session_started
//   - agentflow.events.stage_completed
//   - ...one per event Type
type NATSSink struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink wraps an established connection.
func NewNATSSink(nc *nats.Conn, subject string, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{nc: nc, subject: subject, logger: logger.Named("events")}
}

// Connect dials url and returns a sink that owns the connection.
func Connect(url, subject string, logger *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("agentflow"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSSink(nc, subject, logger), nil
}

// Subject returns the subject an event of type t is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.subject + "." + string(t)
}

// Emit implements Sink. Publish failures are logged and dropped.
func (s *NATSSink) Emit(e Event) {
	if err := s.Publish(e); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", string(e.Type)),
			zap.String("stage_id", e.StageID),
			zap.Error(err))
	}
}

// Publish marshals and publishes e.
func (s *NATSSink) Publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil || s.nc.IsClosed() {
		return nil
	}
	err := s.nc.Flush()
	s.nc.Close()
	return err
}

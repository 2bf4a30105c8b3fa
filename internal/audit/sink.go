// Package audit implements the agent-facing side of the audit-log sink
// collaborator (spec.md §1, §6): the core only validates and forwards
// batches, it never reads them back on the hot path.
package audit

import (
	"context"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
)

// MaxBatchSize is the largest audit batch the core accepts in one
// request before rejecting with BATCH_TOO_LARGE (spec.md §7).
const MaxBatchSize = 100

// Event is one agent-submitted audit record, forwarded to Sink verbatim.
type Event struct {
	DeviceID  string
	Kind      string
	Payload   []byte // opaque JSON, spec.md §9 "dynamic payload blobs"
	Timestamp time.Time
}

// Sink is the external collaborator that actually persists audit events
// (spec.md §1 non-goal: "the audit-log sink" is out of core scope).
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// Service validates and forwards an audit batch for one device.
type Service struct {
	sink Sink
}

// New wires an audit service over sink.
func New(sink Sink) *Service {
	return &Service{sink: sink}
}

// Submit validates batch size and forwards events to the sink collaborator.
func (s *Service) Submit(ctx context.Context, deviceID string, events []Event) error {
	if len(events) > MaxBatchSize {
		return apierr.BatchTooLarge(MaxBatchSize, len(events))
	}
	if s.sink == nil {
		return nil
	}
	if err := s.sink.Write(ctx, events); err != nil {
		return apierr.Internal("audit sink write failed", err)
	}
	return nil
}

// NoopSink discards every event; the default when no sink is configured.
type NoopSink struct{}

func (NoopSink) Write(ctx context.Context, events []Event) error { return nil }

// Package event defines the progress event surface consumed by UIs.
// Producers publish through Sink; the websocket server is one
// implementation, NopSink serves tests and headless runs.
package event

import "time"

// Kind discriminates event payloads.
type Kind string

const (
	KindState Kind = "state"
	KindTask  Kind = "task"
	KindPhase Kind = "phase"
	KindGate  Kind = "gate"
)

// Event is one progress notification for an execution.
type Event struct {
	Kind        Kind              `json:"type"`
	ExecutionID string            `json:"execution_id"`
	Payload     map[string]string `json:"payload,omitempty"`
	At          time.Time         `json:"at"`
}

// New builds an event stamped with the current time.
func New(kind Kind, executionID string, payload map[string]string) Event {
	return Event{
		Kind:        kind,
		ExecutionID: executionID,
		Payload:     payload,
		At:          time.Now().UTC(),
	}
}

// Sink receives progress events. Publish must not block: slow consumers
// are the sink's problem, not the pipeline's.
type Sink interface {
	Publish(e Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

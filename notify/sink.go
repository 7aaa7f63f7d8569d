// Package notify carries HTLC lifecycle events to observers. Publishing is
// fire-and-forget from the state machine's point of view.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	TopicCreated   = "htlc.created"
	TopicWithdrawn = "htlc.withdrawn"
	TopicRefunded  = "htlc.refunded"
)

// Event is a lifecycle notification for one contract.
type Event struct {
	Topic      string
	ContractID string
	Payload    map[string]any
	OccurredAt time.Time
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// MemorySink records events in publish order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByTopic returns the recorded events with the given topic.
func (s *MemorySink) ByTopic(topic string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, ev Event) error {
	fields := logrus.Fields{
		"topic":       ev.Topic,
		"contract_id": ev.ContractID,
	}
	for k, v := range ev.Payload {
		if k == "secret" {
			continue
		}
		fields[k] = v
	}
	s.log.WithFields(fields).Info("htlc event")
	return nil
}

// Multi fans an event out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

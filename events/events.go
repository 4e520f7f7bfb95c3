// Package events carries the structured observations a controller emits:
// status reports, weight updates, adaptation and feedback. Formatting and
// storage are up to the Sink.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaonanln/stam/util/logger"
)

// Kind names an event type.
type Kind string

const (
	KindStatus        Kind = "status"
	KindWeights       Kind = "weights"
	KindAuth          Kind = "auth"
	KindAdaptation    Kind = "adaptation"
	KindDissemination Kind = "dissemination"
	KindFeedback      Kind = "feedback"
	KindHint          Kind = "hint"
	KindCycleError    Kind = "cycle_error"
)

// Event is one structured observation.
type Event struct {
	ID         string
	Controller string
	Kind       Kind
	Subject    string
	At         time.Time
	Fields     map[string]any
}

// New creates an event with a fresh id and the current time.
func New(controller string, kind Kind, subject string, fields map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Controller: controller,
		Kind:       kind,
		Subject:    subject,
		At:         time.Now(),
		Fields:     fields,
	}
}

// String renders the event as a single log line with fields in key order.
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Kind)
	if e.Subject != "" {
		fmt.Fprintf(&b, " %s", e.Subject)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}

// Sink receives events. Emit must not block the caller for long; sinks that talk
// to remote stores bound their own work with ctx.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// LogSink writes events to a logger.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a sink logging with the given prefix.
func NewLogSink(prefix string) *LogSink {
	return &LogSink{logger: logger.NewLogger(prefix)}
}

// Logger exposes the underlying logger.
func (s *LogSink) Logger() *logger.Logger {
	return s.logger
}

func (s *LogSink) Emit(_ context.Context, e Event) error {
	switch e.Kind {
	case KindCycleError:
		s.logger.Warnf("%s", e)
	case KindStatus:
		s.logger.Debugf("%s", e)
	default:
		s.logger.Infof("%s", e)
	}
	return nil
}

// MultiSink fans an event out to every sink. All sinks are tried; errors are joined.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByKind returns the recorded events of one kind, in emission order.
func (r *Recorder) ByKind(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

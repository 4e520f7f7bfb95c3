package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaonanln/stam/events"
	stamerrors "github.com/xiaonanln/stam/util/errors"
	"github.com/xiaonanln/stam/util/logger"
	"github.com/xiaonanln/stam/util/metrics"
	"github.com/xiaonanln/stam/util/workerpool"
)

// DefaultFanoutWorkers is the number of concurrent dissemination calls.
const DefaultFanoutWorkers = 4

// Options configures a Coordinator.
type Options struct {
	Self          string
	Controllers   []string
	Keys          KeyTable
	Source        MetricsSource
	Thresholds    *Thresholds // nil selects DefaultThresholds
	Transport     Disseminator
	Sink          events.Sink
	FanoutWorkers int
}

// Feedback compares a cycle's metrics with the ones that triggered the previous adaptation.
type Feedback struct {
	Before Metrics
	After  Metrics
	// Delta is the relative traffic reduction, (before - after) / before
	Delta float64
}

// StepResult describes one operational step.
type StepResult struct {
	Metrics    Metrics
	Overloaded bool
	Adapted    bool
	Events     []AdaptationEvent
	// Failures holds one DisseminationFailure per peer that was not reached
	Failures []error
	Feedback *Feedback
}

// Coordinator runs one controller's coordination session.
type Coordinator struct {
	opts       Options
	thresholds Thresholds
	lifecycle  Lifecycle
	logger     *logger.Logger

	peers    *PeerSet
	channels *Channels
	pool     *workerpool.WorkerPool

	// metrics of the last adaptation not yet measured by feedback
	pending *Metrics
}

// NewCoordinator creates a coordinator in the Init state.
func NewCoordinator(opts Options) *Coordinator {
	thresholds := DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.FanoutWorkers <= 0 {
		opts.FanoutWorkers = DefaultFanoutWorkers
	}
	return &Coordinator{
		opts:       opts,
		thresholds: thresholds,
		logger:     logger.NewLogger(fmt.Sprintf("Coordinator(%s)", opts.Self)),
	}
}

// State returns the session state.
func (c *Coordinator) State() State {
	return c.lifecycle.State()
}

// Peers returns the authenticated peer set, nil before Start.
func (c *Coordinator) Peers() *PeerSet {
	return c.peers
}

// Channels returns the established channels, nil before Start.
func (c *Coordinator) Channels() *Channels {
	return c.channels
}

// Start authenticates the configured controllers, establishes channels and moves the
// session to Operational. Rejected peers are reported and excluded; they do not fail
// Start. A controller without a shared key of its own cannot join and Start fails with
// UnauthenticatedPeer, leaving the session in Shutdown.
func (c *Coordinator) Start(ctx context.Context) ([]error, error) {
	if err := c.lifecycle.Transition(StateAuthenticating); err != nil {
		return nil, err
	}

	self := c.opts.Self
	peers, rejected := Authenticate(self, c.opts.Controllers, c.opts.Keys)
	for _, err := range rejected {
		c.logger.Warnf("Failed authentication: %v", err)
		var subject string
		if e, ok := err.(*stamerrors.Error); ok {
			subject = e.Subject
		}
		c.emit(ctx, events.KindAuth, subject, map[string]any{"error": err.Error()})
	}
	for _, id := range peers.IDs() {
		c.logger.Infof("Authenticated: %s", id)
	}
	if _, ok := c.opts.Keys.Lookup(self); !ok {
		err := stamerrors.New(stamerrors.UnauthenticatedPeer, "authenticate", self,
			fmt.Errorf("controller has no shared key of its own"))
		c.logger.Errorf("Cannot join the session: %v", err)
		c.emit(ctx, events.KindAuth, self, map[string]any{"error": err.Error()})
		_ = c.lifecycle.Transition(StateShutdown)
		return rejected, err
	}
	c.peers = peers
	metrics.SetAuthenticatedPeers(self, peers.Len())
	c.emit(ctx, events.KindAuth, self, map[string]any{
		"peers":    peers.IDs(),
		"rejected": len(rejected),
	})

	if err := c.lifecycle.Transition(StateChannelsEstablished); err != nil {
		return rejected, err
	}
	c.channels = EstablishChannels(self, peers)
	c.logger.Infof("Established %d channels among %d controllers", c.channels.Len(), peers.Len())

	c.pool = workerpool.New(ctx, c.opts.FanoutWorkers)
	c.pool.Start()

	if err := c.lifecycle.Transition(StateOperational); err != nil {
		return rejected, err
	}
	return rejected, nil
}

// Step runs one receive/assess/adapt/feedback round. Only a failure to obtain
// metrics fails the step; dissemination failures are reported in the result.
func (c *Coordinator) Step(ctx context.Context) (StepResult, error) {
	if s := c.lifecycle.State(); s != StateOperational {
		return StepResult{}, fmt.Errorf("coordinator is %s, not Operational", s)
	}

	m, err := c.opts.Source.Sample(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to receive metrics: %w", err)
	}
	c.logger.Debugf("Metrics: traffic=%.2f delay=%.2f congestion=%v", m.TrafficVolume, m.Delay, m.CongestionAlert)

	res := StepResult{Metrics: m, Overloaded: c.thresholds.Overloaded(m)}
	res.Feedback = c.feedback(ctx, m)

	if res.Overloaded || m.CongestionAlert {
		res.Adapted = true
		res.Events, res.Failures = c.adapt(ctx, m)
		trigger := m
		c.pending = &trigger
	}
	return res, nil
}

// adapt builds one event per peer other than self and disseminates them concurrently.
func (c *Coordinator) adapt(ctx context.Context, m Metrics) ([]AdaptationEvent, []error) {
	self := c.opts.Self
	c.logger.Infof("Adaptation triggered: traffic=%.2f delay=%.2f congestion=%v", m.TrafficVolume, m.Delay, m.CongestionAlert)

	now := time.Now()
	var evs []AdaptationEvent
	var failures []error
	for _, peer := range c.peers.Others(self) {
		ch, ok := c.channels.Lookup(self, peer)
		if !ok {
			err := stamerrors.New(stamerrors.DisseminationFailure, "disseminate", peer,
				fmt.Errorf("no channel from %s", self))
			failures = append(failures, err)
			metrics.RecordAdaptationEvent(self, peer, "failed")
			c.logger.Warnf("Skipping %s: %v", peer, err)
			c.emit(ctx, events.KindDissemination, peer, map[string]any{"error": err.Error()})
			continue
		}
		evs = append(evs, AdaptationEvent{
			ID:      uuid.NewString(),
			Source:  self,
			Peer:    peer,
			Channel: ch,
			Metrics: m,
			Hint:    AdaptationHint,
			At:      now,
		})
	}
	if len(evs) == 0 || c.opts.Transport == nil {
		for _, e := range evs {
			c.emit(ctx, events.KindAdaptation, e.Peer, e.fields())
		}
		return evs, failures
	}

	tasks := make([]workerpool.Task, len(evs))
	for i, e := range evs {
		tasks[i] = func(context.Context) error {
			return c.opts.Transport.Disseminate(ctx, e)
		}
	}
	results := c.pool.SubmitAll(ctx, tasks)

	for i, e := range evs {
		fields := e.fields()
		if err := results[i]; err != nil {
			if !stamerrors.Is(err, stamerrors.DisseminationFailure) {
				err = stamerrors.New(stamerrors.DisseminationFailure, "disseminate", e.Peer, err)
			}
			failures = append(failures, err)
			status := "failed"
			if stamerrors.IsTimeout(err) {
				status = "timeout"
			}
			metrics.RecordAdaptationEvent(self, e.Peer, status)
			c.logger.Warnf("Dissemination to %s via %s failed: %v", e.Peer, e.Channel, err)
			fields["error"] = err.Error()
			c.emit(ctx, events.KindDissemination, e.Peer, fields)
			continue
		}
		metrics.RecordAdaptationEvent(self, e.Peer, "sent")
		c.logger.Infof("Disseminated update to %s via %s: %s", e.Peer, e.Channel, e.Hint)
		c.emit(ctx, events.KindAdaptation, e.Peer, fields)
	}
	return evs, failures
}

// feedback measures the cycle after an adaptation against its trigger.
func (c *Coordinator) feedback(ctx context.Context, m Metrics) *Feedback {
	if c.pending == nil {
		return nil
	}
	before := *c.pending
	c.pending = nil

	fb := &Feedback{Before: before, After: m}
	if before.TrafficVolume > 0 {
		fb.Delta = (before.TrafficVolume - m.TrafficVolume) / before.TrafficVolume
	}
	metrics.SetFeedbackDelta(c.opts.Self, fb.Delta)
	c.logger.Infof("Feedback: traffic %.2f -> %.2f (%+.0f%%)", before.TrafficVolume, m.TrafficVolume, fb.Delta*100)
	c.emit(ctx, events.KindFeedback, c.opts.Self, map[string]any{
		"traffic_before": before.TrafficVolume,
		"traffic_after":  m.TrafficVolume,
		"delay_before":   before.Delay,
		"delay_after":    m.Delay,
		"delta":          fb.Delta,
	})
	return fb
}

// Exclude removes a controller from the session, for example after its key was revoked.
// The peer set never regrows within a session.
func (c *Coordinator) Exclude(id string) {
	if c.peers == nil {
		return
	}
	c.peers.Remove(id)
	c.channels.Drop(id)
	metrics.SetAuthenticatedPeers(c.opts.Self, c.peers.Len())
	c.logger.Warnf("Excluded %s from the peer set", id)
}

// Shutdown moves the session to Shutdown and stops the fan-out workers.
func (c *Coordinator) Shutdown() error {
	if c.lifecycle.State() == StateShutdown {
		return nil
	}
	if err := c.lifecycle.Transition(StateShutdown); err != nil {
		return err
	}
	if c.pool != nil {
		c.pool.Stop()
	}
	c.logger.Infof("Coordinator shut down")
	return nil
}

// emit sends an event to the sink. Sink failures are logged and never fail the caller.
func (c *Coordinator) emit(ctx context.Context, kind events.Kind, subject string, fields map[string]any) {
	if err := c.opts.Sink.Emit(ctx, events.New(c.opts.Self, kind, subject, fields)); err != nil {
		c.logger.Warnf("Failed to emit %s event: %v", kind, err)
	}
}

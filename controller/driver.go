// Package controller runs the periodic control loop of one controller: it reports
// device state, recomputes server weights and drives the coordination step.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaonanln/stam/coordination"
	"github.com/xiaonanln/stam/digest"
	"github.com/xiaonanln/stam/events"
	"github.com/xiaonanln/stam/register"
	"github.com/xiaonanln/stam/util/backoff"
	stamerrors "github.com/xiaonanln/stam/util/errors"
	"github.com/xiaonanln/stam/util/logger"
	"github.com/xiaonanln/stam/util/metrics"
	"github.com/xiaonanln/stam/weights"
)

// Device is a register gateway with a connection lifecycle.
type Device interface {
	register.Gateway
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a device connection.
type Dialer func(ctx context.Context) (Device, error)

// GRPCDialer dials the register service at addr.
func GRPCDialer(addr string, layout register.Layout, controllerID string) Dialer {
	return func(ctx context.Context) (Device, error) {
		return register.Dial(addr, layout, register.WithMetricsLabel(controllerID))
	}
}

// Options configures a Driver.
type Options struct {
	ControllerID string
	Interval     time.Duration
	Dial         Dialer
	Coordinator  *coordination.Coordinator
	// Digest is optional
	Digest *digest.Service
	Sink   events.Sink
	// OnLoad, if set, receives each cycle's load samples, e.g. to feed an AggregateSource
	OnLoad func([]weights.LoadSample)
	// ConnectBackoff paces device connection attempts
	ConnectBackoff *backoff.Backoff
}

// CycleReport summarizes one control cycle.
type CycleReport struct {
	Mappings []register.FlowMapping
	Weights  []int64
	Counters []register.FlowCounters
	Samples  []weights.LoadSample
	Applied  weights.ApplyResult
	Step     coordination.StepResult
	// DeviceErr is set when device work was abandoned
	DeviceErr error
	// StepErr is set when the coordination step failed
	StepErr error
}

// Driver runs the control loop.
type Driver struct {
	opts   Options
	logger *logger.Logger

	device Device
	engine *weights.Engine
	loads  *weights.RegisterLoadSource
}

// NewDriver creates a driver.
func NewDriver(opts Options) *Driver {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.ConnectBackoff == nil {
		opts.ConnectBackoff = backoff.New(100*time.Millisecond, 5*time.Second, 2)
	}
	return &Driver{
		opts:   opts,
		logger: logger.NewLogger(fmt.Sprintf("Driver(%s)", opts.ControllerID)),
	}
}

// Run connects to the device, starts the coordination session and the digest
// service, and then runs a cycle every Interval until ctx is cancelled. On the way
// out it shuts the session down, stops the digest service and releases the device.
// Run returns nil when stopped by ctx.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer d.shutdown()

	rejected, err := d.opts.Coordinator.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start coordination: %w", err)
	}
	if len(rejected) > 0 {
		d.logger.Warnf("%d configured controllers failed authentication", len(rejected))
	}

	if d.opts.Digest != nil {
		if err := d.opts.Digest.Start(ctx); err != nil {
			return err
		}
	}

	d.logger.Infof("Controller %s entering operational loop, interval %v", d.opts.ControllerID, d.opts.Interval)
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	for {
		d.Cycle(ctx)
		select {
		case <-ctx.Done():
			d.logger.Infof("Control loop stopping: %v", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Driver) connect(ctx context.Context) error {
	b := d.opts.ConnectBackoff
	b.Reset()
	err := b.Retry(ctx, func(ctx context.Context) error {
		dev, err := d.opts.Dial(ctx)
		if err != nil {
			return err
		}
		if err := dev.Ping(ctx); err != nil {
			_ = dev.Close()
			return err
		}
		d.device = dev
		return nil
	}, func(err error, next time.Duration) {
		d.logger.Warnf("Device not reachable, retrying in %v: %v", next, err)
	})
	if err != nil {
		return err
	}
	d.engine = weights.NewEngine(d.device, d.opts.ControllerID)
	d.loads = weights.NewRegisterLoadSource(d.device)
	d.logger.Infof("Connected to device after %d retries", b.Attempts())
	return nil
}

func (d *Driver) shutdown() {
	if err := d.opts.Coordinator.Shutdown(); err != nil {
		d.logger.Errorf("Failed to shut down coordination: %v", err)
	}
	if d.opts.Digest != nil {
		d.opts.Digest.Stop()
	}
	if d.device != nil {
		if err := d.device.Close(); err != nil {
			d.logger.Errorf("Failed to close device connection: %v", err)
		}
	}
	d.logger.Infof("Device connection released")
}

// Cycle runs one control cycle: status report, load sampling and weight update,
// then the coordination step. Errors are contained in the report.
func (d *Driver) Cycle(ctx context.Context) CycleReport {
	start := time.Now()
	var rep CycleReport

	rep.DeviceErr = d.deviceWork(ctx, &rep)
	if rep.DeviceErr != nil {
		d.logger.Warnf("Device work abandoned this cycle: %v", rep.DeviceErr)
		d.emit(ctx, events.KindCycleError, "device", map[string]any{"error": rep.DeviceErr.Error()})
	}

	if ctx.Err() == nil {
		rep.Step, rep.StepErr = d.opts.Coordinator.Step(ctx)
		if rep.StepErr != nil {
			d.logger.Warnf("Coordination step failed: %v", rep.StepErr)
			d.emit(ctx, events.KindCycleError, "coordination", map[string]any{"error": rep.StepErr.Error()})
		}
	}

	status := "ok"
	if rep.DeviceErr != nil || rep.StepErr != nil {
		status = "error"
	}
	metrics.RecordCycleDuration(d.opts.ControllerID, status, time.Since(start).Seconds())
	return rep
}

func (d *Driver) deviceWork(ctx context.Context, rep *CycleReport) error {
	if d.device == nil {
		return stamerrors.New(stamerrors.DeviceUnavailable, "cycle", "device", errors.New("not connected"))
	}

	var err error
	if rep.Mappings, err = register.FlowMappings(ctx, d.device); err != nil {
		return err
	}
	if rep.Weights, err = register.ServerWeightsSnapshot(ctx, d.device); err != nil {
		return err
	}
	if rep.Counters, err = register.FlowCounterReport(ctx, d.device); err != nil {
		return err
	}
	d.reportStatus(ctx, rep)

	if rep.Samples, err = d.loads.Sample(ctx); err != nil {
		return err
	}
	if d.opts.OnLoad != nil {
		d.opts.OnLoad(rep.Samples)
	}

	rep.Applied = d.engine.Apply(ctx, rep.Samples)
	d.emit(ctx, events.KindWeights, "", map[string]any{
		"weights":  weightList(rep.Applied.Written()),
		"failures": len(rep.Applied.Failures),
	})
	for _, f := range rep.Applied.Failures {
		if stamerrors.Is(f, stamerrors.DeviceUnavailable) {
			return f
		}
	}
	return nil
}

func (d *Driver) reportStatus(ctx context.Context, rep *CycleReport) {
	mappings := make(map[string]int, len(rep.Mappings))
	for _, m := range rep.Mappings {
		mappings[fmt.Sprint(m.Flow)] = m.Server
	}
	counters := make(map[string][2]int64, len(rep.Counters))
	for _, c := range rep.Counters {
		counters[fmt.Sprint(c.Flow)] = [2]int64{c.Packets, c.Bytes}
	}
	d.logger.Debugf("Flow mappings: %d assigned, weights %v", len(rep.Mappings), rep.Weights)
	d.emit(ctx, events.KindStatus, "", map[string]any{
		"flow_to_server": mappings,
		"server_weights": rep.Weights,
		"flow_counters":  counters,
	})
}

func weightList(ws []weights.ServerWeight) map[string]int64 {
	out := make(map[string]int64, len(ws))
	for _, w := range ws {
		out[fmt.Sprint(w.ServerID)] = w.Weight
	}
	return out
}

func (d *Driver) emit(ctx context.Context, kind events.Kind, subject string, fields map[string]any) {
	if err := d.opts.Sink.Emit(ctx, events.New(d.opts.ControllerID, kind, subject, fields)); err != nil {
		d.logger.Warnf("Failed to emit %s event: %v", kind, err)
	}
}

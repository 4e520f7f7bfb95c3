package weights

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaonanln/stam/register"
	"github.com/xiaonanln/stam/util/logger"
	"github.com/xiaonanln/stam/util/metrics"
)

// WriteError reports a failed weight write for one server.
type WriteError struct {
	ServerID int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write weight for server %d: %v", e.ServerID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ApplyResult is the outcome of one Apply call.
type ApplyResult struct {
	// Weights holds every computed weight, written or not
	Weights []ServerWeight
	// Failures holds one entry per server whose write failed
	Failures []*WriteError
}

// Written returns the weights that reached the device.
func (r ApplyResult) Written() []ServerWeight {
	failed := make(map[int]bool, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.ServerID] = true
	}
	out := make([]ServerWeight, 0, len(r.Weights))
	for _, w := range r.Weights {
		if !failed[w.ServerID] {
			out = append(out, w)
		}
	}
	return out
}

// Err joins all write failures, nil when every write succeeded.
func (r ApplyResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Engine computes weights and writes them through a register gateway.
type Engine struct {
	gw         register.Gateway
	controller string
	logger     *logger.Logger
}

// NewEngine creates an engine writing to gw. controller labels logs and metrics.
func NewEngine(gw register.Gateway, controller string) *Engine {
	return &Engine{
		gw:         gw,
		controller: controller,
		logger:     logger.NewLogger(fmt.Sprintf("Weights(%s)", controller)),
	}
}

// Apply computes weights for samples and writes each one to server_weights[ServerID].
// Every server is attempted; a failed write is recorded and the rest still run.
func (e *Engine) Apply(ctx context.Context, samples []LoadSample) ApplyResult {
	result := ApplyResult{Weights: ComputeWeights(samples)}
	for _, w := range result.Weights {
		if w.ServerID < 0 {
			result.Failures = append(result.Failures, &WriteError{
				ServerID: w.ServerID,
				Err:      fmt.Errorf("negative server id"),
			})
			continue
		}
		if err := e.gw.Write(ctx, register.ServerWeights, uint32(w.ServerID), w.Weight); err != nil {
			e.logger.Warnf("Failed to write weight %d for server %d: %v", w.Weight, w.ServerID, err)
			metrics.RecordWeightWriteFailure(e.controller, w.ServerID)
			result.Failures = append(result.Failures, &WriteError{ServerID: w.ServerID, Err: err})
			continue
		}
		metrics.SetServerWeight(e.controller, w.ServerID, w.Weight)
	}
	e.logger.Debugf("Applied %d weights, %d failures", len(result.Weights), len(result.Failures))
	return result
}

package coordination

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/xiaonanln/stam/digest"
	"github.com/xiaonanln/stam/weights"
)

// Metrics is the controller's view of network conditions for one cycle.
type Metrics struct {
	TrafficVolume   float64
	Delay           float64
	CongestionAlert bool
}

// Thresholds decide when a controller counts as overloaded.
type Thresholds struct {
	TrafficVolume float64
	Delay         float64
}

// DefaultThresholds returns traffic 1.0 and delay 0.3.
func DefaultThresholds() Thresholds {
	return Thresholds{TrafficVolume: 1.0, Delay: 0.3}
}

// Overloaded reports whether m exceeds either threshold.
func (t Thresholds) Overloaded(m Metrics) bool {
	return m.TrafficVolume > t.TrafficVolume || m.Delay > t.Delay
}

// MetricsSource produces one Metrics sample per cycle.
type MetricsSource interface {
	Sample(ctx context.Context) (Metrics, error)
}

// FuncSource adapts a function to MetricsSource.
type FuncSource func(ctx context.Context) (Metrics, error)

func (f FuncSource) Sample(ctx context.Context) (Metrics, error) {
	return f(ctx)
}

// SyntheticSource generates metrics in the ranges a lightly to moderately
// overloaded deployment reports: traffic in [0.4, 1.2], delay in [0.1, 0.35],
// and a congestion alert one time in four.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource creates a source with a fixed seed, so runs are reproducible.
func NewSyntheticSource(seed int64) *SyntheticSource {
	return &SyntheticSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *SyntheticSource) Sample(context.Context) (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		TrafficVolume:   round2(0.4 + s.rng.Float64()*0.8),
		Delay:           round2(0.1 + s.rng.Float64()*0.25),
		CongestionAlert: s.rng.Float64() > 0.75,
	}, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// AggregateSource derives metrics from what the controller itself observes:
// traffic is the last observed total server load over Capacity, delay is the mean
// age in seconds of the digests in Cache, and an alert is raised when the cache
// tracks at least AlertFlows flows.
type AggregateSource struct {
	Capacity   float64
	Cache      *digest.FlowCache
	AlertFlows int
	Now        func() time.Time

	mu    sync.Mutex
	total float64
}

// NewAggregateSource creates an AggregateSource.
func NewAggregateSource(capacity float64, cache *digest.FlowCache, alertFlows int) *AggregateSource {
	return &AggregateSource{
		Capacity:   capacity,
		Cache:      cache,
		AlertFlows: alertFlows,
		Now:        time.Now,
	}
}

// Observe records the load samples of the current cycle.
func (s *AggregateSource) Observe(samples []weights.LoadSample) {
	var total float64
	for _, smp := range samples {
		if smp.Load > 0 {
			total += smp.Load
		}
	}
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
}

func (s *AggregateSource) Sample(context.Context) (Metrics, error) {
	s.mu.Lock()
	total := s.total
	s.mu.Unlock()

	var m Metrics
	if s.Capacity > 0 {
		m.TrafficVolume = total / s.Capacity
	}
	if s.Cache == nil {
		return m, nil
	}

	snap := s.Cache.Snapshot()
	if len(snap) > 0 {
		now := float64(s.Now().UnixNano()) / float64(time.Second)
		var sum float64
		for _, ts := range snap {
			if age := now - ts; age > 0 {
				sum += age
			}
		}
		m.Delay = sum / float64(len(snap))
	}
	m.CongestionAlert = s.AlertFlows > 0 && len(snap) >= s.AlertFlows
	return m, nil
}

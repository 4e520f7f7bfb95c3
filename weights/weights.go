// Package weights turns per-server load samples into integer forwarding weights
// and persists them to the device's server_weights bank.
package weights

import "math"

const (
	// MinWeight is assigned to the most loaded server
	MinWeight = 1
	// MaxWeight is assigned to the least loaded server, and to every server when there is no load signal
	MaxWeight = 10
)

// LoadSample is one observation of a server's load. Load is never negative.
type LoadSample struct {
	ServerID int
	Load     float64
}

// ServerWeight is the weight computed for one server, in [MinWeight, MaxWeight].
type ServerWeight struct {
	ServerID int
	Weight   int64
}

// ComputeWeights maps samples to weights, preserving order.
//
// Loads are normalized against the observed range: the least loaded server gets
// MaxWeight, the most loaded gets MinWeight, and the rest are spread linearly in
// between. When all loads are equal (including all zero) every server gets MaxWeight.
// Negative and NaN loads count as zero.
func ComputeWeights(samples []LoadSample) []ServerWeight {
	out := make([]ServerWeight, len(samples))
	if len(samples) == 0 {
		return out
	}

	minLoad, maxLoad := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		l := sanitize(s.Load)
		minLoad = math.Min(minLoad, l)
		maxLoad = math.Max(maxLoad, l)
	}

	span := maxLoad - minLoad
	for i, s := range samples {
		w := int64(MaxWeight)
		if span > 0 {
			rel := (sanitize(s.Load) - minLoad) / span
			w = int64(math.Round(MaxWeight * (1 - rel)))
		}
		out[i] = ServerWeight{ServerID: s.ServerID, Weight: clamp(w)}
	}
	return out
}

func sanitize(load float64) float64 {
	if math.IsNaN(load) || load < 0 {
		return 0
	}
	return load
}

func clamp(w int64) int64 {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}

package weights

import (
	"context"

	"github.com/xiaonanln/stam/register"
)

// RegisterLoadSource derives per-server load from the device's counters: the bytes
// forwarded since the previous poll by the flows currently assigned to each server.
// It is not safe for concurrent use; the control loop polls it once per cycle.
type RegisterLoadSource struct {
	gw   register.Gateway
	prev map[uint32]int64
}

// NewRegisterLoadSource creates a load source reading from gw.
func NewRegisterLoadSource(gw register.Gateway) *RegisterLoadSource {
	return &RegisterLoadSource{gw: gw, prev: make(map[uint32]int64)}
}

// Sample returns one LoadSample per server slot of the device, in server order.
// Servers with no assigned flows report zero. The first poll counts every byte seen so far.
// On error the previous counters are kept, so the next poll covers the lost interval.
func (s *RegisterLoadSource) Sample(ctx context.Context) ([]LoadSample, error) {
	numServers := int(s.gw.Layout().Capacity(register.ServerWeights))
	loads := make([]float64, numServers)
	seen := make(map[uint32]int64)

	scan := register.ScanNonZero(ctx, s.gw, register.FlowToServer)
	for flow, v := range scan.All() {
		server, ok := register.ServerOf(v)
		if !ok || server >= numServers {
			continue
		}
		bytes, err := s.gw.Read(ctx, register.ByteCount, flow)
		if err != nil {
			return nil, err
		}
		seen[flow] = bytes
		delta := bytes - s.prev[flow]
		if delta < 0 {
			// counter was reset
			delta = bytes
		}
		loads[server] += float64(delta)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	s.prev = seen

	samples := make([]LoadSample, numServers)
	for i, l := range loads {
		samples[i] = LoadSample{ServerID: i, Load: l}
	}
	return samples, nil
}

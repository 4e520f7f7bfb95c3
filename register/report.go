package register

import "context"

// FlowMapping is one assigned flow as stored in flow_to_server.
type FlowMapping struct {
	Flow   uint32
	Server int
}

// FlowCounters is the packet and byte count of one flow.
type FlowCounters struct {
	Flow    uint32
	Packets int64
	Bytes   int64
}

// ServerOf decodes a flow_to_server value. The bank stores server id + 1 so that
// zero means unassigned.
func ServerOf(value int64) (int, bool) {
	if value <= 0 {
		return 0, false
	}
	return int(value - 1), true
}

// EncodeServer is the inverse of ServerOf.
func EncodeServer(server int) int64 {
	return int64(server) + 1
}

// FlowMappings returns every assigned flow, in flow order.
func FlowMappings(ctx context.Context, gw Gateway) ([]FlowMapping, error) {
	var out []FlowMapping
	scan := ScanNonZero(ctx, gw, FlowToServer)
	for flow, v := range scan.All() {
		if server, ok := ServerOf(v); ok {
			out = append(out, FlowMapping{Flow: flow, Server: server})
		}
	}
	return out, scan.Err()
}

// ServerWeightsSnapshot reads the whole server_weights bank.
func ServerWeightsSnapshot(ctx context.Context, gw Gateway) ([]int64, error) {
	n := gw.Layout().Capacity(ServerWeights)
	out := make([]int64, n)
	for i := uint32(0); i < n; i++ {
		v, err := gw.Read(ctx, ServerWeights, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FlowCounterReport returns packet and byte counters of every flow that has seen packets.
func FlowCounterReport(ctx context.Context, gw Gateway) ([]FlowCounters, error) {
	var out []FlowCounters
	scan := ScanNonZero(ctx, gw, PktCount)
	for flow, pkts := range scan.All() {
		bytes, err := gw.Read(ctx, ByteCount, flow)
		if err != nil {
			return nil, err
		}
		out = append(out, FlowCounters{Flow: flow, Packets: pkts, Bytes: bytes})
	}
	return out, scan.Err()
}

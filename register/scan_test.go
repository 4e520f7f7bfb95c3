package register

import (
	"context"
	"testing"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

// countingGateway counts reads so tests can observe laziness.
type countingGateway struct {
	Gateway
	reads int
}

func (g *countingGateway) Read(ctx context.Context, bank string, index uint32) (int64, error) {
	g.reads++
	return g.Gateway.Read(ctx, bank, index)
}

func TestScanNonZero_SkipsZeros(t *testing.T) {
	dev := NewMemoryDevice("sw1", DefaultLayout())
	_ = dev.Set(FlowToServer, 3, EncodeServer(0))
	_ = dev.Set(FlowToServer, 700, EncodeServer(2))
	_ = dev.Set(FlowToServer, 1023, EncodeServer(7))

	scan := ScanNonZero(context.Background(), dev, FlowToServer)
	var got []uint32
	for idx, v := range scan.All() {
		if v == 0 {
			t.Fatalf("scan yielded zero value at %d", idx)
		}
		got = append(got, idx)
	}
	if err := scan.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	want := []uint32{3, 700, 1023}
	if len(got) != len(want) {
		t.Fatalf("scan yielded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scan yielded %v, want %v", got, want)
		}
	}
}

func TestScanNonZero_Lazy(t *testing.T) {
	dev := NewMemoryDevice("sw1", DefaultLayout())
	_ = dev.Set(FlowToServer, 4, 1)
	_ = dev.Set(FlowToServer, 900, 1)
	gw := &countingGateway{Gateway: dev}

	scan := ScanNonZero(context.Background(), gw, FlowToServer)
	for idx := range scan.All() {
		if idx != 4 {
			t.Fatalf("first yielded index = %d, want 4", idx)
		}
		break
	}
	if gw.reads != 5 {
		t.Fatalf("reads = %d, want 5 (iteration must stop at the first hit)", gw.reads)
	}
}

func TestScanNonZero_DeviceDown(t *testing.T) {
	dev := NewMemoryDevice("sw1", DefaultLayout())
	dev.SetAvailable(false)

	scan := ScanNonZero(context.Background(), dev, ByteCount)
	for range scan.All() {
		t.Fatal("down device yielded a value")
	}
	if !stamerrors.Is(scan.Err(), stamerrors.DeviceUnavailable) {
		t.Fatalf("scan.Err() = %v, want DeviceUnavailable", scan.Err())
	}
}

func TestScanNonZero_UnknownBank(t *testing.T) {
	dev := NewMemoryDevice("sw1", DefaultLayout())
	scan := ScanNonZero(context.Background(), dev, "missing")
	for range scan.All() {
		t.Fatal("unknown bank yielded a value")
	}
	if !stamerrors.Is(scan.Err(), stamerrors.OutOfRange) {
		t.Fatalf("scan.Err() = %v, want OutOfRange", scan.Err())
	}
}

func TestScanNonZero_Cancelled(t *testing.T) {
	dev := NewMemoryDevice("sw1", DefaultLayout())
	_ = dev.Set(PktCount, 10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scan := ScanNonZero(ctx, dev, PktCount)
	for range scan.All() {
		t.Fatal("cancelled scan yielded a value")
	}
	if scan.Err() != context.Canceled {
		t.Fatalf("scan.Err() = %v, want context.Canceled", scan.Err())
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice("sw1", DefaultLayout())
	_ = dev.Set(FlowToServer, 1, EncodeServer(0))
	_ = dev.Set(FlowToServer, 2, EncodeServer(3))
	_ = dev.Write(ctx, ServerWeights, 0, 10)
	_ = dev.Write(ctx, ServerWeights, 3, 4)
	_ = dev.Add(PktCount, 2, 5)
	_ = dev.Add(ByteCount, 2, 1500)

	mappings, err := FlowMappings(ctx, dev)
	if err != nil {
		t.Fatalf("FlowMappings failed: %v", err)
	}
	if len(mappings) != 2 || mappings[1] != (FlowMapping{Flow: 2, Server: 3}) {
		t.Fatalf("FlowMappings = %+v", mappings)
	}

	w, err := ServerWeightsSnapshot(ctx, dev)
	if err != nil {
		t.Fatalf("ServerWeightsSnapshot failed: %v", err)
	}
	if len(w) != MaxServers || w[0] != 10 || w[3] != 4 {
		t.Fatalf("ServerWeightsSnapshot = %v", w)
	}

	counters, err := FlowCounterReport(ctx, dev)
	if err != nil {
		t.Fatalf("FlowCounterReport failed: %v", err)
	}
	if len(counters) != 1 || counters[0] != (FlowCounters{Flow: 2, Packets: 5, Bytes: 1500}) {
		t.Fatalf("FlowCounterReport = %+v", counters)
	}
}

func TestServerOf(t *testing.T) {
	if _, ok := ServerOf(0); ok {
		t.Fatal("0 must decode as unassigned")
	}
	if s, ok := ServerOf(EncodeServer(5)); !ok || s != 5 {
		t.Fatalf("ServerOf(EncodeServer(5)) = %d, %v", s, ok)
	}
}

func TestServerOf_OneBasedDataPlane(t *testing.T) {
	// a device numbering servers from 1 maps onto server_weights slots from 0
	for raw := int64(1); raw <= MaxServers; raw++ {
		s, ok := ServerOf(raw)
		if !ok || s != int(raw-1) {
			t.Fatalf("ServerOf(%d) = %d, %v; want %d", raw, s, ok, raw-1)
		}
		if s >= MaxServers {
			t.Fatalf("raw value %d decodes outside server_weights", raw)
		}
	}
}

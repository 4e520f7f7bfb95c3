package register

import (
	"context"
	"errors"
	"testing"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout()
	want := map[string]uint32{
		FlowToServer:  MaxFlows,
		ServerWeights: MaxServers,
		PktCount:      MaxFlows,
		ByteCount:     MaxFlows,
	}
	for name, capacity := range want {
		if got := l.Capacity(name); got != capacity {
			t.Errorf("Capacity(%s) = %d, want %d", name, got, capacity)
		}
	}
	names := l.Names()
	if len(names) != 4 || names[0] != ByteCount || names[3] != ServerWeights {
		t.Fatalf("Names() = %v", names)
	}
}

func TestCheck_OutOfRangeEveryBank(t *testing.T) {
	ctx := context.Background()
	dev := NewMemoryDevice("sw1", DefaultLayout())

	for _, name := range dev.Layout().Names() {
		capacity := dev.Layout().Capacity(name)
		if _, err := dev.Read(ctx, name, capacity); !errors.Is(err, stamerrors.ErrOutOfRange) {
			t.Errorf("Read(%s, %d) error = %v, want OutOfRange", name, capacity, err)
		}
		if _, err := dev.Read(ctx, name, capacity-1); err != nil {
			t.Errorf("Read(%s, %d) unexpected error: %v", name, capacity-1, err)
		}
	}

	if err := dev.Write(ctx, ServerWeights, MaxServers, 5); !errors.Is(err, stamerrors.ErrOutOfRange) {
		t.Fatalf("Write(server_weights, 8) error = %v, want OutOfRange", err)
	}
	if err := dev.Write(ctx, FlowToServer, MaxFlows, 1); !errors.Is(err, stamerrors.ErrOutOfRange) {
		t.Fatalf("Write(flow_to_server, 1024) error = %v, want OutOfRange", err)
	}
}

func TestCheck_UnknownBank(t *testing.T) {
	err := DefaultLayout().Check("read", "nope", 0)
	if !stamerrors.Is(err, stamerrors.OutOfRange) {
		t.Fatalf("Check on unknown bank = %v, want OutOfRange", err)
	}
}

func TestWrite_ReadOnlyBank(t *testing.T) {
	dev := NewMemoryDevice("sw1", DefaultLayout())
	err := dev.Write(context.Background(), PktCount, 0, 1)
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Write(pkt_count) error = %v, want ErrReadOnly", err)
	}
	// The data plane still owns the counters.
	if err := dev.Add(PktCount, 0, 3); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got := dev.Snapshot(PktCount)[0]; got != 3 {
		t.Fatalf("pkt_count[0] = %d, want 3", got)
	}
}

func TestSlot(t *testing.T) {
	if got := Slot(ServerWeights, 3); got != "server_weights[3]" {
		t.Fatalf("Slot() = %q", got)
	}
}

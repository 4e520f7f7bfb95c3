// Package register provides typed access to the register banks of a programmable
// forwarding device: flow to server assignment, server weights and per-flow counters.
package register

import (
	"context"
	"errors"
	"fmt"
	"sort"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

const (
	// MaxFlows is the default capacity of the per-flow banks
	MaxFlows = 1024
	// MaxServers is the default capacity of the server_weights bank
	MaxServers = 8
)

// Bank names used by the load-balancing data plane.
//
// FlowToServer holds server id + 1 per flow, with 0 meaning unassigned (see ServerOf).
// A data plane that writes raw 1-based server numbers is therefore reported one lower:
// its server 1 shows up as server 0, the first server_weights slot.
const (
	FlowToServer  = "flow_to_server"
	ServerWeights = "server_weights"
	PktCount      = "pkt_count"
	ByteCount     = "byte_count"
)

// ErrReadOnly is returned when writing to a bank owned by the data plane.
var ErrReadOnly = errors.New("register bank is read-only")

// Bank describes one named, fixed-capacity register array.
type Bank struct {
	Name     string
	Capacity uint32
	ReadOnly bool
}

// Layout maps bank names to their descriptions.
type Layout map[string]Bank

// NewLayout returns the four banks of the load balancer with the given capacities.
func NewLayout(maxFlows, maxServers uint32) Layout {
	return Layout{
		FlowToServer:  {Name: FlowToServer, Capacity: maxFlows},
		ServerWeights: {Name: ServerWeights, Capacity: maxServers},
		PktCount:      {Name: PktCount, Capacity: maxFlows, ReadOnly: true},
		ByteCount:     {Name: ByteCount, Capacity: maxFlows, ReadOnly: true},
	}
}

// DefaultLayout returns NewLayout(MaxFlows, MaxServers).
func DefaultLayout() Layout {
	return NewLayout(MaxFlows, MaxServers)
}

// Names returns the bank names in sorted order.
func (l Layout) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capacity returns the capacity of the named bank, 0 if unknown.
func (l Layout) Capacity(bank string) uint32 {
	return l[bank].Capacity
}

// Check validates an access to bank[index]. An unknown bank has capacity 0,
// so every index is out of range.
func (l Layout) Check(op, bank string, index uint32) error {
	b, ok := l[bank]
	if !ok || index >= b.Capacity {
		return stamerrors.New(stamerrors.OutOfRange, op, Slot(bank, index),
			fmt.Errorf("index %d exceeds capacity %d", index, b.Capacity))
	}
	if op == "write" && b.ReadOnly {
		return fmt.Errorf("write %s: %w", Slot(bank, index), ErrReadOnly)
	}
	return nil
}

// Slot formats bank[index] for logs and errors.
func Slot(bank string, index uint32) string {
	return fmt.Sprintf("%s[%d]", bank, index)
}

// Gateway is typed read/write access to a device's register banks.
//
// Read and Write fail with an OutOfRange error when index is not below the bank
// capacity, and with DeviceUnavailable when the underlying connection is down.
// Implementations never retry.
type Gateway interface {
	Read(ctx context.Context, bank string, index uint32) (int64, error)
	Write(ctx context.Context, bank string, index uint32, value int64) error
	Layout() Layout
}

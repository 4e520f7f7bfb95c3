package register

import (
	"context"
	"sync"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

// MemoryDevice is an in-memory register file. It stands in for the forwarding
// device in tests and in cmd/devicesim, and backs the gRPC DeviceService.
// Every access is atomic per index.
type MemoryDevice struct {
	mu          sync.RWMutex
	name        string
	layout      Layout
	banks       map[string][]int64
	unavailable bool
}

var _ Gateway = (*MemoryDevice)(nil)

// NewMemoryDevice creates a zeroed device with the given layout.
func NewMemoryDevice(name string, layout Layout) *MemoryDevice {
	banks := make(map[string][]int64, len(layout))
	for n, b := range layout {
		banks[n] = make([]int64, b.Capacity)
	}
	return &MemoryDevice{
		name:   name,
		layout: layout,
		banks:  banks,
	}
}

// Layout returns the device's bank layout.
func (d *MemoryDevice) Layout() Layout {
	return d.layout
}

// SetAvailable marks the device up or down. A down device fails every access
// with DeviceUnavailable.
func (d *MemoryDevice) SetAvailable(available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable = !available
}

func (d *MemoryDevice) unavailableErr(op, bank string, index uint32) error {
	return stamerrors.New(stamerrors.DeviceUnavailable, op, Slot(bank, index), errDeviceDown(d.name))
}

// Read returns bank[index].
func (d *MemoryDevice) Read(ctx context.Context, bank string, index uint32) (int64, error) {
	if err := d.layout.Check("read", bank, index); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.unavailable {
		return 0, d.unavailableErr("read", bank, index)
	}
	return d.banks[bank][index], nil
}

// Write sets bank[index]. Read-only banks are rejected.
func (d *MemoryDevice) Write(ctx context.Context, bank string, index uint32, value int64) error {
	if err := d.layout.Check("write", bank, index); err != nil {
		return err
	}
	return d.set(bank, index, value)
}

// Set writes any bank, including the counters the data plane owns.
func (d *MemoryDevice) Set(bank string, index uint32, value int64) error {
	if err := d.layout.Check("set", bank, index); err != nil {
		return err
	}
	return d.set(bank, index, value)
}

// Add increments bank[index] by delta, the way the data plane bumps counters.
func (d *MemoryDevice) Add(bank string, index uint32, delta int64) error {
	if err := d.layout.Check("add", bank, index); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable {
		return d.unavailableErr("add", bank, index)
	}
	d.banks[bank][index] += delta
	return nil
}

func (d *MemoryDevice) set(bank string, index uint32, value int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable {
		return d.unavailableErr("write", bank, index)
	}
	d.banks[bank][index] = value
	return nil
}

// Snapshot returns a copy of one bank.
func (d *MemoryDevice) Snapshot(bank string) []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int64, len(d.banks[bank]))
	copy(out, d.banks[bank])
	return out
}

package weights

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaonanln/stam/register"
	stamerrors "github.com/xiaonanln/stam/util/errors"
)

// failingGateway fails writes for selected servers.
type failingGateway struct {
	register.Gateway
	fail map[uint32]bool
}

func (g *failingGateway) Write(ctx context.Context, bank string, index uint32, value int64) error {
	if g.fail[index] {
		return stamerrors.New(stamerrors.DeviceUnavailable, "write", register.Slot(bank, index), nil)
	}
	return g.Gateway.Write(ctx, bank, index, value)
}

func TestEngineApply(t *testing.T) {
	dev := register.NewMemoryDevice("sw1", register.DefaultLayout())
	e := NewEngine(dev, "test")

	res := e.Apply(context.Background(), []LoadSample{{0, 10}, {1, 100}})
	require.NoError(t, res.Err())
	assert.Equal(t, []ServerWeight{{0, 10}, {1, 1}}, res.Weights)

	w := dev.Snapshot(register.ServerWeights)
	assert.Equal(t, int64(10), w[0])
	assert.Equal(t, int64(1), w[1])
}

func TestEngineApply_PartialFailure(t *testing.T) {
	dev := register.NewMemoryDevice("sw1", register.DefaultLayout())
	gw := &failingGateway{Gateway: dev, fail: map[uint32]bool{1: true}}
	e := NewEngine(gw, "test")

	res := e.Apply(context.Background(), []LoadSample{{0, 0}, {1, 50}, {2, 100}})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].ServerID)
	assert.True(t, stamerrors.Is(res.Failures[0], stamerrors.DeviceUnavailable))
	assert.Error(t, res.Err())

	// The servers after the failed one were still written.
	w := dev.Snapshot(register.ServerWeights)
	assert.Equal(t, int64(10), w[0])
	assert.Equal(t, int64(0), w[1])
	assert.Equal(t, int64(1), w[2])
	assert.Equal(t, []ServerWeight{{0, 10}, {2, 1}}, res.Written())
}

func TestEngineApply_OutOfRangeServer(t *testing.T) {
	dev := register.NewMemoryDevice("sw1", register.DefaultLayout())
	e := NewEngine(dev, "test")

	res := e.Apply(context.Background(), []LoadSample{{0, 1}, {register.MaxServers, 2}})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, register.MaxServers, res.Failures[0].ServerID)
	assert.True(t, stamerrors.Is(res.Failures[0], stamerrors.OutOfRange))
	assert.Equal(t, int64(10), dev.Snapshot(register.ServerWeights)[0])
}

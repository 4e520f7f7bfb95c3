package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaonanln/stam/digest"
	"github.com/xiaonanln/stam/weights"
)

func TestThresholds(t *testing.T) {
	th := DefaultThresholds()
	assert.True(t, th.Overloaded(Metrics{TrafficVolume: 1.1, Delay: 0.2}))
	assert.True(t, th.Overloaded(Metrics{TrafficVolume: 0.5, Delay: 0.31}))
	assert.False(t, th.Overloaded(Metrics{TrafficVolume: 1.0, Delay: 0.3}))
}

func TestSyntheticSource_Ranges(t *testing.T) {
	src := NewSyntheticSource(42)
	alerts := 0
	const n = 2000
	for i := 0; i < n; i++ {
		m, err := src.Sample(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, m.TrafficVolume, 0.4)
		assert.LessOrEqual(t, m.TrafficVolume, 1.2)
		assert.GreaterOrEqual(t, m.Delay, 0.1)
		assert.LessOrEqual(t, m.Delay, 0.35)
		if m.CongestionAlert {
			alerts++
		}
	}
	assert.InDelta(t, 0.25, float64(alerts)/n, 0.05)
}

func TestSyntheticSource_Seeded(t *testing.T) {
	a, _ := NewSyntheticSource(7).Sample(context.Background())
	b, _ := NewSyntheticSource(7).Sample(context.Background())
	assert.Equal(t, a, b)
}

func TestAggregateSource(t *testing.T) {
	cache := digest.NewFlowCache(0)
	cache.Upsert("f1", 100)
	cache.Upsert("f2", 98)
	cache.Upsert("f3", 99)

	src := NewAggregateSource(1000, cache, 3)
	src.Now = func() time.Time { return time.Unix(101, 0) }
	src.Observe([]weights.LoadSample{{ServerID: 0, Load: 600}, {ServerID: 1, Load: 500}})

	m, err := src.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.1, m.TrafficVolume, 1e-9)
	assert.InDelta(t, 2.0, m.Delay, 1e-9)
	assert.True(t, m.CongestionAlert)
	assert.True(t, DefaultThresholds().Overloaded(m))
}

func TestAggregateSource_Empty(t *testing.T) {
	src := NewAggregateSource(0, digest.NewFlowCache(0), 0)
	m, err := src.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Metrics{}, m)
}

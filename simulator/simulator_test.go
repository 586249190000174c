package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationConvergesWithoutPartitions(t *testing.T) {
	sim := NewSimulator(SimConfig{
		NumReplicas:  3,
		StepInterval: 20 * time.Millisecond,
		Seed:         11,
		DataDir:      t.TempDir(),
	})
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.Run(ctx))

	m := sim.GetMetrics()
	assert.Equal(t, 3, m.TotalReplicas)
	assert.Equal(t, 3, m.ConnectedReplicas)
	assert.Greater(t, m.Steps, 0)
	assert.Greater(t, m.Posts, 0)
	assert.Zero(t, m.Disconnects)

	assert.Eventually(t, func() bool {
		n, err := sim.Divergent(context.Background())
		return err == nil && n == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestConnectivityFlapsAreCounted(t *testing.T) {
	sim := NewSimulator(SimConfig{
		NumReplicas:          2,
		StepInterval:         10 * time.Millisecond,
		ConnectivityInterval: 20 * time.Millisecond,
		DisconnectRate:       1,
		ReconnectRate:        1,
		Seed:                 5,
		DataDir:              t.TempDir(),
	})
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.Run(ctx))

	m := sim.GetMetrics()
	assert.Greater(t, m.Disconnects, 0)
	assert.Greater(t, m.Reconnects, 0)
}

package locking

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTable records how often it was swept.
type countingTable struct {
	sweeps  atomic.Int64
	removed int
}

func (c *countingTable) SweepExpired() int {
	c.sweeps.Add(1)
	return c.removed
}

func TestSweeper_RunsAtInterval(t *testing.T) {
	table := &countingTable{removed: 3}

	sweeper := NewSweeper(table, 20*time.Millisecond, zerolog.Nop())
	sweeper.Start()

	assert.Eventually(t, func() bool {
		return table.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
}

func TestSweeper_Stop(t *testing.T) {
	sweeper := NewSweeper(&countingTable{}, time.Hour, zerolog.Nop())
	sweeper.Start()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Stop did not return in time")
	}
}

func TestSweeper_ReclaimsExpiredLocks(t *testing.T) {
	m := NewManager(DefaultTimeoutPolicy(), zerolog.Nop())

	_, err := m.AcquireTemporary("/a", "req-1", 1)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	sweeper := NewSweeper(m, 50*time.Millisecond, zerolog.Nop())
	sweeper.Start()
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		return m.Len() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

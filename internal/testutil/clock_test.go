package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtStart(t *testing.T) {
	clock := NewStepClock(Epoch, time.Minute)
	assert.Equal(t, int64(0), clock.Readings())
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, int64(1), clock.Readings())
}

func TestStepClock_AdvancesByStep(t *testing.T) {
	clock := NewStepClock(Epoch, time.Minute)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Minute), clock.Now())
	assert.Equal(t, int64(3), clock.Readings())
}

func TestStepClock_DefaultStep(t *testing.T) {
	clock := NewStepClock(Epoch, 0)
	clock.Now()
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(Epoch, time.Second)

	clock.Now()
	clock.Now()
	clock.Now()
	assert.Equal(t, int64(3), clock.Readings())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Readings())
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(Epoch, time.Second)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]time.Time, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]time.Time, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.Now()
			}
		}(i)
	}

	wg.Wait()

	seen := make(map[time.Time]bool)
	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < callsPerGoroutine; j++ {
			ts := results[i][j]
			require.False(t, seen[ts], "duplicate reading %s", ts)
			seen[ts] = true
		}
	}

	total := numGoroutines * callsPerGoroutine
	assert.Len(t, seen, total)
	assert.True(t, seen[Epoch.Add(time.Duration(total-1)*time.Second)])
}

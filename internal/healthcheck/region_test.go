package healthcheck

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegion_SlotForIsStableAcrossCalls(t *testing.T) {
	t.Parallel()

	r := newRegion()
	a := r.slotFor("10.0.0.1:80|")
	b := r.slotFor("10.0.0.1:80|")
	assert.Same(t, a, b)
}

func TestRegion_DistinctKeysGetDistinctSlots(t *testing.T) {
	t.Parallel()

	r := newRegion()
	a := r.slotFor("10.0.0.1:80|")
	b := r.slotFor("10.0.0.2:80|")
	assert.NotSame(t, a, b)
}

func TestSlot_RecordTransitionsOneStepAtATime(t *testing.T) {
	t.Parallel()

	s := &slot{}
	state, changed := s.record(false, 2, 1)
	assert.True(t, changed)
	assert.Equal(t, StateMostlyHealthy, state)
	assert.Equal(t, StateMostlyHealthy, s.currentState())
}

func TestSlot_RecordDoesNotChangeBelowThreshold(t *testing.T) {
	t.Parallel()

	s := &slot{}
	_, changed := s.record(false, 2, 3)
	assert.False(t, changed)
	assert.Equal(t, StateHealthy, s.currentState())
}

func TestSlot_RecordIsConcurrencySafe(t *testing.T) {
	t.Parallel()

	s := &slot{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.record(false, 2, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateUnhealthy, s.currentState())
}

func TestRegion_VersionBumpsOnce(t *testing.T) {
	t.Parallel()

	r := newRegion()
	assert.Equal(t, uint64(0), r.currentVersion())
	r.bumpVersion()
	assert.Equal(t, uint64(1), r.currentVersion())
}

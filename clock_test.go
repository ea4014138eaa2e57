package rosnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockAdvance(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(base)
	assert.True(t, c.Now().Equal(base))

	c.Advance(5 * time.Second)
	assert.True(t, c.Now().Equal(base.Add(5*time.Second)))
}

func TestPeriodicTimerDoesNotDrift(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(base)
	timer := newPeriodicTimer(clock, time.Second)

	deadline, ok := timer.NextDeadline()
	require := assert.New(t)
	require.True(ok)
	require.True(deadline.Equal(base.Add(time.Second)))

	// Firing late by 300ms must not shift the next deadline: it always
	// advances by exactly one period from the prior deadline, never from
	// "now".
	late := base.Add(1300 * time.Millisecond)
	assert.True(t, timer.Due(late))
	next, ok := timer.NextDeadline()
	require.True(ok)
	require.True(next.Equal(base.Add(2 * time.Second)))
}

func TestPeriodicTimerNotDueBeforeDeadline(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(base)
	timer := newPeriodicTimer(clock, time.Second)

	assert.False(t, timer.Due(base.Add(500*time.Millisecond)))
}

func TestPeriodicTimerOnDemandNeverDue(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(base)
	timer := newPeriodicTimer(clock, -1)

	_, ok := timer.NextDeadline()
	assert.False(t, ok)
	assert.False(t, timer.Due(base.Add(time.Hour)))
}

func TestBackoffDurationGrowsAndCaps(t *testing.T) {
	assert.Equal(t, time.Duration(0), backoffDuration(0))
	assert.Equal(t, backoffInitial, backoffDuration(1))
	assert.Equal(t, 2*backoffInitial, backoffDuration(2))
	assert.Equal(t, 4*backoffInitial, backoffDuration(3))
	assert.Equal(t, backoffCap, backoffDuration(20))
}

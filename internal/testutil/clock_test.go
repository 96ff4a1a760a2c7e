package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clk := NewFakeClock()
	assert.True(t, Epoch.Equal(clk.Now()))
	assert.Equal(t, Epoch.UnixMilli(), clk.NowMillis())
}

func TestFakeClock_AdvanceMovesTime(t *testing.T) {
	clk := NewFakeClock()
	clk.Advance(1500 * time.Millisecond)
	assert.Equal(t, Epoch.UnixMilli()+1500, clk.NowMillis())
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	clk := NewFakeClock()

	var order []string
	var seen []time.Time
	record := func(name string) func() {
		return func() {
			order = append(order, name)
			seen = append(seen, clk.Now())
		}
	}
	clk.AfterFunc(3*time.Second, record("c"))
	clk.AfterFunc(time.Second, record("a"))
	clk.AfterFunc(2*time.Second, record("b"))
	clk.AfterFunc(2*time.Second, record("b2"))

	clk.Advance(10 * time.Second)

	assert.Equal(t, []string{"a", "b", "b2", "c"}, order)
	require.Len(t, seen, 4)
	assert.True(t, Epoch.Add(time.Second).Equal(seen[0]), "now equals deadline during callback")
	assert.True(t, Epoch.Add(10*time.Second).Equal(clk.Now()))
}

func TestFakeClock_Stop(t *testing.T) {
	clk := NewFakeClock()

	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	clk.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, clk.Pending())
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	clk := NewFakeClock()
	timer := clk.AfterFunc(time.Second, func() {})
	clk.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestFakeClock_NestedScheduling(t *testing.T) {
	clk := NewFakeClock()

	fired := 0
	clk.AfterFunc(time.Second, func() {
		fired++
		clk.AfterFunc(time.Second, func() { fired++ })
		clk.AfterFunc(time.Hour, func() { fired++ })
	})

	clk.Advance(5 * time.Second)
	assert.Equal(t, 2, fired)
	assert.Equal(t, 1, clk.Pending())
}

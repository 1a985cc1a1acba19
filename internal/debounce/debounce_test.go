package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	d := New(30*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_ResetsOnTrigger(t *testing.T) {
	var calls atomic.Int32
	d := New(50*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	time.Sleep(30 * time.Millisecond)
	d.Trigger()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(0), calls.Load(), "second trigger should restart the quiet period")

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_Flush(t *testing.T) {
	var calls atomic.Int32
	d := New(time.Hour, func() { calls.Add(1) })

	d.Flush()
	require.Equal(t, int32(0), calls.Load(), "flush without a pending call is a no-op")

	d.Trigger()
	require.True(t, d.Pending())
	d.Flush()
	require.Equal(t, int32(1), calls.Load())
	require.False(t, d.Pending())
}

func TestDebouncer_Stop(t *testing.T) {
	var calls atomic.Int32
	d := New(10*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(0), calls.Load())
}

func TestDebouncer_LateTimerFromEarlierTrigger(t *testing.T) {
	var calls atomic.Int32
	d := New(time.Hour, func() { calls.Add(1) })

	d.Trigger()
	d.mu.Lock()
	first := d.gen
	d.mu.Unlock()

	// The first timer fires just as a second Trigger rearms.
	d.Trigger()
	d.fire(first)

	require.Equal(t, int32(0), calls.Load(), "an earlier timer must not cut the new quiet period short")
	require.True(t, d.Pending())

	d.Flush()
	require.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_LateTimerAfterFlush(t *testing.T) {
	var calls atomic.Int32
	d := New(time.Hour, func() { calls.Add(1) })

	d.Trigger()
	d.mu.Lock()
	armed := d.gen
	d.mu.Unlock()

	d.Flush()
	d.Trigger()
	d.fire(armed)

	require.Equal(t, int32(1), calls.Load())
	require.True(t, d.Pending())
	d.Stop()
}

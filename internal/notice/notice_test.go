package notice

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotice_AutoDismiss(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var changes atomic.Int32
	n := New(clock, DefaultDismiss, func() { changes.Add(1) })

	n.Show("Invalid OTP")
	assert.Equal(t, "Invalid OTP", n.Message())

	clock.Advance(2499 * time.Millisecond)
	assert.Equal(t, "Invalid OTP", n.Message())

	clock.Advance(time.Millisecond)
	assert.Empty(t, n.Message())
	require.Eventually(t, func() bool { return changes.Load() == 1 }, time.Second, time.Millisecond)
}

func TestNotice_ShowRestartsDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var changes atomic.Int32
	n := New(clock, DefaultDismiss, func() { changes.Add(1) })

	n.Show("first")
	clock.Advance(2 * time.Second)
	n.Show("second")
	clock.Advance(2 * time.Second)
	assert.Equal(t, "second", n.Message())

	clock.Advance(500 * time.Millisecond)
	assert.Empty(t, n.Message())
	require.Eventually(t, func() bool { return changes.Load() == 1 }, time.Second, time.Millisecond)
}

func TestNotice_DismissAndClose(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var changes atomic.Int32
	n := New(clock, 0, func() { changes.Add(1) })

	n.Show("gone")
	n.Dismiss()
	assert.Empty(t, n.Message())

	n.Show("closing")
	n.Close()
	assert.Empty(t, n.Message())
	n.Show("ignored")
	assert.Empty(t, n.Message())

	clock.Advance(time.Minute)
	assert.Equal(t, int32(0), changes.Load())
}

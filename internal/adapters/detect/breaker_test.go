package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clockedBreaker returns a breaker on a manual clock plus a transition log
func clockedBreaker(threshold int, base, max time.Duration) (*breaker, *time.Time, *[]string) {
	b := newBreaker(threshold, base, max)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	var trans []string
	b.onTransition = func(from, to string, _ time.Duration) {
		trans = append(trans, from+">"+to)
	}
	return b, &now, &trans
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b, _, trans := clockedBreaker(3, 2*time.Second, 30*time.Second)

	require.True(t, b.allow())
	b.failure()
	b.failure()
	require.Equal(t, BreakerClosed, b.current(), "two failures stay closed")

	b.failure()
	require.Equal(t, BreakerOpen, b.current())
	require.False(t, b.allow(), "open breaker refuses before cooldown")
	require.Equal(t, []string{"closed>open"}, *trans)
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	t.Parallel()

	b, _, _ := clockedBreaker(3, time.Second, time.Minute)

	b.failure()
	b.failure()
	b.success()
	b.failure()
	b.failure()
	require.Equal(t, BreakerClosed, b.current(), "run was reset; two more failures must not open")
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	t.Parallel()

	b, now, trans := clockedBreaker(1, 2*time.Second, 30*time.Second)

	b.failure()
	require.Equal(t, BreakerOpen, b.current())

	// cooldown not elapsed
	*now = now.Add(time.Second)
	require.False(t, b.allow())

	// elapsed: exactly one probe admitted
	*now = now.Add(time.Second)
	require.True(t, b.allow())
	require.Equal(t, BreakerHalfOpen, b.current())
	require.False(t, b.allow(), "second caller must wait for the probe")

	require.Equal(t, []string{"closed>open", "open>half_open"}, *trans)
}

func TestBreaker_ProbeFailureDoublesCooldownUpToCap(t *testing.T) {
	t.Parallel()

	b, now, _ := clockedBreaker(1, 2*time.Second, 8*time.Second)

	b.failure() // open, cooldown 2s
	*now = now.Add(2 * time.Second)
	require.True(t, b.allow()) // probe
	b.failure()                // reopen, cooldown 4s

	*now = now.Add(3 * time.Second)
	require.False(t, b.allow(), "4s cooldown not elapsed after 3s")
	*now = now.Add(time.Second)
	require.True(t, b.allow()) // probe again
	b.failure()                // reopen, cooldown 8s

	*now = now.Add(8 * time.Second)
	require.True(t, b.allow())
	b.failure() // would be 16s, capped at 8s

	*now = now.Add(8 * time.Second)
	require.True(t, b.allow(), "cap keeps the cooldown at 8s")
}

func TestBreaker_ProbeSuccessClosesAndResets(t *testing.T) {
	t.Parallel()

	b, now, trans := clockedBreaker(1, 2*time.Second, 30*time.Second)

	b.failure()
	*now = now.Add(2 * time.Second)
	require.True(t, b.allow())
	b.success()
	require.Equal(t, BreakerClosed, b.current())

	// cooldown is back to base after recovery: next open waits 2s, not 4s
	b.failure()
	*now = now.Add(2 * time.Second)
	require.True(t, b.allow())

	require.Equal(t,
		[]string{"closed>open", "open>half_open", "half_open>closed", "closed>open", "open>half_open"},
		*trans)
}

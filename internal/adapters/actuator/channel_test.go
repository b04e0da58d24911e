package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sprayer/internal/core/events"
	perr "sprayer/internal/platform/errors"
)

func newTestChannel(t *testing.T, sim *MCUSim, o Options) *Channel {
	t.Helper()
	ch := NewChannel(sim, o, events.Nop{})
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func waitStats(t *testing.T, ch *Channel, pred func(Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return pred(ch.Stats()) }, 2*time.Second, 2*time.Millisecond)
}

func awaitFault(t *testing.T, ch *Channel) Fault {
	t.Helper()
	select {
	case f := <-ch.Faults():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no fault reported")
		return Fault{}
	}
}

func TestEnqueue_AckClearsPending(t *testing.T) {
	sim := NewMCUSim()
	ch := newTestChannel(t, sim, Options{Nozzles: 4, AckTimeout: 50 * time.Millisecond})

	require.NoError(t, ch.Enqueue(1, ActionOpen))
	waitStats(t, ch, func(s Stats) bool { return s.Acked == 1 && s.Pending == 0 })

	st, ok := sim.State(1)
	require.True(t, ok)
	require.Equal(t, ActionOpen, st)
	require.Zero(t, ch.Stats().Retries)
}

func TestEnqueue_NozzleOutOfRange(t *testing.T) {
	ch := newTestChannel(t, NewMCUSim(), Options{Nozzles: 2})

	err := ch.Enqueue(2, ActionOpen)
	require.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
	require.True(t, perr.IsCode(ch.Enqueue(-1, ActionClose), perr.ErrorCodeInvalidArgument))
}

func TestSupersede_OnlyLastCommandRetried(t *testing.T) {
	sim := NewMCUSim()
	sim.DropAcks = true
	ch := newTestChannel(t, sim, Options{Nozzles: 4, AckTimeout: 30 * time.Millisecond, MaxRetries: 3})

	require.NoError(t, ch.Enqueue(2, ActionOpen))
	require.NoError(t, ch.Enqueue(2, ActionClose))
	require.NoError(t, ch.Enqueue(2, ActionOpen))

	waitStats(t, ch, func(s Stats) bool { return s.Faults == 1 })
	require.Eventually(t, func() bool {
		cmds := sim.Commands()
		return len(cmds) > 0 && cmds[len(cmds)-1].Action == ActionClose
	}, 2*time.Second, 2*time.Millisecond)

	counts := map[uint8]int{}
	var order []uint8
	for _, cmd := range sim.Commands() {
		if cmd.Nozzle != 2 {
			continue
		}
		if counts[cmd.Seq] == 0 {
			order = append(order, cmd.Seq)
		}
		counts[cmd.Seq]++
	}

	// two superseded sends, the live command with its retries, the
	// forced close
	require.Len(t, order, 4)
	require.Equal(t, 1, counts[order[0]])
	require.Equal(t, 1, counts[order[1]])
	require.Equal(t, 4, counts[order[2]])
	require.Equal(t, 1, counts[order[3]])

	require.Equal(t, uint64(2), ch.Stats().Superseded)
}

func TestRetryExhaustion_FaultOnceAndForcedClose(t *testing.T) {
	sim := NewMCUSim()
	sim.DropAcks = true
	ch := newTestChannel(t, sim, Options{Nozzles: 4, AckTimeout: 20 * time.Millisecond, MaxRetries: 2})

	require.NoError(t, ch.Enqueue(1, ActionOpen))

	fault := awaitFault(t, ch)
	require.Equal(t, 1, fault.Nozzle)
	require.Equal(t, 3, fault.Attempts)

	select {
	case f := <-ch.Faults():
		t.Fatalf("second fault for one exhaustion: %+v", f)
	case <-time.After(150 * time.Millisecond):
	}

	s := ch.Stats()
	require.Equal(t, uint64(1), s.Faults)
	require.Equal(t, uint64(2), s.Retries)
	require.Equal(t, []int{1}, ch.FaultedNozzles())

	require.Eventually(t, func() bool {
		st, ok := sim.State(1)
		return ok && st == ActionClose
	}, 2*time.Second, 2*time.Millisecond)

	// the latched nozzle rejects new work, its neighbours do not
	require.True(t, perr.IsCode(ch.Enqueue(1, ActionOpen), perr.ErrorCodeActuatorFault))
	require.NoError(t, ch.Enqueue(0, ActionOpen))

	ch.ResetFaults()
	require.Nil(t, ch.FaultedNozzles())
	require.NoError(t, ch.Enqueue(1, ActionOpen))
}

func TestRejectedAck_RunsRetryPath(t *testing.T) {
	sim := NewMCUSim()
	sim.Reject = map[uint8]bool{3: true}
	ch := newTestChannel(t, sim, Options{Nozzles: 4, AckTimeout: 50 * time.Millisecond, MaxRetries: 2})

	require.NoError(t, ch.Enqueue(3, ActionOpen))

	fault := awaitFault(t, ch)
	require.Equal(t, 3, fault.Nozzle)
	require.Equal(t, 3, fault.Attempts)

	s := ch.Stats()
	require.Equal(t, uint64(3), s.RejectedAcks)
	require.Equal(t, uint64(1), s.Faults)
	require.Zero(t, s.Acked)
}

func TestCorruptAcks_CountAsMissing(t *testing.T) {
	sim := NewMCUSim()
	sim.CorruptAcks = true
	ch := newTestChannel(t, sim, Options{Nozzles: 4, AckTimeout: 20 * time.Millisecond, MaxRetries: 1})

	require.NoError(t, ch.Enqueue(0, ActionOpen))

	fault := awaitFault(t, ch)
	require.Equal(t, 0, fault.Nozzle)

	s := ch.Stats()
	require.Zero(t, s.Acked)
	require.Positive(t, s.ScanDrops)
}

func TestClose_ForcesEveryNozzleClosed(t *testing.T) {
	sim := NewMCUSim()
	ch := NewChannel(sim, Options{Nozzles: 3, AckTimeout: 50 * time.Millisecond}, nil)

	require.NoError(t, ch.Enqueue(0, ActionOpen))
	require.NoError(t, ch.Enqueue(1, ActionOpen))
	require.Eventually(t, func() bool { return ch.Stats().Acked == 2 }, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, ch.Close())

	cmds := sim.Commands()
	require.GreaterOrEqual(t, len(cmds), 5)
	tail := cmds[len(cmds)-3:]
	for i, cmd := range tail {
		require.Equal(t, uint8(i), cmd.Nozzle)
		require.Equal(t, ActionClose, cmd.Action)
	}
	for nz := uint8(0); nz < 3; nz++ {
		st, ok := sim.State(nz)
		require.True(t, ok)
		require.Equal(t, ActionClose, st)
	}

	require.True(t, perr.IsCode(ch.Enqueue(0, ActionOpen), perr.ErrorCodeUnavailable))
	require.NoError(t, ch.Close())
}

func TestFailsafeAll_CancelsPendingWithoutFaulting(t *testing.T) {
	sim := NewMCUSim()
	sim.DropAcks = true
	ch := newTestChannel(t, sim, Options{Nozzles: 4, AckTimeout: 60 * time.Millisecond, MaxRetries: 3})

	require.NoError(t, ch.Enqueue(0, ActionOpen))
	require.NoError(t, ch.Enqueue(1, ActionOpen))
	require.Equal(t, 2, ch.Stats().Pending)

	ch.FailsafeAll()
	require.Zero(t, ch.Stats().Pending)

	require.Eventually(t, func() bool {
		closes := 0
		for _, cmd := range sim.Commands() {
			if cmd.Action == ActionClose {
				closes++
			}
		}
		return closes >= 4
	}, 2*time.Second, 2*time.Millisecond)

	// cancelled commands must not fire their timers
	require.Never(t, func() bool {
		s := ch.Stats()
		return s.Retries > 0 || s.Faults > 0
	}, 200*time.Millisecond, 20*time.Millisecond)

	require.Nil(t, ch.FaultedNozzles())
	require.NoError(t, ch.Enqueue(2, ActionOpen))
}

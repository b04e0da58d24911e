package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sprayer/internal/adapters/actuator"
	"sprayer/internal/core/geometry"
)

func newTestScheduler() (*scheduler, *fakeBoom) {
	fb := newFakeBoom()
	return newScheduler(fb, time.Now), fb
}

func TestScheduler_OpensThenCloses(t *testing.T) {
	sc, fb := newTestScheduler()
	now := time.Now()

	sc.schedule(geometry.Window{Nozzle: 1, OpenAt: now.Add(20 * time.Millisecond), CloseAt: now.Add(70 * time.Millisecond)})

	require.Eventually(t, func() bool { return len(fb.commands()) == 2 }, 2*time.Second, 2*time.Millisecond)
	cmds := fb.commands()
	require.Equal(t, 1, cmds[0].nozzle)
	require.Equal(t, actuator.ActionOpen, cmds[0].action)
	require.Equal(t, 1, cmds[1].nozzle)
	require.Equal(t, actuator.ActionClose, cmds[1].action)
	require.GreaterOrEqual(t, cmds[1].at.Sub(cmds[0].at), 40*time.Millisecond)
}

func TestScheduler_ExtendsOpenWindowOutward(t *testing.T) {
	sc, fb := newTestScheduler()
	now := time.Now()

	sc.schedule(geometry.Window{Nozzle: 2, OpenAt: now.Add(5 * time.Millisecond), CloseAt: now.Add(80 * time.Millisecond)})
	sc.schedule(geometry.Window{Nozzle: 2, OpenAt: now.Add(30 * time.Millisecond), CloseAt: now.Add(400 * time.Millisecond)})

	// the first close was cancelled, so well past its deadline only the
	// open has fired
	time.Sleep(150 * time.Millisecond)
	require.Len(t, fb.commands(), 1)
	require.Equal(t, actuator.ActionOpen, fb.commands()[0].action)

	require.Eventually(t, func() bool { return len(fb.commands()) == 2 }, 2*time.Second, 2*time.Millisecond)
	cmds := fb.commands()
	require.Equal(t, actuator.ActionClose, cmds[1].action)
	require.GreaterOrEqual(t, cmds[1].at.Sub(cmds[0].at), 300*time.Millisecond)
}

func TestScheduler_CoveredWindowAddsNothing(t *testing.T) {
	sc, fb := newTestScheduler()
	now := time.Now()

	sc.schedule(geometry.Window{Nozzle: 0, OpenAt: now.Add(5 * time.Millisecond), CloseAt: now.Add(100 * time.Millisecond)})
	sc.schedule(geometry.Window{Nozzle: 0, OpenAt: now.Add(20 * time.Millisecond), CloseAt: now.Add(60 * time.Millisecond)})

	require.Eventually(t, func() bool { return len(fb.commands()) == 2 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, fb.commands(), 2)
}

func TestScheduler_PastOpenFiresImmediately(t *testing.T) {
	sc, fb := newTestScheduler()
	now := time.Now()

	sc.schedule(geometry.Window{Nozzle: 3, OpenAt: now.Add(-50 * time.Millisecond), CloseAt: now.Add(300 * time.Millisecond)})

	require.Eventually(t, func() bool { return len(fb.commands()) >= 1 }, 150*time.Millisecond, 2*time.Millisecond)
	cmds := fb.commands()
	require.Equal(t, 3, cmds[0].nozzle)
	require.Equal(t, actuator.ActionOpen, cmds[0].action)
}

func TestScheduler_CancelAllSilencesTimers(t *testing.T) {
	sc, fb := newTestScheduler()
	now := time.Now()

	sc.schedule(geometry.Window{Nozzle: 1, OpenAt: now.Add(40 * time.Millisecond), CloseAt: now.Add(80 * time.Millisecond)})
	sc.cancelAll()

	require.Never(t, func() bool { return len(fb.commands()) > 0 }, 150*time.Millisecond, 10*time.Millisecond)

	// a fresh window after cancel schedules normally
	now = time.Now()
	sc.schedule(geometry.Window{Nozzle: 1, OpenAt: now.Add(5 * time.Millisecond), CloseAt: now.Add(50 * time.Millisecond)})
	require.Eventually(t, func() bool { return len(fb.commands()) == 2 }, 2*time.Second, 2*time.Millisecond)
}

func TestScheduler_NozzlesAreIndependent(t *testing.T) {
	sc, fb := newTestScheduler()
	now := time.Now()

	sc.schedule(geometry.Window{Nozzle: 0, OpenAt: now.Add(5 * time.Millisecond), CloseAt: now.Add(50 * time.Millisecond)})
	sc.schedule(geometry.Window{Nozzle: 1, OpenAt: now.Add(5 * time.Millisecond), CloseAt: now.Add(50 * time.Millisecond)})

	require.Eventually(t, func() bool { return len(fb.commands()) == 4 }, 2*time.Second, 2*time.Millisecond)
	opens := map[int]int{}
	for _, c := range fb.commands() {
		if c.action == actuator.ActionOpen {
			opens[c.nozzle]++
		}
	}
	require.Equal(t, map[int]int{0: 1, 1: 1}, opens)
}

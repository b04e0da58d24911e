package service

import (
	"sync"
	"time"

	"sprayer/internal/adapters/actuator"
	"sprayer/internal/core/geometry"
	"sprayer/internal/platform/logger"
)

// scheduler turns spray windows into timed OPEN/CLOSE commands, one timer
// pair per nozzle. A window landing on an already-open nozzle extends the
// close instead of racing it, so overlapping detections across frames
// spray as one continuous pass
type scheduler struct {
	boom Boom
	log  logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	nozzles map[int]*nozzleTimers
}

type nozzleTimers struct {
	openTimer  *time.Timer
	closeTimer *time.Timer
	openUntil  time.Time
}

func newScheduler(boom Boom, now func() time.Time) *scheduler {
	return &scheduler{
		boom:    boom,
		log:     *logger.Named("pipeline"),
		now:     now,
		nozzles: make(map[int]*nozzleTimers),
	}
}

func (sc *scheduler) schedule(w geometry.Window) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.now()
	nt := sc.nozzles[w.Nozzle]
	if nt == nil {
		nt = &nozzleTimers{}
		sc.nozzles[w.Nozzle] = nt
	}

	if nt.openUntil.After(now) {
		// nozzle is open or opening; only the close can move, outward
		if w.CloseAt.After(nt.openUntil) {
			nt.openUntil = w.CloseAt
			nt.closeTimer.Stop()
			nt.closeTimer = sc.fireAfter(w.Nozzle, actuator.ActionClose, w.CloseAt.Sub(now))
		}
		return
	}

	nt.openUntil = w.CloseAt
	if nt.openTimer != nil {
		nt.openTimer.Stop()
	}
	if nt.closeTimer != nil {
		nt.closeTimer.Stop()
	}
	nt.openTimer = sc.fireAfter(w.Nozzle, actuator.ActionOpen, w.OpenAt.Sub(now))
	nt.closeTimer = sc.fireAfter(w.Nozzle, actuator.ActionClose, w.CloseAt.Sub(now))
}

// cancelAll stops every timer without touching the boom; callers follow
// with a fail-safe close
func (sc *scheduler) cancelAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, nt := range sc.nozzles {
		if nt.openTimer != nil {
			nt.openTimer.Stop()
		}
		if nt.closeTimer != nil {
			nt.closeTimer.Stop()
		}
		nt.openUntil = time.Time{}
	}
}

func (sc *scheduler) fireAfter(nz int, a actuator.Action, d time.Duration) *time.Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, func() {
		if err := sc.boom.Enqueue(nz, a); err != nil {
			sc.log.Warn().Err(err).Int("nozzle", nz).Str("action", a.String()).Msg("nozzle command rejected")
		}
	})
}

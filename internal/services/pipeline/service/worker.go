package service

import (
	"context"
	"fmt"
	"time"

	"sprayer/internal/adapters/detect"
	"sprayer/internal/core/events"
	"sprayer/internal/core/geometry"
	perr "sprayer/internal/platform/errors"
	"sprayer/internal/services/pipeline/domain"
)

// Run starts the pipeline loops and blocks until the context ends or a
// loop fails. Adapters are closed by the caller afterwards, in shutdown
// order
func (s *Svc) Run(ctx context.Context) error {
	errCh := make(chan error, 3)
	go func() { errCh <- s.captureLoop(ctx) }()
	go func() { errCh <- s.completionLoop(ctx) }()
	go func() { errCh <- s.faultLoop(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	s.sched.cancelAll()
	return err
}

// captureLoop grabs frames at the configured rate and feeds the ring.
// Capture failures are counted and logged, never fatal
func (s *Svc) captureLoop(ctx context.Context) error {
	t := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if s.Mode() != domain.ModeRunning {
				continue
			}
			f, err := s.cam.Grab(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.mu.Lock()
				s.captureErrs++
				s.mu.Unlock()
				s.log.Warn().Err(err).Msg("frame capture failed")
				continue
			}
			s.mu.Lock()
			s.captured++
			s.mu.Unlock()
			s.ring.Push(f)
			s.dispatch(ctx)
		}
	}
}

// dispatch pulls ready frames from the ring while the detector has
// in-flight headroom. Breaker rejections count toward fail-safe
func (s *Svc) dispatch(ctx context.Context) {
	for {
		if s.Mode() != domain.ModeRunning {
			return
		}
		if s.det.Stats().InFlight >= s.cfg.MaxInFlight {
			return
		}
		f := s.ring.PopReady(s.now())
		if f == nil {
			return
		}

		speed := f.Speed(s.cfg.SpeedMPS)
		err := s.det.Submit(ctx, f)
		switch {
		case err == nil:
			s.mu.Lock()
			s.breakerRejections = 0
			s.speeds[f.ID] = speed
			s.mu.Unlock()
		case perr.IsCode(err, perr.ErrorCodeUnavailable):
			s.drop(f.ID, events.DropBreakerOpen)
			s.noteBreakerRejection()
			return
		case perr.IsCode(err, perr.ErrorCodeOverloaded):
			s.drop(f.ID, events.DropOverloaded)
			return
		default:
			s.drop(f.ID, events.DropRemoteError)
			s.log.Warn().Err(err).Uint64("frame_id", f.ID).Msg("frame submit failed")
			return
		}
	}
}

// completionLoop turns detections into spray windows
func (s *Svc) completionLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case comp := <-s.det.Completions():
			s.onCompletion(ctx, comp)
		}
	}
}

func (s *Svc) onCompletion(ctx context.Context, comp detect.Completion) {
	// a freed in-flight slot can admit the next queued frame
	defer s.dispatch(ctx)

	s.mu.Lock()
	speed, okSpeed := s.speeds[comp.FrameID]
	delete(s.speeds, comp.FrameID)
	s.mu.Unlock()
	if !okSpeed {
		speed = s.cfg.SpeedMPS
	}

	if comp.Err != nil {
		reason := events.DropRemoteError
		if perr.IsCode(comp.Err, perr.ErrorCodeTimedOut) {
			reason = events.DropTimedOut
		}
		s.drop(comp.FrameID, reason)
		return
	}

	if comp.Result == nil || len(comp.Result.Boxes) == 0 {
		// clean pass, nothing to spray
		s.finishFrame(comp, 0, 0)
		return
	}

	if s.Mode() != domain.ModeRunning {
		s.drop(comp.FrameID, events.DropSuppressed)
		return
	}

	wins := geometry.Map(comp.Result.Boxes, s.cfg.Geometry, speed, comp.CapturedAt, s.now())
	if len(wins) == 0 {
		s.drop(comp.FrameID, events.DropUnactionable)
		return
	}
	for _, w := range wins {
		s.sched.schedule(w)
	}
	s.finishFrame(comp, len(comp.Result.Boxes), len(wins))
}

func (s *Svc) finishFrame(comp detect.Completion, dets, wins int) {
	s.mu.Lock()
	s.completed++
	s.sprayWindows += uint64(wins)
	s.mu.Unlock()
	s.emit.Emit(events.FrameDone{
		FrameID:    comp.FrameID,
		Latency:    comp.Latency,
		Detections: dets,
		Windows:    wins,
		TS:         s.now(),
	})
}

// faultLoop escalates hard nozzle faults to pipeline fail-safe
func (s *Svc) faultLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.boom.Faults():
			s.enterFailsafe(fmt.Sprintf("nozzle %d unresponsive after %d attempts", f.Nozzle, f.Attempts))
		}
	}
}

func (s *Svc) noteBreakerRejection() {
	s.mu.Lock()
	s.breakerRejections++
	trip := s.breakerRejections >= s.cfg.CircuitTrips
	s.mu.Unlock()
	if trip {
		s.enterFailsafe("detection circuit open")
	}
}

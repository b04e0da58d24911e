// Package service runs the capture to spray pipeline
package service

import (
	"context"
	"sync"
	"time"

	"sprayer/internal/adapters/actuator"
	"sprayer/internal/adapters/camera"
	"sprayer/internal/adapters/detect"
	"sprayer/internal/core/events"
	"sprayer/internal/core/frames"
	"sprayer/internal/core/geometry"
	perr "sprayer/internal/platform/errors"
	"sprayer/internal/platform/logger"
	"sprayer/internal/services/pipeline/domain"
)

// Detector resolves submitted frames asynchronously. Satisfied by
// detect.Client
type Detector interface {
	Submit(ctx context.Context, f *frames.Frame) error
	Completions() <-chan detect.Completion
	Stats() detect.Stats
	Close()
}

// Boom drives the nozzles. Satisfied by actuator.Channel
type Boom interface {
	Enqueue(nozzle int, action actuator.Action) error
	FailsafeAll()
	Faults() <-chan actuator.Fault
	FaultedNozzles() []int
	ResetFaults()
	Stats() actuator.Stats
}

// Config carries runtime knobs for the pipeline. Zero values take defaults
type Config struct {
	// FPS paces the capture pump
	FPS float64
	// SpeedMPS is the fallback ground speed for frames without odometry
	SpeedMPS float64
	// MaxInFlight mirrors the detector's in-flight cap; the dispatcher
	// holds frames in the ring instead of drawing rejections
	MaxInFlight int
	// CircuitTrips is how many consecutive breaker rejections force
	// fail-safe
	CircuitTrips int
	// BufferCapacity sizes the frame ring
	BufferCapacity int
	// StaleAfter ages frames out of the ring
	StaleAfter time.Duration
	// Geometry describes the camera/boom rig
	Geometry geometry.Geometry
}

// Svc implements the pipeline runner and its control surface
type Svc struct {
	log   logger.Logger
	emit  events.Emitter
	cam   camera.Source
	det   Detector
	boom  Boom
	ring  *frames.Ring
	sched *scheduler
	cfg   Config
	now   func() time.Time

	mu                sync.Mutex
	mode              domain.Mode
	failsafeCause     string
	since             time.Time
	breakerRejections int
	captured          uint64
	captureErrs       uint64
	completed         uint64
	sprayWindows      uint64
	dropped           map[events.DropReason]uint64
	speeds            map[uint64]float64
}

// New wires the pipeline. The daemon starts running; the control API can
// pause it
func New(cam camera.Source, det Detector, boom Boom, cfg Config, emit events.Emitter) *Svc {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.SpeedMPS <= 0 {
		cfg.SpeedMPS = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 2
	}
	if cfg.CircuitTrips <= 0 {
		cfg.CircuitTrips = 10
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 8
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 500 * time.Millisecond
	}
	if emit == nil {
		emit = events.Nop{}
	}

	now := time.Now
	return &Svc{
		log:     *logger.Named("pipeline"),
		emit:    emit,
		cam:     cam,
		det:     det,
		boom:    boom,
		ring:    frames.NewRing(cfg.BufferCapacity, cfg.StaleAfter),
		sched:   newScheduler(boom, now),
		cfg:     cfg,
		now:     now,
		mode:    domain.ModeRunning,
		since:   now(),
		dropped: make(map[events.DropReason]uint64),
		speeds:  make(map[uint64]float64),
	}
}

// Mode reports the current operating mode
func (s *Svc) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Enable implements domain.ControlPort
func (s *Svc) Enable(context.Context) error {
	if s.setMode(domain.ModeRunning, "operator enable", false) {
		return nil
	}
	if s.Mode() == domain.ModeFailsafe {
		return perr.Conflictf("pipeline in fail-safe; reset required")
	}
	return nil
}

// Disable implements domain.ControlPort
func (s *Svc) Disable(context.Context) error {
	if s.setMode(domain.ModePaused, "operator disable", false) {
		s.sched.cancelAll()
		s.boom.FailsafeAll()
		return nil
	}
	if s.Mode() == domain.ModeFailsafe {
		return perr.Conflictf("pipeline in fail-safe; reset required")
	}
	return nil
}

// ResetFailsafe implements domain.ControlPort
func (s *Svc) ResetFailsafe(context.Context) error {
	if s.Mode() != domain.ModeFailsafe {
		return perr.Conflictf("pipeline not in fail-safe")
	}
	s.boom.ResetFaults()
	s.setMode(domain.ModeRunning, "operator reset", true)
	return nil
}

// Pulse implements domain.ControlPort. Manual fire is only allowed while
// paused so it cannot race the scheduler
func (s *Svc) Pulse(_ context.Context, nozzle int, open time.Duration) error {
	if s.Mode() != domain.ModePaused {
		return perr.Conflictf("manual pulse requires a paused pipeline")
	}
	if err := s.boom.Enqueue(nozzle, actuator.ActionOpen); err != nil {
		return err
	}
	time.AfterFunc(open, func() {
		if err := s.boom.Enqueue(nozzle, actuator.ActionClose); err != nil {
			s.log.Warn().Err(err).Int("nozzle", nozzle).Msg("pulse close rejected")
		}
	})
	return nil
}

// Status implements domain.ControlPort
func (s *Svc) Status(context.Context) domain.Status {
	rs := s.ring.Stats()
	ds := s.det.Stats()
	bs := s.boom.Stats()

	s.mu.Lock()
	st := domain.Status{
		Mode:          s.mode,
		FailsafeCause: s.failsafeCause,
		Since:         s.since,
		Captured:      s.captured,
		CaptureErrors: s.captureErrs,
		Completed:     s.completed,
		SprayWindows:  s.sprayWindows,
	}
	if len(s.dropped) > 0 {
		st.Dropped = make(map[string]uint64, len(s.dropped))
		for r, n := range s.dropped {
			st.Dropped[string(r)] = n
		}
	}
	s.mu.Unlock()

	st.Buffer = domain.BufferStatus{
		Queued:             s.ring.Len(),
		EvictedOverflow:    rs.EvictedOverflow,
		DroppedStale:       rs.DroppedStale,
		RejectedOutOfOrder: rs.RejectedOutOfOrder,
	}
	st.Detect = domain.DetectStatus{
		Breaker:      ds.BreakerState,
		InFlight:     ds.InFlight,
		Submitted:    ds.Submitted,
		Completed:    ds.Completed,
		TimedOut:     ds.TimedOut,
		RemoteErrors: ds.RemoteErrors,
		LateDiscards: ds.LateDiscards,
	}
	st.Boom = domain.BoomStatus{
		FaultedNozzles: s.boom.FaultedNozzles(),
		Acked:          bs.Acked,
		Retries:        bs.Retries,
		Superseded:     bs.Superseded,
		Faults:         bs.Faults,
	}
	return st
}

// setMode switches the operating mode. Fail-safe can only be left when
// allowFromFailsafe is set; everything else is a plain transition
func (s *Svc) setMode(to domain.Mode, cause string, allowFromFailsafe bool) bool {
	s.mu.Lock()
	from := s.mode
	if from == to || (from == domain.ModeFailsafe && !allowFromFailsafe) {
		s.mu.Unlock()
		return false
	}
	s.mode = to
	s.failsafeCause = ""
	if to == domain.ModeFailsafe {
		s.failsafeCause = cause
	}
	if to == domain.ModeRunning {
		s.breakerRejections = 0
	}
	now := s.now()
	s.since = now
	s.mu.Unlock()

	s.log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("cause", cause).
		Msg("pipeline mode change")
	s.emit.Emit(events.PipelineTransition{From: string(from), To: string(to), Cause: cause, TS: now})
	return true
}

// enterFailsafe latches fail-safe once and closes every nozzle
func (s *Svc) enterFailsafe(cause string) {
	if !s.setMode(domain.ModeFailsafe, cause, false) {
		return
	}
	s.sched.cancelAll()
	s.boom.FailsafeAll()
}

func (s *Svc) drop(frameID uint64, reason events.DropReason) {
	s.mu.Lock()
	s.dropped[reason]++
	delete(s.speeds, frameID)
	s.mu.Unlock()
	s.emit.Emit(events.FrameDropped{FrameID: frameID, Reason: reason, TS: s.now()})
}

// Package detect submits frames to the remote detection service and resolves
// them asynchronously under an in-flight cap and a circuit breaker
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"sprayer/internal/core/events"
	"sprayer/internal/core/frames"
	perr "sprayer/internal/platform/errors"
	"sprayer/internal/platform/logger"
)

const (
	detectPath      = "/api/detect"
	maxResponseBody = 1 << 20
)

// Options configures the Client
type Options struct {
	// BaseURL of the detection service, e.g. http://detector:5050
	BaseURL string
	// MaxLatency bounds each request: the deadline is CapturedAt + MaxLatency
	MaxLatency time.Duration
	// MaxInFlight caps unresolved submissions; more fail with Overloaded
	MaxInFlight int

	// Breaker tuning
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerCooldownMax time.Duration
}

// Stats is a counter snapshot for the status endpoint
type Stats struct {
	InFlight         int
	Submitted        uint64
	Completed        uint64
	TimedOut         uint64
	RemoteErrors     uint64
	LateDiscards     uint64
	RejectedOverload uint64
	RejectedBreaker  uint64
	BreakerState     string
}

// pending is one unresolved submission keyed by frame id
type pending struct {
	capturedAt time.Time
	timer      *time.Timer
}

// Client is the asynchronous inference client. Submit never blocks on the
// network; completions (success, timeout, error) arrive on Completions()
type Client struct {
	http *http.Client
	opts Options
	log  logger.Logger
	brk  *breaker
	emit events.Emitter

	mu       sync.Mutex
	inflight map[uint64]*pending
	closed   bool

	submitted        uint64
	completed        uint64
	timedOut         uint64
	remoteErrors     uint64
	lateDiscards     uint64
	rejectedOverload uint64
	rejectedBreaker  uint64

	completions chan Completion
	stop        chan struct{}

	now func() time.Time
}

// NewClient creates a Client. emit receives breaker transition events and
// may be events.Nop
func NewClient(o Options, emit events.Emitter) *Client {
	if o.MaxLatency <= 0 {
		o.MaxLatency = 350 * time.Millisecond
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 2
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 2 * time.Second
	}
	if o.BreakerCooldownMax < o.BreakerCooldown {
		o.BreakerCooldownMax = o.BreakerCooldown
	}
	if emit == nil {
		emit = events.Nop{}
	}

	c := &Client{
		// the per-request deadline is enforced via request contexts, not here
		http:        &http.Client{},
		opts:        o,
		log:         *logger.Named("detect"),
		emit:        emit,
		inflight:    make(map[uint64]*pending, o.MaxInFlight),
		completions: make(chan Completion, o.MaxInFlight*2+8),
		stop:        make(chan struct{}),
		now:         time.Now,
	}
	c.brk = newBreaker(o.BreakerThreshold, o.BreakerCooldown, o.BreakerCooldownMax)
	c.brk.onTransition = func(from, to string, cooldown time.Duration) {
		c.log.Warn().Str("from", from).Str("to", to).Dur("cooldown", cooldown).Msg("breaker transition")
		c.emit.Emit(events.BreakerTransition{From: from, To: to, Cooldown: cooldown, TS: c.now()})
	}
	return c
}

// Completions delivers one Completion per accepted submission
func (c *Client) Completions() <-chan Completion { return c.completions }

// BreakerState returns the current breaker state name
func (c *Client) BreakerState() string { return c.brk.current() }

// Stats returns a counter snapshot
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		InFlight:         len(c.inflight),
		Submitted:        c.submitted,
		Completed:        c.completed,
		TimedOut:         c.timedOut,
		RemoteErrors:     c.remoteErrors,
		LateDiscards:     c.lateDiscards,
		RejectedOverload: c.rejectedOverload,
		RejectedBreaker:  c.rejectedBreaker,
		BreakerState:     c.brk.current(),
	}
}

// Submit registers the frame and posts it on a worker goroutine. It fails
// immediately with Overloaded at the in-flight cap and with Unavailable
// while the breaker is open; both without touching the network. On success
// frame ownership passes to the client until the completion is delivered
func (c *Client) Submit(ctx context.Context, f *frames.Frame) error {
	if f == nil {
		return perr.InvalidArgf("nil frame")
	}
	if !c.brk.allow() {
		c.mu.Lock()
		c.rejectedBreaker++
		c.mu.Unlock()
		return perr.Unavailablef("detection circuit open")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return perr.Unavailablef("client closed")
	}
	if len(c.inflight) >= c.opts.MaxInFlight {
		c.rejectedOverload++
		c.mu.Unlock()
		return perr.Overloadedf("max in-flight %d reached", c.opts.MaxInFlight)
	}
	if _, dup := c.inflight[f.ID]; dup {
		c.mu.Unlock()
		return perr.InvalidArgf("frame %d already in flight", f.ID)
	}

	p := &pending{capturedAt: f.CapturedAt}
	deadline := f.CapturedAt.Add(c.opts.MaxLatency)
	wait := deadline.Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	id := f.ID
	p.timer = time.AfterFunc(wait, func() { c.expire(id) })
	c.inflight[id] = p
	c.submitted++
	c.mu.Unlock()

	go c.roundTrip(ctx, f, deadline)
	return nil
}

// expire resolves a pending entry as timed out. A response that arrives
// afterwards finds no entry and is discarded
func (c *Client) expire(id uint64) {
	c.mu.Lock()
	p, ok := c.inflight[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.inflight, id)
	c.timedOut++
	c.mu.Unlock()

	c.brk.failure()
	c.log.Debug().Uint64("frame_id", id).Msg("inference timed out")
	c.deliver(Completion{
		FrameID:    id,
		CapturedAt: p.capturedAt,
		Err:        perr.TimedOutf("no detection within %s", c.opts.MaxLatency),
		Latency:    c.opts.MaxLatency,
	})
}

// resolve settles a pending entry with a response or transport error.
// Unknown ids (already expired, never submitted) are counted and dropped
func (c *Client) resolve(id uint64, res *Result, cause error, latency time.Duration) {
	c.mu.Lock()
	p, ok := c.inflight[id]
	if !ok {
		c.lateDiscards++
		c.mu.Unlock()
		c.log.Debug().Uint64("frame_id", id).Msg("late response discarded")
		return
	}
	delete(c.inflight, id)
	if cause != nil {
		c.remoteErrors++
	} else {
		c.completed++
	}
	c.mu.Unlock()

	p.timer.Stop()
	if cause != nil {
		c.brk.failure()
	} else {
		c.brk.success()
	}

	c.deliver(Completion{
		FrameID:    id,
		CapturedAt: p.capturedAt,
		Result:     res,
		Err:        cause,
		Latency:    latency,
	})
}

func (c *Client) deliver(comp Completion) {
	select {
	case c.completions <- comp:
	case <-c.stop:
	}
}

// roundTrip posts the frame image and resolves the pending entry
func (c *Client) roundTrip(ctx context.Context, f *frames.Frame, deadline time.Time) {
	rctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(
		rctx, http.MethodPost, c.opts.BaseURL+detectPath, bytes.NewReader(f.Image))
	if err != nil {
		c.resolve(f.ID, nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "detect request build failed"), 0)
		return
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Frame-ID", strconv.FormatUint(f.ID, 10))

	start := c.now()
	resp, err := c.http.Do(req)
	lat := c.now().Sub(start)
	if err != nil {
		// request-context deadline races the expiry timer; whichever resolves
		// first wins, the loser finds the entry gone
		c.resolve(f.ID, nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "detect transport error"), lat)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		c.resolve(f.ID, nil, perr.Newf(perr.ErrorCodeUnavailable, "detect remote status %d", resp.StatusCode), lat)
		return
	}

	var wire wireResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&wire); err != nil {
		c.resolve(f.ID, nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "detect response decode failed"), lat)
		return
	}

	c.log.Debug().
		Uint64("frame_id", f.ID).
		Int("count", wire.Count).
		Dur("latency", lat).
		Msg("detections received")

	c.resolve(f.ID, &Result{FrameID: f.ID, Boxes: wire.detections()}, nil, lat)
}

// Close cancels pending timers and unblocks deliveries. In-flight HTTP
// requests die with their caller's context
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, p := range c.inflight {
		p.timer.Stop()
		delete(c.inflight, id)
	}
	c.mu.Unlock()
	close(c.stop)
}

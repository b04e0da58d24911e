// Package actuator drives the nozzle boom over an acknowledged serial
// protocol.
//
// Per nozzle at most one command is in flight: a newer command supersedes
// the pending one, so the boom always converges on the freshest desired
// state. Unacknowledged commands are retried with the same sequence
// number; a nozzle that exhausts its retries is forced CLOSE and latched
// as faulted until an operator reset.
package actuator

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"sprayer/internal/core/events"
	perr "sprayer/internal/platform/errors"
	"sprayer/internal/platform/logger"
)

// Options tunes the channel. Zero values take defaults
type Options struct {
	// Nozzles is the boom width in nozzles
	Nozzles int
	// AckTimeout is how long to wait for an acknowledgement per attempt
	AckTimeout time.Duration
	// MaxRetries is how many times an unacknowledged command is resent
	MaxRetries int
}

// Fault reports a nozzle that exhausted its retries. Delivered once per
// fault on Faults
type Fault struct {
	Nozzle   int
	Attempts int
}

// Stats is a point-in-time snapshot of channel counters
type Stats struct {
	Enqueued     uint64
	Acked        uint64
	Retries      uint64
	Superseded   uint64
	Faults       uint64
	UnknownAcks  uint64
	RejectedAcks uint64
	ScanDrops    uint64
	Pending      int
}

// slot is the single in-flight command for one nozzle
type slot struct {
	cmd      Command
	attempts int
	timer    *time.Timer
}

// Channel serializes all writes to the port through one goroutine and
// matches acknowledgements back to pending commands by sequence number
type Channel struct {
	port Port
	opts Options
	log  logger.Logger
	emit events.Emitter
	now  func() time.Time

	// the write loop takes no channel locks, so sends under mu cannot
	// deadlock
	writeCh    chan []byte
	faultCh    chan Fault
	stop       chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	closed     atomic.Bool

	mu           sync.Mutex
	seq          uint8
	pending      map[uint8]*slot
	faulted      map[uint8]bool
	enqueued     uint64
	acked        uint64
	retries      uint64
	superseded   uint64
	faults       uint64
	unknownAcks  uint64
	rejectedAcks uint64
	scanDrops    uint64
}

// NewChannel starts the writer and acknowledgement reader over port
func NewChannel(port Port, o Options, emit events.Emitter) *Channel {
	if o.Nozzles <= 0 {
		o.Nozzles = 4
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 50 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if emit == nil {
		emit = events.Nop{}
	}

	c := &Channel{
		port:       port,
		opts:       o,
		log:        *logger.Named("actuator"),
		emit:       emit,
		now:        time.Now,
		writeCh:    make(chan []byte, 64),
		faultCh:    make(chan Fault, 8),
		stop:       make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		pending:    make(map[uint8]*slot),
		faulted:    make(map[uint8]bool),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Enqueue requests an action on one nozzle, superseding any command still
// awaiting its acknowledgement for that nozzle
func (c *Channel) Enqueue(nozzle int, action Action) error {
	if nozzle < 0 || nozzle >= c.opts.Nozzles {
		return perr.InvalidArgf("nozzle %d out of range 0..%d", nozzle, c.opts.Nozzles-1)
	}
	nz := uint8(nozzle)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return perr.Unavailablef("actuator channel closed")
	}
	if c.faulted[nz] {
		return perr.ActuatorFaultf("nozzle %d latched faulted", nozzle)
	}

	if old := c.pending[nz]; old != nil {
		// acks for the old sequence will land as unknown and be ignored
		old.timer.Stop()
		c.superseded++
	}

	cmd := Command{Seq: c.nextSeqLocked(), Nozzle: nz, Action: action}
	sl := &slot{cmd: cmd, attempts: 1}
	c.pending[nz] = sl
	c.armLocked(nz, sl)
	c.enqueued++
	c.writeCh <- cmd.encode()
	return nil
}

// FailsafeAll cancels every pending command and forces all nozzles CLOSE.
// The channel stays usable afterwards
func (c *Channel) FailsafeAll() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepPendingLocked()
	c.queueAllCloseLocked()
	c.log.Warn().Msg("failsafe close on all nozzles")
}

// Close forces all nozzles CLOSE, flushes the writes and releases the
// port. Safe to call more than once
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	c.sweepPendingLocked()
	c.queueAllCloseLocked()
	c.mu.Unlock()

	close(c.stop)
	// the write loop drains queued frames before exiting, so the
	// all-close goes out before the port is released
	<-c.writerDone
	err := c.port.Close()
	<-c.readerDone
	return err
}

// Faults delivers each latched fault once
func (c *Channel) Faults() <-chan Fault { return c.faultCh }

// FaultedNozzles lists the currently latched nozzles in order
func (c *Channel) FaultedNozzles() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.faulted) == 0 {
		return nil
	}
	out := make([]int, 0, len(c.faulted))
	for nz := range c.faulted {
		out = append(out, int(nz))
	}
	slices.Sort(out)
	return out
}

// ResetFaults clears every latched fault, re-admitting those nozzles
func (c *Channel) ResetFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.faulted)
}

// Stats snapshots the channel counters
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Enqueued:     c.enqueued,
		Acked:        c.acked,
		Retries:      c.retries,
		Superseded:   c.superseded,
		Faults:       c.faults,
		UnknownAcks:  c.unknownAcks,
		RejectedAcks: c.rejectedAcks,
		ScanDrops:    c.scanDrops,
		Pending:      len(c.pending),
	}
}

// nextSeqLocked returns the next sequence number not held by a pending
// command
func (c *Channel) nextSeqLocked() uint8 {
	for {
		c.seq++
		live := false
		for _, sl := range c.pending {
			if sl.cmd.Seq == c.seq {
				live = true
				break
			}
		}
		if !live {
			return c.seq
		}
	}
}

// armLocked starts the ack timer for the slot's current attempt
func (c *Channel) armLocked(nz uint8, sl *slot) {
	seq, attempt := sl.cmd.Seq, sl.attempts
	sl.timer = time.AfterFunc(c.opts.AckTimeout, func() {
		c.onAckTimeout(nz, seq, attempt)
	})
}

func (c *Channel) onAckTimeout(nz, seq uint8, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl := c.pending[nz]
	if sl == nil || sl.cmd.Seq != seq || sl.attempts != attempt {
		// acked, superseded or already advanced
		return
	}
	c.retryOrExhaustLocked(nz, sl)
}

// retryOrExhaustLocked resends the slot's command with the same sequence
// number, or on exhaustion forces the nozzle CLOSE and latches the fault
func (c *Channel) retryOrExhaustLocked(nz uint8, sl *slot) {
	if sl.attempts <= c.opts.MaxRetries {
		sl.attempts++
		c.retries++
		c.log.Warn().
			Uint8("nozzle", nz).
			Uint8("seq", sl.cmd.Seq).
			Int("attempt", sl.attempts).
			Msg("ack missing, retrying")
		c.armLocked(nz, sl)
		c.writeCh <- sl.cmd.encode()
		return
	}

	delete(c.pending, nz)
	c.faulted[nz] = true
	c.faults++
	c.writeCh <- Command{Seq: c.nextSeqLocked(), Nozzle: nz, Action: ActionClose}.encode()
	c.log.Error().
		Uint8("nozzle", nz).
		Int("attempts", sl.attempts).
		Msg("nozzle unresponsive, forced closed")
	select {
	case c.faultCh <- Fault{Nozzle: int(nz), Attempts: sl.attempts}:
	default:
	}
	c.emit.Emit(events.NozzleFault{Nozzle: int(nz), Attempts: sl.attempts, TS: c.now()})
}

func (c *Channel) onAck(seq, status uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var nz uint8
	var sl *slot
	for n, s := range c.pending {
		if s.cmd.Seq == seq {
			nz, sl = n, s
			break
		}
	}
	if sl == nil {
		// late ack for a superseded or exhausted command
		c.unknownAcks++
		return
	}

	sl.timer.Stop()
	if status == ackOK {
		delete(c.pending, nz)
		c.acked++
		return
	}
	// REJECTED counts as a nack and reenters the retry path
	c.rejectedAcks++
	c.retryOrExhaustLocked(nz, sl)
}

func (c *Channel) sweepPendingLocked() {
	for nz, sl := range c.pending {
		sl.timer.Stop()
		delete(c.pending, nz)
	}
}

func (c *Channel) queueAllCloseLocked() {
	for nz := 0; nz < c.opts.Nozzles; nz++ {
		c.writeCh <- Command{Seq: c.nextSeqLocked(), Nozzle: uint8(nz), Action: ActionClose}.encode()
	}
}

func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case frame := <-c.writeCh:
			c.write(frame)
		case <-c.stop:
			for {
				select {
				case frame := <-c.writeCh:
					c.write(frame)
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) write(frame []byte) {
	if _, err := c.port.Write(frame); err != nil && !c.closed.Load() {
		c.log.Error().Err(err).Msg("serial write failed")
	}
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)
	scan := frameScanner{size: ackFrameLen}
	buf := make([]byte, 64)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			bodies, skipped := scan.feed(buf[:n])
			if skipped > 0 {
				c.mu.Lock()
				c.scanDrops += uint64(skipped)
				c.mu.Unlock()
			}
			for _, b := range bodies {
				c.onAck(b[0], b[1])
			}
		}
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn().Err(err).Msg("serial read failed")
			select {
			case <-c.stop:
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

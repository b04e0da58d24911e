package actuator

import (
	"io"
	"slices"
	"sync"
	"time"
)

// MCUSim is an in-process stand-in for the nozzle controller. Write feeds
// it command frames, Read yields the acknowledgements it produces. It
// backs loopback runs of the daemon and the package tests.
//
// The behaviour knobs (AckDelay, DropAcks, CorruptAcks, Reject) must be
// set before the channel starts talking to it. Read assumes a single
// reader
type MCUSim struct {
	// AckDelay delays each acknowledgement by this much
	AckDelay time.Duration
	// DropAcks suppresses every acknowledgement
	DropAcks bool
	// CorruptAcks flips the CRC of every acknowledgement
	CorruptAcks bool
	// Reject answers REJECTED for these nozzles
	Reject map[uint8]bool

	mu      sync.Mutex
	scan    frameScanner
	cmds    []Command
	states  map[uint8]Action
	rbuf    chan []byte
	partial []byte
	closed  chan struct{}
	once    sync.Once
}

// NewMCUSim returns a simulator with immediate, well-formed acks
func NewMCUSim() *MCUSim {
	return &MCUSim{
		scan:   frameScanner{size: cmdFrameLen},
		states: make(map[uint8]Action),
		rbuf:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Write decodes command frames and schedules their acknowledgements
func (m *MCUSim) Write(p []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	m.mu.Lock()
	bodies, _ := m.scan.feed(p)
	for _, body := range bodies {
		cmd := Command{Seq: body[0], Nozzle: body[1], Action: Action(body[2])}
		m.cmds = append(m.cmds, cmd)

		status := uint8(ackOK)
		if m.Reject[cmd.Nozzle] {
			status = ackRejected
		} else {
			m.states[cmd.Nozzle] = cmd.Action
		}

		if m.DropAcks {
			continue
		}
		frame := encodeAck(cmd.Seq, status)
		if m.CorruptAcks {
			frame[len(frame)-1] ^= 0xFF
		}
		time.AfterFunc(m.AckDelay, func() { m.push(frame) })
	}
	m.mu.Unlock()
	return len(p), nil
}

func (m *MCUSim) push(frame []byte) {
	select {
	case m.rbuf <- frame:
	case <-m.closed:
	}
}

// Read blocks until acknowledgement bytes are available or the sim closes
func (m *MCUSim) Read(p []byte) (int, error) {
	if len(m.partial) > 0 {
		n := copy(p, m.partial)
		m.partial = m.partial[n:]
		return n, nil
	}
	select {
	case b := <-m.rbuf:
		n := copy(p, b)
		if n < len(b) {
			m.partial = b[n:]
		}
		return n, nil
	case <-m.closed:
		return 0, io.EOF
	}
}

// Close unblocks Read and rejects further Writes
func (m *MCUSim) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// Commands returns every command frame decoded so far, in arrival order
func (m *MCUSim) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.cmds)
}

// State reports the last applied action for a nozzle
func (m *MCUSim) State(nozzle uint8) (Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.states[nozzle]
	return a, ok
}

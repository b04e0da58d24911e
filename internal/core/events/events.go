// Package events defines the typed telemetry stream the pipeline publishes
package events

import (
	"encoding/json"
	"time"
)

// Event is implemented by everything published on the telemetry stream
type Event interface {
	// Type is the stable event name, also used as the topic suffix
	Type() string
	// At is when the event happened
	At() time.Time
	// ToJSON renders the event payload
	ToJSON() ([]byte, error)
}

// Emitter receives every pipeline event. Implementations must not block
// the caller; dropping on a congested transport is acceptable
type Emitter interface {
	Emit(ev Event)
}

// Nop discards all events
type Nop struct{}

// Emit implements Emitter
func (Nop) Emit(Event) {}

// DropReason says why a frame left the pipeline without actuation
type DropReason string

const (
	// DropStale means the frame aged past the staleness threshold in the ring
	DropStale DropReason = "stale"
	// DropOverflow means the ring evicted the frame to make room
	DropOverflow DropReason = "overflow"
	// DropOutOfOrder means the frame's capture time did not advance
	DropOutOfOrder DropReason = "out_of_order"
	// DropOverloaded means the in-flight cap rejected the submission
	DropOverloaded DropReason = "overloaded"
	// DropBreakerOpen means the circuit breaker rejected the submission
	DropBreakerOpen DropReason = "breaker_open"
	// DropTimedOut means no detection arrived within the latency budget
	DropTimedOut DropReason = "timed_out"
	// DropRemoteError means the detection service failed the request
	DropRemoteError DropReason = "remote_error"
	// DropUnactionable means every mapped window was already in the past
	DropUnactionable DropReason = "unactionable"
	// DropSuppressed means the detection landed while the pipeline was
	// paused or in fail-safe
	DropSuppressed DropReason = "suppressed"
)

// FrameDone reports one frame that completed the full loop
type FrameDone struct {
	FrameID    uint64        `json:"frame_id"`
	Latency    time.Duration `json:"latency_ms"`
	Detections int           `json:"detections"`
	Windows    int           `json:"windows"`
	TS         time.Time     `json:"ts"`
}

// Type implements Event
func (e FrameDone) Type() string { return "frame_done" }

// At implements Event
func (e FrameDone) At() time.Time { return e.TS }

// ToJSON implements Event
func (e FrameDone) ToJSON() ([]byte, error) { return json.Marshal(e) }

// FrameDropped reports a frame that left the pipeline without actuation
type FrameDropped struct {
	FrameID uint64     `json:"frame_id"`
	Reason  DropReason `json:"reason"`
	TS      time.Time  `json:"ts"`
}

// Type implements Event
func (e FrameDropped) Type() string { return "frame_dropped" }

// At implements Event
func (e FrameDropped) At() time.Time { return e.TS }

// ToJSON implements Event
func (e FrameDropped) ToJSON() ([]byte, error) { return json.Marshal(e) }

// BreakerTransition reports a circuit breaker state change
type BreakerTransition struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Cooldown time.Duration `json:"cooldown_ms,omitempty"`
	TS       time.Time     `json:"ts"`
}

// Type implements Event
func (e BreakerTransition) Type() string { return "breaker_transition" }

// At implements Event
func (e BreakerTransition) At() time.Time { return e.TS }

// ToJSON implements Event
func (e BreakerTransition) ToJSON() ([]byte, error) { return json.Marshal(e) }

// NozzleFault reports a nozzle that exhausted its ack retries and was
// forced closed. Emitted exactly once per fault
type NozzleFault struct {
	Nozzle   int       `json:"nozzle"`
	Attempts int       `json:"attempts"`
	TS       time.Time `json:"ts"`
}

// Type implements Event
func (e NozzleFault) Type() string { return "nozzle_fault" }

// At implements Event
func (e NozzleFault) At() time.Time { return e.TS }

// ToJSON implements Event
func (e NozzleFault) ToJSON() ([]byte, error) { return json.Marshal(e) }

// PipelineTransition reports a pipeline-wide state change, including the
// FAILSAFE entry with its cause
type PipelineTransition struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Cause string    `json:"cause,omitempty"`
	TS    time.Time `json:"ts"`
}

// Type implements Event
func (e PipelineTransition) Type() string { return "pipeline_transition" }

// At implements Event
func (e PipelineTransition) At() time.Time { return e.TS }

// ToJSON implements Event
func (e PipelineTransition) ToJSON() ([]byte, error) { return json.Marshal(e) }

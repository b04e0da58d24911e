// Package domain defines the public ports and types for the spray pipeline
package domain

import "time"

// Mode is the pipeline-wide operating mode
type Mode string

const (
	// ModeRunning means frames flow from capture to actuation
	ModeRunning Mode = "running"
	// ModePaused means the operator disabled spraying; capture idles
	ModePaused Mode = "paused"
	// ModeFailsafe means every nozzle was forced closed after a hard
	// fault; only an operator reset leaves it
	ModeFailsafe Mode = "failsafe"
)

// BufferStatus reports the frame ring
type BufferStatus struct {
	Queued             int    `json:"queued"`
	EvictedOverflow    uint64 `json:"evicted_overflow"`
	DroppedStale       uint64 `json:"dropped_stale"`
	RejectedOutOfOrder uint64 `json:"rejected_out_of_order"`
}

// DetectStatus reports the inference client
type DetectStatus struct {
	Breaker      string `json:"breaker"`
	InFlight     int    `json:"in_flight"`
	Submitted    uint64 `json:"submitted"`
	Completed    uint64 `json:"completed"`
	TimedOut     uint64 `json:"timed_out"`
	RemoteErrors uint64 `json:"remote_errors"`
	LateDiscards uint64 `json:"late_discards"`
}

// BoomStatus reports the actuator channel
type BoomStatus struct {
	FaultedNozzles []int  `json:"faulted_nozzles,omitempty"`
	Acked          uint64 `json:"acked"`
	Retries        uint64 `json:"retries"`
	Superseded     uint64 `json:"superseded"`
	Faults         uint64 `json:"faults"`
}

// Status is the control-plane snapshot of the whole pipeline
type Status struct {
	Mode          Mode              `json:"mode"`
	FailsafeCause string            `json:"failsafe_cause,omitempty"`
	Since         time.Time         `json:"since"`
	Captured      uint64            `json:"captured"`
	CaptureErrors uint64            `json:"capture_errors"`
	Completed     uint64            `json:"completed"`
	SprayWindows  uint64            `json:"spray_windows"`
	Dropped       map[string]uint64 `json:"dropped,omitempty"`
	Buffer        BufferStatus      `json:"buffer"`
	Detect        DetectStatus      `json:"detect"`
	Boom          BoomStatus        `json:"boom"`
}

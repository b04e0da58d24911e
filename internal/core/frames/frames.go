// Package frames implements the bounded capture buffer between the camera and inference layers
package frames

import "time"

// Frame is one captured camera image. Immutable once captured; the ring
// owns it until PopReady hands it downstream
type Frame struct {
	// ID is a monotonic sequence number assigned by the capture source
	ID uint64
	// CapturedAt is the capture timestamp used for all latency math
	CapturedAt time.Time
	// Image is the encoded image payload (JPEG from the capture source)
	Image []byte
	// Odometry is an optional vehicle snapshot taken at capture time
	Odometry *Odometry
}

// Odometry is a vehicle state snapshot paired with a frame
type Odometry struct {
	// SpeedMPS is ground speed in meters per second
	SpeedMPS float64
	// RecordedAt is when the snapshot was taken, may differ slightly from capture
	RecordedAt time.Time
}

// Age returns how long ago the frame was captured
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}

// Speed returns the odometry speed if present, else fallback
func (f *Frame) Speed(fallback float64) float64 {
	if f.Odometry != nil && f.Odometry.SpeedMPS > 0 {
		return f.Odometry.SpeedMPS
	}
	return fallback
}

// Package camera produces timestamped frames for the capture pump.
//
// Two sources exist: a gocv-backed webcam behind the gocv build tag, and
// a synthetic source for loopback runs and benches without hardware
package camera

import (
	"context"

	"sprayer/internal/core/frames"
)

// Source yields one frame per call. Implementations stamp CapturedAt at
// acquisition and assign strictly increasing frame ids
type Source interface {
	Grab(ctx context.Context) (*frames.Frame, error)
	Close() error
}

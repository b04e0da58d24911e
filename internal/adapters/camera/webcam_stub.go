//go:build !gocv
// +build !gocv

package camera

import (
	"context"

	"sprayer/internal/core/frames"
	perr "sprayer/internal/platform/errors"
)

// Webcam is unavailable without the gocv build tag
type Webcam struct{}

// OpenWebcam fails when built without the gocv tag
func OpenWebcam(device string, width, height int) (*Webcam, error) {
	return nil, perr.CaptureFailedf("webcam support requires the gocv build tag")
}

// Grab implements Source
func (w *Webcam) Grab(ctx context.Context) (*frames.Frame, error) {
	return nil, perr.CaptureFailedf("webcam support requires the gocv build tag")
}

// Close implements Source
func (w *Webcam) Close() error { return nil }

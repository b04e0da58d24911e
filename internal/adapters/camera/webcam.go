//go:build gocv
// +build gocv

package camera

import (
	"context"
	"slices"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"sprayer/internal/core/frames"
	perr "sprayer/internal/platform/errors"
)

// Webcam captures JPEG frames from a V4L2 device through gocv
type Webcam struct {
	mu   sync.Mutex
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	id   uint64
	last time.Time
}

// OpenWebcam opens device ("0", "/dev/video0", ...) at the requested
// resolution. Zero dimensions keep the driver defaults
func OpenWebcam(device string, width, height int) (*Webcam, error) {
	cap, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeCaptureFailure, "open camera %s", device)
	}
	if width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &Webcam{cap: cap, mat: gocv.NewMat()}, nil
}

// Grab implements Source. The webcam carries no odometry, so the frame's
// speed comes from the configured fallback downstream
func (w *Webcam) Grab(ctx context.Context) (*frames.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ok := w.cap.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, perr.CaptureFailedf("camera read returned no frame")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, w.mat)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeCaptureFailure, "encode frame")
	}
	defer buf.Close()

	now := time.Now()
	if !now.After(w.last) {
		now = w.last.Add(time.Microsecond)
	}
	w.last = now
	w.id++

	return &frames.Frame{
		ID:         w.id,
		CapturedAt: now,
		Image:      slices.Clone(buf.GetBytes()),
	}, nil
}

// Close releases the device
func (w *Webcam) Close() error {
	w.mat.Close()
	return w.cap.Close()
}

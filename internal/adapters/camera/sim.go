package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"sprayer/internal/core/frames"
)

// Sim synthesizes frames without hardware. Every grab returns the same
// encoded image with a fresh id, capture time and odometry reading
type Sim struct {
	payload []byte
	speed   float64
	now     func() time.Time

	mu   sync.Mutex
	id   uint64
	last time.Time
}

// NewSim builds a source of width x height frames reporting speedMPS as
// ground speed
func NewSim(width, height int, speedMPS float64) *Sim {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// soil-toned gradient with row banding, enough texture to
			// keep the JPEG non-trivial
			img.Set(x, y, color.RGBA{
				R: uint8(70 + (x*40)/width),
				G: uint8(55 + (y*50)/height + (y%16)*2),
				B: 35,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})

	return &Sim{payload: buf.Bytes(), speed: speedMPS, now: time.Now}
}

// Grab implements Source
func (s *Sim) Grab(ctx context.Context) (*frames.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := s.now()
	if !now.After(s.last) {
		// capture times must advance for the ring to accept the frame
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	s.id++
	id := s.id
	s.mu.Unlock()

	return &frames.Frame{
		ID:         id,
		CapturedAt: now,
		Image:      s.payload,
		Odometry:   &frames.Odometry{SpeedMPS: s.speed, RecordedAt: now},
	}, nil
}

// Close implements Source
func (s *Sim) Close() error { return nil }

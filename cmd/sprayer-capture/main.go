package main

import (
	"context"
	"flag"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sprayer/internal/adapters/camera"
	"sprayer/internal/platform/config"
	"sprayer/internal/platform/logger"
)

// Capture probe: pulls frames from the configured source as fast as it
// will go and reports rate and payload statistics
func main() {
	_ = godotenv.Load()

	var (
		fFrames = flag.Int("frames", 50, "number of frames to pull")
		fRate   = flag.Float64("rate", 0, "paced capture rate in fps (0 = flat out)")
	)
	flag.Parse()

	root := config.New()
	st := config.Load(root.Prefix("SPRAYER_"))
	l := logger.Get()

	var cam camera.Source
	if st.Camera.Source == "device" {
		c, err := camera.OpenWebcam(strconv.Itoa(st.Camera.Device), st.Camera.Width, st.Camera.Height)
		if err != nil {
			l.Fatal().Err(err).Int("device", st.Camera.Device).Msg("failed to open camera device")
		}
		cam = c
	} else {
		cam = camera.NewSim(st.Camera.Width, st.Camera.Height, st.Speed.FixedMPS)
	}
	defer func() {
		if err := cam.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close camera")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tick <-chan time.Time
	if *fRate > 0 {
		t := time.NewTicker(time.Duration(float64(time.Second) / *fRate))
		defer t.Stop()
		tick = t.C
	}

	var (
		grabbed  int
		failures int
		bytes    int64
		minB     int
		maxB     int
	)
	start := time.Now()
	for i := 0; i < *fFrames; i++ {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
		f, err := cam.Grab(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			l.Warn().Err(err).Msg("grab failed")
			continue
		}
		n := len(f.Image)
		if grabbed == 0 || n < minB {
			minB = n
		}
		if n > maxB {
			maxB = n
		}
		grabbed++
		bytes += int64(n)
	}
	elapsed := time.Since(start)

	evt := l.Info().
		Str("source", st.Camera.Source).
		Int("grabbed", grabbed).
		Int("failures", failures).
		Dur("elapsed", elapsed)
	if grabbed > 0 {
		evt = evt.
			Float64("fps", float64(grabbed)/elapsed.Seconds()).
			Int64("avg_bytes", bytes/int64(grabbed)).
			Int("min_bytes", minB).
			Int("max_bytes", maxB)
	}
	evt.Msg("capture probe done")
}

package camera

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSim_GrabAdvancesIDAndCaptureTime(t *testing.T) {
	s := NewSim(64, 48, 1.5)

	a, err := s.Grab(context.Background())
	require.NoError(t, err)
	b, err := s.Grab(context.Background())
	require.NoError(t, err)

	require.Equal(t, uint64(1), a.ID)
	require.Equal(t, uint64(2), b.ID)
	require.True(t, b.CapturedAt.After(a.CapturedAt))

	require.NotNil(t, a.Odometry)
	require.Equal(t, 1.5, a.Odometry.SpeedMPS)
	require.Equal(t, 1.5, a.Speed(0.3))
}

func TestSim_PayloadIsJPEG(t *testing.T) {
	s := NewSim(64, 48, 1)

	f, err := s.Grab(context.Background())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(f.Image, []byte{0xFF, 0xD8}), "missing JPEG SOI marker")
}

func TestSim_MonotonicUnderFrozenClock(t *testing.T) {
	s := NewSim(8, 8, 1)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	a, err := s.Grab(context.Background())
	require.NoError(t, err)
	b, err := s.Grab(context.Background())
	require.NoError(t, err)
	require.True(t, b.CapturedAt.After(a.CapturedAt))
}

func TestSim_GrabHonoursContext(t *testing.T) {
	s := NewSim(8, 8, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Grab(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

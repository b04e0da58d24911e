// Package geometry maps image-space detections into timed nozzle actuation windows
package geometry

import (
	"math"
	"time"
)

// Box is an image-space rectangle in pixels, top-left origin, corner format
type Box struct {
	X1, Y1, X2, Y2 float64
}

// CenterX returns the horizontal box center
func (b Box) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// Top returns the smaller row coordinate (furthest ahead of the boom)
func (b Box) Top() float64 { return math.Min(b.Y1, b.Y2) }

// Bottom returns the larger row coordinate (closest to the boom)
func (b Box) Bottom() float64 { return math.Max(b.Y1, b.Y2) }

// Detection is one classified box from the detection service
type Detection struct {
	Class      int
	Confidence float64
	Box        Box
}

// Window is the interval during which a nozzle must be open to hit a target
type Window struct {
	Nozzle  int
	OpenAt  time.Time
	CloseAt time.Time
}

// Geometry describes the rig: a forward-looking camera mounted ahead of a
// nozzle boom. The image's bottom row is the near edge of the camera
// footprint, MountOffset ahead of the boom line; the top row is the far edge
type Geometry struct {
	// FOVDeg is the along-travel field of view in degrees
	FOVDeg float64
	// CameraHeightM is the lens height above ground in meters
	CameraHeightM float64
	// MountOffsetM is the distance from the footprint's near edge to the boom line
	MountOffsetM float64
	// BoomWidthM is the full boom span covered by the image width
	BoomWidthM float64
	// Nozzles is the number of evenly spaced nozzles across the boom
	Nozzles int
	// ImageW, ImageH are the capture resolution in pixels
	ImageW, ImageH int
	// LeadMargin widens each window on both sides to absorb timing jitter
	LeadMargin time.Duration
	// MinOpen is the shortest commanded open duration the hardware can honor
	MinOpen time.Duration
}

// FootprintLenM is the along-travel ground length covered by the image
func (g Geometry) FootprintLenM() float64 {
	half := g.FOVDeg * math.Pi / 360
	return 2 * g.CameraHeightM * math.Tan(half)
}

// distAheadM converts an image row to ground distance ahead of the boom line
func (g Geometry) distAheadM(row float64) float64 {
	frac := (float64(g.ImageH) - row) / float64(g.ImageH)
	return g.MountOffsetM + g.FootprintLenM()*frac
}

// nozzleFor picks the nozzle whose lateral band covers the box center
func (g Geometry) nozzleFor(centerX float64) int {
	n := int(centerX / float64(g.ImageW) * float64(g.Nozzles))
	if n < 0 {
		n = 0
	}
	if n >= g.Nozzles {
		n = g.Nozzles - 1
	}
	return n
}

func (g Geometry) valid() bool {
	return g.Nozzles >= 1 && g.ImageW > 0 && g.ImageH > 0 &&
		g.FOVDeg > 0 && g.FOVDeg < 180 && g.CameraHeightM > 0
}

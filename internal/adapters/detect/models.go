package detect

import (
	"time"

	"sprayer/internal/core/geometry"
)

// wireResponse is the detection service payload: parallel arrays plus a
// count, boxes in [x1,y1,x2,y2] pixel corner form
type wireResponse struct {
	Count         int          `json:"count"`
	Classes       []int        `json:"classes"`
	Confidences   []float64    `json:"confidences"`
	BoundingBoxes [][4]float64 `json:"bounding_boxes"`
}

// detections converts the wire arrays into typed detections. Short class or
// confidence arrays zero-fill rather than fail; the box list is authoritative
func (w wireResponse) detections() []geometry.Detection {
	n := w.Count
	if n > len(w.BoundingBoxes) {
		n = len(w.BoundingBoxes)
	}
	if n <= 0 {
		return nil
	}
	out := make([]geometry.Detection, 0, n)
	for i := 0; i < n; i++ {
		d := geometry.Detection{
			Box: geometry.Box{
				X1: w.BoundingBoxes[i][0],
				Y1: w.BoundingBoxes[i][1],
				X2: w.BoundingBoxes[i][2],
				Y2: w.BoundingBoxes[i][3],
			},
		}
		if i < len(w.Classes) {
			d.Class = w.Classes[i]
		}
		if i < len(w.Confidences) {
			d.Confidence = w.Confidences[i]
		}
		out = append(out, d)
	}
	return out
}

// Result is a successful detection response correlated to its frame
type Result struct {
	FrameID uint64
	Boxes   []geometry.Detection
}

// Completion resolves one submitted frame: either Result or Err is set.
// Completions arrive on the client's channel in resolution order, which may
// differ from submission order
type Completion struct {
	FrameID    uint64
	CapturedAt time.Time
	Result     *Result
	Err        error
	Latency    time.Duration
}

package geometry

import (
	"sort"
	"time"
)

// Map projects a frame's detections into actuation windows. speedMPS is the
// vehicle ground speed at capture, capturedAt the frame timestamp, now the
// evaluation instant. Targets move toward the boom while inference runs, so
// windows are computed from capture time and anything already past at now is
// discarded rather than clamped. Overlapping windows for a nozzle are merged.
// Returns nil when nothing is actionable
func Map(dets []Detection, g Geometry, speedMPS float64, capturedAt, now time.Time) []Window {
	if !g.valid() || speedMPS <= 0 || len(dets) == 0 {
		return nil
	}

	wins := make([]Window, 0, len(dets))
	for _, d := range dets {
		// leading edge reaches the boom first, trailing edge last
		leadAt := capturedAt.Add(secs(g.distAheadM(d.Box.Bottom()) / speedMPS))
		trailAt := capturedAt.Add(secs(g.distAheadM(d.Box.Top()) / speedMPS))

		w := Window{
			Nozzle:  g.nozzleFor(d.Box.CenterX()),
			OpenAt:  leadAt.Add(-g.LeadMargin),
			CloseAt: trailAt.Add(g.LeadMargin),
		}
		if min := w.OpenAt.Add(g.MinOpen); w.CloseAt.Before(min) {
			w.CloseAt = min
		}
		if !w.CloseAt.After(now) {
			continue
		}
		wins = append(wins, w)
	}
	if len(wins) == 0 {
		return nil
	}
	return mergePerNozzle(wins)
}

// mergePerNozzle unions overlapping or touching intervals per nozzle and
// returns the result ordered by open time, then nozzle
func mergePerNozzle(wins []Window) []Window {
	sort.Slice(wins, func(i, j int) bool {
		if wins[i].Nozzle != wins[j].Nozzle {
			return wins[i].Nozzle < wins[j].Nozzle
		}
		return wins[i].OpenAt.Before(wins[j].OpenAt)
	})

	out := wins[:0]
	for _, w := range wins {
		if n := len(out); n > 0 && out[n-1].Nozzle == w.Nozzle && !w.OpenAt.After(out[n-1].CloseAt) {
			if w.CloseAt.After(out[n-1].CloseAt) {
				out[n-1].CloseAt = w.CloseAt
			}
			continue
		}
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenAt.Equal(out[j].OpenAt) {
			return out[i].OpenAt.Before(out[j].OpenAt)
		}
		return out[i].Nozzle < out[j].Nozzle
	})
	return out
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

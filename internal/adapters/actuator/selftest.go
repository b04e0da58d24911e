package actuator

import (
	"context"
	"time"

	perr "sprayer/internal/platform/errors"
)

// SelfTestResult is the outcome for one nozzle of the boom check
type SelfTestResult struct {
	Nozzle int
	OK     bool
	Err    error
}

// SelfTest cycles every nozzle OPEN then CLOSE and reports per-nozzle
// success. interval spaces the two actions so the valves are observable
// on a bench
func SelfTest(ctx context.Context, ch *Channel, interval time.Duration) []SelfTestResult {
	results := make([]SelfTestResult, 0, ch.opts.Nozzles)
	for nz := 0; nz < ch.opts.Nozzles; nz++ {
		results = append(results, cycleNozzle(ctx, ch, nz, interval))
	}
	return results
}

func cycleNozzle(ctx context.Context, ch *Channel, nz int, interval time.Duration) SelfTestResult {
	for _, action := range []Action{ActionOpen, ActionClose} {
		if err := ch.Enqueue(nz, action); err != nil {
			return SelfTestResult{Nozzle: nz, Err: err}
		}
		if err := ch.awaitSettled(ctx, nz); err != nil {
			return SelfTestResult{Nozzle: nz, Err: err}
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
				return SelfTestResult{Nozzle: nz, Err: ctx.Err()}
			case <-time.After(interval):
			}
		}
	}
	return SelfTestResult{Nozzle: nz, OK: true}
}

// awaitSettled blocks until nz has no pending command, reporting an error
// if the nozzle latched a fault on the way
func (c *Channel) awaitSettled(ctx context.Context, nz int) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for {
		c.mu.Lock()
		_, pend := c.pending[uint8(nz)]
		faulted := c.faulted[uint8(nz)]
		c.mu.Unlock()

		if faulted {
			return perr.ActuatorFaultf("nozzle %d latched faulted", nz)
		}
		if !pend {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

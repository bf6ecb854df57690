package engine

import (
	"context"
	"time"
)

// runHeartbeat refreshes the device presence record, once immediately and
// then on every tick, so the clinic sees the device within one interval of
// it coming up.
func (e *Engine) runHeartbeat(ctx context.Context) {
	if e.deps.Presence == nil {
		return
	}

	e.beat(ctx)
	tick := time.NewTicker(e.set.HeartbeatInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			e.beat(ctx)
		}
	}
}

func (e *Engine) beat(ctx context.Context) {
	if err := e.deps.Presence.Heartbeat(ctx, e.set.DeviceID); err != nil {
		e.deps.Obs.LogError("heartbeat failed", err)
		return
	}
	e.deps.Obs.IncCounter("dhara_heartbeats_total", 1)
}

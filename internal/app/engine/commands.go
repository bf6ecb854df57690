package engine

import (
	"context"
	"fmt"
	"time"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

func (e *Engine) runCommands(ctx context.Context) {
	tick := time.NewTicker(e.set.CommandIdlePoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			e.handleCommand(ctx, cmd)
		case <-tick.C:
			e.pruneProcessed()
		}
	}
}

// handleCommand validates and applies one command, then acknowledges it
// exactly once. A redelivered command is re-acked without reprocessing so
// a retried delivery can never double-apply.
func (e *Engine) handleCommand(ctx context.Context, cmd domain.Command) {
	now := e.deps.Clock.Now()
	e.deps.Obs.IncCounter("dhara_commands_total", 1)

	if e.alreadyProcessed(cmd.ID) {
		e.ack(ctx, cmd.ID, domain.AckResult{ProcessedAt: now})
		return
	}

	var err error
	if !cmd.IssuedAt.IsZero() && now.Sub(cmd.IssuedAt) > e.set.Staleness {
		err = fmt.Errorf("%w: issued %s ago", domain.ErrStaleCommand, now.Sub(cmd.IssuedAt).Truncate(time.Second))
	} else {
		err = e.applyCommand(ctx, cmd, now)
	}

	res := domain.AckResult{ProcessedAt: now}
	if err != nil {
		res.Err = domain.ReasonFor(err)
		e.deps.Obs.IncCounter("dhara_commands_rejected_total", 1)
		e.deps.Obs.LogError("command rejected", err,
			ports.Field{Key: "command", Value: cmd.Name},
			ports.Field{Key: "command_id", Value: cmd.ID})
	} else {
		e.deps.Obs.LogInfo("command applied",
			ports.Field{Key: "command", Value: cmd.Name},
			ports.Field{Key: "command_id", Value: cmd.ID})
	}

	e.markProcessed(cmd.ID, now)
	e.ack(ctx, cmd.ID, res)
}

func (e *Engine) applyCommand(ctx context.Context, cmd domain.Command, now time.Time) error {
	switch cmd.Name {
	case domain.CmdStartSession:
		return e.handleStart(ctx, cmd, now)
	case domain.CmdStopSession:
		e.finalizeSession(ctx)
		return nil
	case domain.CmdEmergencyStop:
		e.emergencyStop(ctx, "manual_command", 0, false)
		return nil
	case domain.CmdSetFlow:
		return e.handleSetFlow(ctx, cmd)
	case domain.CmdSetTemp:
		return e.handleSetTemp(ctx, cmd)
	case domain.CmdSetMode:
		return e.handleSetMode(cmd)
	case domain.CmdSetPower:
		// reserved, acknowledged without effect
		return nil
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd.Name)
}

func (e *Engine) handleStart(ctx context.Context, cmd domain.Command, now time.Time) error {
	if e.hub.Snapshot().Active() {
		return domain.ErrSessionActive
	}
	patientID, _ := cmd.Str("patientId")
	sessionID, _ := cmd.Str("sessionId")
	if patientID == "" || sessionID == "" {
		return fmt.Errorf("%w: patientId and sessionId are required", domain.ErrMissingValue)
	}

	cfg := e.set.SessionDefaults
	if e.deps.Store != nil {
		fetched, err := e.deps.Store.FetchConfig(ctx, patientID, sessionID)
		if err != nil {
			e.deps.Obs.LogError("session config fetch failed, using defaults", err,
				ports.Field{Key: "session_id", Value: sessionID})
		} else {
			cfg = fetched
		}
	}
	if cfg.Duration <= 0 {
		cfg.Duration = e.set.SessionDefaults.Duration
	}
	if cfg.Mode != domain.ModeAuto && cfg.Mode != domain.ModeManual {
		cfg.Mode = domain.ModeManual
	}

	info := domain.SessionInfo{
		PatientID: patientID,
		SessionID: sessionID,
		StartedAt: now,
		Duration:  cfg.Duration,
	}
	if err := e.hub.Begin(info, cfg.Mode, cfg.InitialFlow, cfg.InitialTemp); err != nil {
		return err
	}
	e.pushTargets(ctx, cfg.InitialFlow, cfg.InitialTemp)
	e.deps.Obs.SetGauge("dhara_session_active", 1)

	if e.deps.Store != nil {
		if err := e.deps.Store.UpdateStatus(ctx, patientID, sessionID, domain.StatusActive, nil); err != nil {
			e.deps.Obs.LogError("session status update failed", err,
				ports.Field{Key: "session_id", Value: sessionID},
				ports.Field{Key: "status", Value: domain.StatusActive})
		}
	}
	e.deps.Obs.LogInfo("session started",
		ports.Field{Key: "patient_id", Value: patientID},
		ports.Field{Key: "session_id", Value: sessionID},
		ports.Field{Key: "mode", Value: string(cfg.Mode)},
		ports.Field{Key: "duration", Value: cfg.Duration})
	return nil
}

func (e *Engine) handleSetFlow(ctx context.Context, cmd domain.Command) error {
	v, ok := cmd.Float("value")
	if !ok {
		return fmt.Errorf("%w: value", domain.ErrMissingValue)
	}
	if v < e.set.Limits.FlowMin {
		return fmt.Errorf("%w: flow %.1f below %.1f", domain.ErrUnsafeValue, v, e.set.Limits.FlowMin)
	}
	if err := e.hub.SetFlow(v); err != nil {
		return err
	}
	e.pushFlow(ctx, v)
	return nil
}

func (e *Engine) handleSetTemp(ctx context.Context, cmd domain.Command) error {
	v, ok := cmd.Float("value")
	if !ok {
		return fmt.Errorf("%w: value", domain.ErrMissingValue)
	}
	if v > e.set.Limits.TempMax {
		return fmt.Errorf("%w: temp %.1f above %.1f", domain.ErrUnsafeValue, v, e.set.Limits.TempMax)
	}
	if err := e.hub.SetTemp(v); err != nil {
		return err
	}
	e.pushTemp(ctx, v)
	return nil
}

func (e *Engine) handleSetMode(cmd domain.Command) error {
	raw, ok := cmd.Str("value")
	if !ok {
		return fmt.Errorf("%w: value", domain.ErrMissingValue)
	}
	mode, ok := domain.ParseMode(raw)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrInvalidMode, raw)
	}
	return e.hub.SetMode(mode)
}

func (e *Engine) alreadyProcessed(id string) bool {
	if id == "" {
		return false
	}
	e.procMu.Lock()
	defer e.procMu.Unlock()
	_, ok := e.processed[id]
	return ok
}

func (e *Engine) markProcessed(id string, at time.Time) {
	if id == "" {
		return
	}
	e.procMu.Lock()
	e.processed[id] = at
	e.procMu.Unlock()
}

// pruneProcessed forgets command IDs old enough that the source would
// reject them as stale before redelivering.
func (e *Engine) pruneProcessed() {
	cutoff := e.deps.Clock.Now().Add(-2 * e.set.Staleness)
	e.procMu.Lock()
	for id, at := range e.processed {
		if at.Before(cutoff) {
			delete(e.processed, id)
		}
	}
	e.procMu.Unlock()
}

func (e *Engine) ack(ctx context.Context, id string, res domain.AckResult) {
	if err := e.deps.Commands.Ack(ctx, id, res); err != nil {
		e.deps.Obs.LogError("command ack failed", err, ports.Field{Key: "command_id", Value: id})
	}
}

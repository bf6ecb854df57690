// Package session holds the device's mutable session state behind a single
// mutex. Terminal outcomes (completed, stopped, emergency) are transitions
// back to idle, not resting states; their side effects belong to the caller.
package session

import (
	"sync"
	"time"

	"dharaflow/internal/domain"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
)

func (p Phase) String() string {
	if p == PhaseActive {
		return "active"
	}
	return "idle"
}

// Snapshot is a consistent copy of the hub state at one instant. Info is
// the zero value whenever Phase is idle; the two can never disagree because
// they are copied under one lock.
type Snapshot struct {
	Phase Phase
	Mode  domain.Mode
	Info  domain.SessionInfo
	Flow  float64
	Temp  float64
}

func (s Snapshot) Active() bool { return s.Phase == PhaseActive }

// Elapsed is the session age at now, zero when idle. It is always measured
// against the device-local start instant.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if !s.Active() {
		return 0
	}
	return now.Sub(s.Info.StartedAt)
}

// Hub is the single owner of mutable session state. Every transition is
// guarded: a second start while active and any stop while idle fail with
// the matching sentinel, which is what makes stop and emergency idempotent
// at the engine level.
type Hub struct {
	mu    sync.Mutex
	phase Phase
	mode  domain.Mode
	info  domain.SessionInfo
	flow  float64
	temp  float64
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) Begin(info domain.SessionInfo, mode domain.Mode, flow, temp float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase == PhaseActive {
		return domain.ErrSessionActive
	}
	h.phase = PhaseActive
	h.info = info
	h.mode = mode
	h.flow = flow
	h.temp = temp
	return nil
}

// End transitions back to idle and returns the session that was running so
// the caller can finish its side effects.
func (h *Hub) End() (domain.SessionInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseActive {
		return domain.SessionInfo{}, domain.ErrNoActiveSession
	}
	info := h.info
	h.phase = PhaseIdle
	h.info = domain.SessionInfo{}
	h.mode = ""
	h.flow = 0
	h.temp = 0
	return info, nil
}

func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Phase: h.phase, Mode: h.mode, Info: h.info, Flow: h.flow, Temp: h.temp}
}

func (h *Hub) SetMode(m domain.Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseActive {
		return domain.ErrNoActiveSession
	}
	h.mode = m
	return nil
}

// SetFlow applies an operator flow setpoint. Operator setpoints always
// switch the session to manual mode in the same critical section, so the
// auto curve can never overwrite the override on its next tick.
func (h *Hub) SetFlow(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseActive {
		return domain.ErrNoActiveSession
	}
	h.flow = v
	h.mode = domain.ModeManual
	return nil
}

// SetTemp applies an operator temperature setpoint, forcing manual mode
// like SetFlow.
func (h *Hub) SetTemp(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseActive {
		return domain.ErrNoActiveSession
	}
	h.temp = v
	h.mode = domain.ModeManual
	return nil
}

// SetTargets applies a flow/temp pair in one step, used by the auto curve
// so telemetry never observes a half-applied update.
func (h *Hub) SetTargets(flow, temp float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseActive {
		return domain.ErrNoActiveSession
	}
	h.flow = flow
	h.temp = temp
	return nil
}

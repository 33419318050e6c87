// Package turn tracks per-empire order readiness and the timers that drive
// forced turn advancement and periodic autosaves.
package turn

import (
	"log/slog"
	"time"

	"github.com/starlane-games/starlane-server/internal/dependencies/clock"
	"github.com/starlane-games/starlane-server/internal/model"
)

// empireState is the coordinator's view of one playable empire
type empireState struct {
	id         model.EmpireID
	ready      bool
	autoTurns  int // remaining auto-submitted turns; negative means unbounded
	eliminated bool
}

// Callbacks are invoked from the coordinator while a reactor handler runs,
// except the timer hooks, which fire on timer goroutines and must post into
// the event loop.
type Callbacks struct {
	// StatusChanged reports an empire flipping between playing and waiting
	StatusChanged func(model.EmpireID, model.PlayerStatus)
	// TurnTimerExpired fires when the turn timer elapses
	TurnTimerExpired func()
	// AutosaveDue fires when the autosave interval elapses
	AutosaveDue func()
}

// Coordinator decides when a turn may advance. It lives inside the playing
// states and is only touched from the reactor goroutine.
type Coordinator struct {
	clock  clock.Clock
	logger *slog.Logger

	turnTimeout      time.Duration
	fixedInterval    bool
	autosaveInterval time.Duration

	callbacks Callbacks

	empires map[model.EmpireID]*empireState

	turnTimer     clock.Timer
	autosaveTimer clock.Timer
}

// NewCoordinator creates a coordinator with no tracked empires
func NewCoordinator(
	clk clock.Clock,
	turnTimeout time.Duration,
	fixedInterval bool,
	autosaveInterval time.Duration,
	callbacks Callbacks,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		clock:            clk,
		turnTimeout:      turnTimeout,
		fixedInterval:    fixedInterval,
		autosaveInterval: autosaveInterval,
		callbacks:        callbacks,
		empires:          make(map[model.EmpireID]*empireState),
		logger:           logger,
	}
}

// TrackEmpire registers a playable empire. Idempotent.
func (c *Coordinator) TrackEmpire(id model.EmpireID) {
	if _, ok := c.empires[id]; !ok {
		c.empires[id] = &empireState{id: id}
	}
}

// Eliminate marks an empire as out of the game; it no longer gates turn end
func (c *Coordinator) Eliminate(id model.EmpireID) {
	if e, ok := c.empires[id]; ok {
		e.eliminated = true
	}
}

// Eliminated reports whether the empire has been eliminated
func (c *Coordinator) Eliminated(id model.EmpireID) bool {
	e, ok := c.empires[id]
	return ok && e.eliminated
}

// Ready reports whether the empire has submitted orders this turn
func (c *Coordinator) Ready(id model.EmpireID) bool {
	e, ok := c.empires[id]
	return ok && e.ready
}

// SetReady marks an empire's orders as received and broadcasts its status
func (c *Coordinator) SetReady(id model.EmpireID) {
	e, ok := c.empires[id]
	if !ok || e.eliminated || e.ready {
		return
	}
	e.ready = true
	c.callbacks.StatusChanged(id, model.StatusWaiting)
}

// RevokeReady clears an empire's readiness, e.g. on RevokeReadiness or a
// revert of submitted orders
func (c *Coordinator) RevokeReady(id model.EmpireID) {
	e, ok := c.empires[id]
	if !ok || e.eliminated || !e.ready {
		return
	}
	e.ready = false
	c.callbacks.StatusChanged(id, model.StatusPlayingTurn)
}

// SetAutoTurns arms automatic order submission for the next count turns.
// Zero cancels; negative runs until cancelled.
func (c *Coordinator) SetAutoTurns(id model.EmpireID, count int) {
	if e, ok := c.empires[id]; ok {
		e.autoTurns = count
	}
}

// AutoTurnsRemaining returns the empire's pending auto-turn count
func (c *Coordinator) AutoTurnsRemaining(id model.EmpireID) int {
	if e, ok := c.empires[id]; ok {
		return e.autoTurns
	}
	return 0
}

// BeginTurn resets readiness for a new waiting period, applies auto-turn
// counters, and arms the turn and autosave timers. Empires whose auto-turn
// counter is live are immediately ready.
func (c *Coordinator) BeginTurn() {
	for _, e := range c.empires {
		if e.eliminated {
			continue
		}
		if e.autoTurns != 0 {
			if e.autoTurns > 0 {
				e.autoTurns--
			}
			e.ready = true
			c.callbacks.StatusChanged(e.id, model.StatusWaiting)
		} else {
			e.ready = false
			c.callbacks.StatusChanged(e.id, model.StatusPlayingTurn)
		}
	}
	c.armTimers()
}

// EndTurn cancels both timers on leaving the waiting state
func (c *Coordinator) EndTurn() {
	c.cancelTimers()
}

func (c *Coordinator) armTimers() {
	c.cancelTimers()
	if c.turnTimeout > 0 {
		c.turnTimer = c.clock.AfterFunc(c.turnTimeout, c.callbacks.TurnTimerExpired)
	}
	if c.autosaveInterval > 0 {
		c.autosaveTimer = c.clock.AfterFunc(c.autosaveInterval, c.callbacks.AutosaveDue)
	}
}

func (c *Coordinator) cancelTimers() {
	if c.turnTimer != nil {
		c.turnTimer.Stop()
		c.turnTimer = nil
	}
	if c.autosaveTimer != nil {
		c.autosaveTimer.Stop()
		c.autosaveTimer = nil
	}
}

// RearmAutosave schedules the next autosave after one fires while the
// waiting state persists
func (c *Coordinator) RearmAutosave() {
	if c.autosaveTimer != nil {
		c.autosaveTimer.Stop()
	}
	if c.autosaveInterval > 0 {
		c.autosaveTimer = c.clock.AfterFunc(c.autosaveInterval, c.callbacks.AutosaveDue)
	}
}

// AllReady reports whether every non-eliminated tracked empire is ready
func (c *Coordinator) AllReady() bool {
	any := false
	for _, e := range c.empires {
		if e.eliminated {
			continue
		}
		any = true
		if !e.ready {
			return false
		}
	}
	return any
}

// ShouldAdvance is the turn-end predicate. The turn advances when every
// playable empire is ready with no moderator present (unless the policy is
// fixed-interval, which waits out the full interval to equalize cadence),
// when a moderator explicitly ends the turn, or when the turn timer fires.
func (c *Coordinator) ShouldAdvance(moderatorPresent, moderatorEndedTurn, timerFired bool) bool {
	if moderatorEndedTurn {
		return true
	}
	if timerFired {
		return true
	}
	if moderatorPresent {
		// With a moderator watching, only their end-turn advances
		return false
	}
	if c.fixedInterval && c.turnTimeout > 0 {
		return false
	}
	return c.AllReady()
}

// LiveEmpires returns the ids of non-eliminated tracked empires
func (c *Coordinator) LiveEmpires() []model.EmpireID {
	var out []model.EmpireID
	for id, e := range c.empires {
		if !e.eliminated {
			out = append(out, id)
		}
	}
	return out
}

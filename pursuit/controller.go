package pursuit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"pursuit-core/utils"
)

// ControllerState is the controller's complete mutable state. It is owned by
// one Controller and only copied out.
type ControllerState struct {
	CurrentSteer    float64
	TargetSteer     float64
	CurrentThrottle float64
	IsAttacking     bool

	Recovery RecoveryState
	Flip     FlipState
	Stuck    StuckState
}

// Controller runs one pursuit agent's decision logic. It is not safe for
// concurrent use: Tick and OnContact must be called from the same goroutine.
type Controller struct {
	cfg   Config
	state ControllerState
	log   *utils.Logger

	selfID string

	// Set by OnContact, consumed by the next Tick.
	pendingContact bool
	lastContact    ContactEvent

	direction func() float64

	ticks     uint64
	resets    uint64
	recovered uint64
}

type Option func(*Controller)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log *utils.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithDirectionSource replaces the recovery coin flip. fn must return a
// value whose sign picks the turn side.
func WithDirectionSource(fn func() float64) Option {
	return func(c *Controller) { c.direction = fn }
}

// NewController validates cfg and builds a controller for the body selfID.
func NewController(selfID string, cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pursuit config: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	c := &Controller{
		cfg:    cfg,
		selfID: selfID,
		direction: func() float64 {
			if rng.IntN(2) == 0 {
				return -1
			}
			return 1
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) Config() Config { return c.cfg }

// State returns a copy of the controller state.
func (c *Controller) State() ControllerState { return c.state }

// OnContact records a collision for the next tick. It only sets a flag:
// contacts below MinCollisionForce, contacts not involving this agent and
// contacts with the pursuit target are ignored.
func (c *Controller) OnContact(ev ContactEvent, targetID string) bool {
	other, ok := ev.Other(c.selfID)
	if !ok {
		return false
	}
	if targetID != "" && other == targetID {
		return false
	}
	if ev.ImpactForce <= c.cfg.MinCollisionForce {
		return false
	}
	c.pendingContact = true
	c.lastContact = ev
	return true
}

// Tick runs one decision step. target is nil when no target is available.
// Priority: flip handling, then collision recovery, then pursuit.
func (c *Controller) Tick(now time.Time, self AgentPose, target *TargetInfo) Decision {
	c.ticks++
	s := &c.state
	d := Decision{At: now}

	switch stepFlip(c.cfg, &s.Flip, now, self) {
	case flipReset:
		reset := resetPose(c.cfg, self)
		d.Reset = &reset
		c.resets++
		c.log.Warn("flip reset #%d: lifting to (%.2f, %.2f, %.2f)",
			c.resets, reset.Position.X(), reset.Position.Y(), reset.Position.Z())
		c.clearRecovery()
		return c.hold(d, ModeFlipReset)
	case flipPending:
		c.pendingContact = false
		return c.hold(d, ModeFlipped)
	}

	distance := math.Inf(1)
	if target != nil {
		d.HasTarget = true
		d.Tracking = Track(self, target.Pose)
		distance = d.Tracking.Distance
	}

	if !s.Recovery.Active() {
		switch {
		case stepStuck(c.cfg, &s.Stuck, now, self, distance, s.CurrentThrottle):
			d.Trigger = TriggerStuck
		case c.pendingContact:
			d.Trigger = TriggerContact
		}
		if d.Trigger != TriggerNone && startRecovery(&s.Recovery, now, c.direction()) {
			c.log.Info("recovery start: trigger=%s direction=%+.0f contact=%+v stuck=%d",
				d.Trigger, s.Recovery.Direction, c.lastContact, s.Stuck.Counter)
		}
	}
	c.pendingContact = false

	if s.Recovery.Active() {
		before := s.Recovery.Phase
		cmd, ok := stepRecovery(c.cfg, &s.Recovery, now)
		if before != s.Recovery.Phase {
			c.log.Debug("recovery phase %s -> %s", before, s.Recovery.Phase)
		}
		if ok {
			d.Phase = s.Recovery.Phase
			s.TargetSteer = clampSteer(cmd.Steer, c.cfg.MaxSteer)
			s.CurrentSteer = s.TargetSteer
			s.CurrentThrottle = cmd.Throttle
			s.IsAttacking = false
			d.Mode = ModeRecovery
			d.Command = Command{Steer: s.CurrentSteer, Throttle: s.CurrentThrottle}
			return d
		}
		c.finishRecovery()
	}

	if target == nil {
		return c.hold(d, ModeNoTarget)
	}

	s.TargetSteer = steerTarget(c.cfg, d.Tracking.Angle)
	s.CurrentSteer = smoothSteer(c.cfg, s.CurrentSteer, s.TargetSteer, d.Tracking.Alignment)
	s.CurrentThrottle, s.IsAttacking = throttleFor(c.cfg, d.Tracking.Distance, s.CurrentSteer)

	d.Mode = ModePursuit
	d.Command = Command{Steer: s.CurrentSteer, Throttle: s.CurrentThrottle}
	c.log.Trace("pursuit dist=%.2f align=%.3f angle=%.3f steer=%.3f/%.3f throttle=%.1f",
		d.Tracking.Distance, d.Tracking.Alignment, d.Tracking.Angle,
		s.CurrentSteer, s.TargetSteer, s.CurrentThrottle)
	return d
}

// hold zeroes every output for this tick.
func (c *Controller) hold(d Decision, mode Mode) Decision {
	s := &c.state
	s.CurrentSteer, s.TargetSteer, s.CurrentThrottle = 0, 0, 0
	s.IsAttacking = false
	d.Mode = mode
	d.Command = Command{}
	d.Phase = s.Recovery.Phase
	return d
}

// finishRecovery ends a sequence and forgets stuck history.
func (c *Controller) finishRecovery() {
	s := &c.state
	s.Recovery = RecoveryState{}
	s.Stuck.Reset()
	c.recovered++
	c.log.Info("recovery finished (#%d)", c.recovered)
}

// clearRecovery drops any recovery, stuck or pending contact state. Used by
// the flip reset.
func (c *Controller) clearRecovery() {
	c.state.Recovery = RecoveryState{}
	c.state.Stuck.Reset()
	c.pendingContact = false
}

// Diagnostics is a snapshot for logging and telemetry.
type Diagnostics struct {
	Ticks           uint64
	FlipResets      uint64
	Recoveries      uint64
	Phase           RecoveryPhase
	StuckCounter    int
	HistoryLen      int
	CurrentSteer    float64
	CurrentThrottle float64
}

func (c *Controller) Diagnostics() Diagnostics {
	return Diagnostics{
		Ticks:           c.ticks,
		FlipResets:      c.resets,
		Recoveries:      c.recovered,
		Phase:           c.state.Recovery.Phase,
		StuckCounter:    c.state.Stuck.Counter,
		HistoryLen:      c.state.Stuck.History.Len(),
		CurrentSteer:    c.state.CurrentSteer,
		CurrentThrottle: c.state.CurrentThrottle,
	}
}

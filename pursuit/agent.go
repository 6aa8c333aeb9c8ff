package pursuit

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"pursuit-core/lifecycle"
	"pursuit-core/sched"
	"pursuit-core/utils"
)

var (
	ErrMissingDependency = errors.New("missing dependency")
	ErrAlreadyStarted    = errors.New("agent already initialised")
	ErrDestroyed         = errors.New("agent destroyed")
)

// Vehicle is the actuator side of a wheeled vehicle.
type Vehicle interface {
	SetSteeringValue(value float64, wheel int)
	ApplyEngineForce(force float64, wheel int)
}

// Body exposes the agent's chassis to the controller.
type Body interface {
	BodyID() string
	Pose() AgentPose
}

// BodyResetter teleports a body and zeroes its linear and angular velocity.
type BodyResetter interface {
	ResetBody(position mgl64.Vec3, orientation mgl64.Quat)
}

// ContactSource delivers collision-begin payloads in whatever layout the
// physics binding produces. Callbacks must arrive on the loop goroutine.
type ContactSource interface {
	SubscribeContacts(fn func(raw any)) (unsubscribe func())
}

// TargetProvider answers the current pursuit target, if any.
type TargetProvider interface {
	Target() (TargetInfo, bool)
}

// TickObserver sees every decision after it was applied.
type TickObserver interface {
	ObserveTick(agentID string, d Decision)
}

// Deps are the collaborators an Agent is wired to. Loop, Body and Vehicle
// are required.
type Deps struct {
	Loop     *sched.Loop
	Body     Body
	Vehicle  Vehicle
	Resetter BodyResetter
	Contacts ContactSource
	Target   TargetProvider
	Observer TickObserver
	Log      *utils.Logger

	// ReleaseBody removes the chassis from the physics world on Destroy.
	ReleaseBody func() error
}

// Agent binds a Controller to a body, a vehicle and a scheduling loop. All
// methods must be called on the loop goroutine.
type Agent struct {
	id   string
	cfg  Config
	deps Deps
	log  *utils.Logger
	ctrl *Controller

	registry *lifecycle.Registry
	started  bool
	alive    bool

	last Decision
}

func NewAgent(cfg Config, deps Deps, opts ...Option) (*Agent, error) {
	switch {
	case deps.Loop == nil:
		return nil, fmt.Errorf("%w: loop", ErrMissingDependency)
	case deps.Body == nil:
		return nil, fmt.Errorf("%w: body", ErrMissingDependency)
	case deps.Vehicle == nil:
		return nil, fmt.Errorf("%w: vehicle", ErrMissingDependency)
	}

	id := deps.Body.BodyID()
	log := deps.Log.With("[" + id + "]")
	ctrl, err := NewController(id, cfg, append([]Option{WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Agent{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		log:      log,
		ctrl:     ctrl,
		registry: lifecycle.NewRegistry(log),
	}, nil
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Controller() *Controller { return a.ctrl }

// Alive reports whether the agent is initialised and not yet destroyed.
func (a *Agent) Alive() bool { return a.alive }

// LastDecision returns the most recent tick output.
func (a *Agent) LastDecision() Decision { return a.last }

// Init subscribes to contacts and starts the decision timer.
func (a *Agent) Init() error {
	if a.started {
		if !a.alive {
			return ErrDestroyed
		}
		return ErrAlreadyStarted
	}
	a.started = true
	a.alive = true

	if a.deps.ReleaseBody != nil {
		if _, err := a.registry.Add(lifecycle.BodyHandle("chassis", a.deps.ReleaseBody)); err != nil {
			return err
		}
	}
	if a.deps.Contacts != nil {
		unsubscribe := a.deps.Contacts.SubscribeContacts(a.onContact)
		if _, err := a.registry.Add(lifecycle.SubscriptionHandle("contacts", unsubscribe)); err != nil {
			return err
		}
	}
	timer := a.deps.Loop.Every("decide-"+a.id, a.cfg.DecisionPeriod.Duration, a.tick)
	if _, err := a.registry.Add(lifecycle.TimerHandle(timer)); err != nil {
		return err
	}

	a.log.Info("agent started: period=%s", a.cfg.DecisionPeriod)
	return nil
}

// Destroy stops the agent, zeroes its actuators and releases everything it
// acquired. Safe to call more than once and before Init.
func (a *Agent) Destroy() error {
	if !a.alive {
		a.started = true
		return a.registry.Close()
	}
	a.alive = false
	a.apply(Command{})
	err := a.registry.Close()
	d := a.ctrl.Diagnostics()
	a.log.Info("agent destroyed: ticks=%d recoveries=%d flip_resets=%d", d.Ticks, d.Recoveries, d.FlipResets)
	return err
}

func (a *Agent) tick(now time.Time) {
	if !a.alive {
		return
	}

	var target *TargetInfo
	if a.deps.Target != nil {
		if t, ok := a.deps.Target.Target(); ok {
			target = &t
		}
	}

	d := a.ctrl.Tick(now, a.deps.Body.Pose(), target)
	if d.Reset != nil {
		if a.deps.Resetter != nil {
			a.deps.Resetter.ResetBody(d.Reset.Position, d.Reset.Orientation)
		} else {
			a.log.Warn("flip reset requested but no resetter is wired")
		}
	}
	a.apply(d.Command)
	a.last = d

	if a.deps.Observer != nil {
		a.deps.Observer.ObserveTick(a.id, d)
	}
}

func (a *Agent) onContact(raw any) {
	if !a.alive {
		return
	}
	ev, err := NormalizeContact(raw)
	if err != nil {
		a.log.Warn("dropping contact: %v", err)
		return
	}
	targetID := ""
	if a.deps.Target != nil {
		if t, ok := a.deps.Target.Target(); ok {
			targetID = t.ID
		}
	}
	if a.ctrl.OnContact(ev, targetID) {
		a.log.Debug("contact with %s: impact=%.1f", otherBody(ev, a.id), ev.ImpactForce)
	}
}

func (a *Agent) apply(cmd Command) {
	for _, w := range a.cfg.SteerWheels {
		a.deps.Vehicle.SetSteeringValue(cmd.Steer, w)
	}
	for _, w := range a.cfg.DriveWheels {
		a.deps.Vehicle.ApplyEngineForce(cmd.Throttle, w)
	}
}

func otherBody(ev ContactEvent, self string) string {
	other, _ := ev.Other(self)
	return other
}

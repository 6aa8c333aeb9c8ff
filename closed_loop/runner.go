package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pursuit-core/lifecycle"
	"pursuit-core/pursuit"
	"pursuit-core/sched"
	"pursuit-core/sim"
	"pursuit-core/telemetry"
	"pursuit-core/utils"
)

const (
	ModeSim = "sim"
	ModeCAN = "can"
)

// Virtual runs start here so telemetry timestamps read as offsets.
var simEpoch = time.Unix(0, 0).UTC()

type RunnerConfig struct {
	Mode          string
	Interface     string
	MapPath       string
	ScenarioPath  string
	TelemetryPath string
}

type Runner struct {
	cfg     RunnerConfig
	log     *utils.Logger
	scen    Scenario
	ctrlCfg pursuit.Config

	loop     *sched.Loop
	registry *lifecycle.Registry
	recorder *telemetry.Recorder
	agent    *pursuit.Agent
	runID    string

	// sim mode
	world    *sim.World
	targetAt ScenarioBody

	// can mode
	bridge *CANBridge
	reader utils.CANReader

	modeTicks map[pursuit.Mode]int
	last      pursuit.Decision
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	return newRunner(ctx, cfg, scen, log)
}

func newRunner(ctx context.Context, cfg RunnerConfig, scen Scenario, log *utils.Logger) (*Runner, error) {
	ctrlCfg, err := scen.ControllerConfig()
	if err != nil {
		return nil, err
	}

	start := simEpoch
	if cfg.Mode == ModeCAN || scen.Timing.RealTimeMode {
		start = time.Now()
	}
	r := &Runner{
		cfg:       cfg,
		log:       log,
		scen:      scen,
		ctrlCfg:   ctrlCfg,
		loop:      sched.NewLoop(start),
		registry:  lifecycle.NewRegistry(log.With("[runner]")),
		modeTicks: map[pursuit.Mode]int{},
	}

	if cfg.TelemetryPath != "" {
		rec, err := telemetry.Open(cfg.TelemetryPath, log.With("[telemetry]"))
		if err != nil {
			return nil, err
		}
		r.recorder = rec
		if _, err := r.registry.Add(lifecycle.CloserHandle("telemetry", rec)); err != nil {
			return nil, err
		}
	}

	var deps pursuit.Deps
	switch cfg.Mode {
	case ModeSim:
		deps, err = r.setupSim()
	case ModeCAN:
		deps, err = r.setupCAN(ctx)
	default:
		err = fmt.Errorf("unknown mode %q (want %s or %s)", cfg.Mode, ModeSim, ModeCAN)
	}
	if err != nil {
		r.Close()
		return nil, err
	}

	deps.Loop = r.loop
	deps.Observer = r
	deps.Log = log
	r.agent, err = pursuit.NewAgent(ctrlCfg, deps)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("agent: %w", err)
	}
	return r, nil
}

func (r *Runner) setupSim() (pursuit.Deps, error) {
	wcfg, err := r.scen.WorldConfig()
	if err != nil {
		return pursuit.Deps{}, err
	}
	world, err := sim.NewWorld(wcfg, r.log.With("[sim]"))
	if err != nil {
		return pursuit.Deps{}, err
	}
	r.world = world

	car, err := world.SpawnCar(r.scen.Agent.ID, r.scen.Agent.Position, r.scen.Agent.Yaw)
	if err != nil {
		return pursuit.Deps{}, err
	}
	if r.scen.Target != nil {
		r.targetAt = r.scen.Target.ScenarioBody
		if err := r.spawnTarget(); err != nil {
			return pursuit.Deps{}, err
		}
	}
	for _, o := range r.scen.Obstacles {
		if _, err := world.AddObstacle(o); err != nil {
			return pursuit.Deps{}, err
		}
	}

	dt := r.scen.PhysicsStep()
	physics := r.loop.Every("physics", dt, func(time.Time) { world.Step(dt.Seconds()) })
	if _, err := r.registry.Add(lifecycle.TimerHandle(physics)); err != nil {
		return pursuit.Deps{}, err
	}
	for i, ev := range r.scen.Events {
		timer := r.loop.After(fmt.Sprintf("event-%d-%s", i, ev.Kind), ev.At(), func(time.Time) { r.applyEvent(ev) })
		if _, err := r.registry.Add(lifecycle.TimerHandle(timer)); err != nil {
			return pursuit.Deps{}, err
		}
	}

	agentID := car.BodyID()
	return pursuit.Deps{
		Body:        car,
		Vehicle:     car,
		Resetter:    car,
		Contacts:    world,
		Target:      world,
		ReleaseBody: func() error { return world.RemoveCar(agentID) },
	}, nil
}

func (r *Runner) spawnTarget() error {
	t := r.scen.Target
	car, err := r.world.SpawnCar(t.ID, r.targetAt.Position, r.targetAt.Yaw)
	if err != nil {
		return err
	}
	pid := sim.DefaultPIDConfig()
	if t.PID != nil {
		pid = *t.PID
	}
	r.world.AddDriver(sim.NewTargetDriver(car, t.Route, pid, t.MaxSteer))
	r.world.SetTarget(t.ID)
	return nil
}

func (r *Runner) applyEvent(ev ScenarioEvent) {
	r.log.Info("Event t=%.2fs %s %s", ev.AtS, ev.Kind, ev.Comment)
	switch ev.Kind {
	case EventObstacle:
		if _, err := r.world.AddObstacle(*ev.Obstacle); err != nil {
			r.log.Error("Event %s failed: %v", ev.Kind, err)
		}
	case EventRollOver:
		if car, ok := r.world.Car(r.scen.Agent.ID); ok {
			car.RollOver()
		}
	case EventDespawnTarget:
		id := r.scen.Target.ID
		if car, ok := r.world.Car(id); ok {
			// Respawn where it vanished.
			r.targetAt.Position = car.Pose().Position
			if yaw, ok := car.Pose().Yaw(); ok {
				r.targetAt.Yaw = yaw
			}
		}
		if err := r.world.RemoveCar(id); err != nil {
			r.log.Warn("Event %s: %v", ev.Kind, err)
		}
	case EventRespawnTarget:
		if _, ok := r.world.Car(r.scen.Target.ID); ok {
			return
		}
		if err := r.spawnTarget(); err != nil {
			r.log.Error("Event %s failed: %v", ev.Kind, err)
		}
	}
}

func (r *Runner) setupCAN(ctx context.Context) (pursuit.Deps, error) {
	cmap, err := utils.LoadCANMap(r.cfg.MapPath)
	if err != nil {
		return pursuit.Deps{}, fmt.Errorf("load can map: %w", err)
	}

	writer, err := utils.NewSocketCANWriter(ctx, r.cfg.Interface)
	if err != nil {
		return pursuit.Deps{}, err
	}
	if _, err := r.registry.Add(lifecycle.CloserHandle("can-writer", writer)); err != nil {
		return pursuit.Deps{}, err
	}
	contact, err := cmap.FrameByName(frameContact)
	if err != nil {
		return pursuit.Deps{}, fmt.Errorf("frame: %w", err)
	}
	reader, err := utils.NewSocketCANReader(ctx, r.cfg.Interface, contact.ID)
	if err != nil {
		return pursuit.Deps{}, err
	}
	r.reader = reader
	if _, err := r.registry.Add(lifecycle.CloserHandle("can-reader", reader)); err != nil {
		return pursuit.Deps{}, err
	}

	bcfg := BridgeConfig{BodyID: 1, TargetBodyID: 2}
	if c := r.scen.CAN; c != nil {
		bcfg = BridgeConfig{
			BodyID:        c.BodyID,
			TargetBodyID:  c.TargetBodyID,
			TargetTimeout: time.Duration(c.TargetTimeoutMS) * time.Millisecond,
		}
	}
	bridge, err := NewCANBridge(ctx, r.loop, cmap, writer, bcfg, r.log.With("[can]"))
	if err != nil {
		return pursuit.Deps{}, err
	}
	r.bridge = bridge
	if _, err := r.registry.Add(lifecycle.CloserHandle("can-bridge", bridge)); err != nil {
		return pursuit.Deps{}, err
	}

	return pursuit.Deps{
		Body:     bridge,
		Vehicle:  bridge,
		Resetter: bridge,
		Contacts: bridge,
		Target:   bridge,
	}, nil
}

// ObserveTick implements pursuit.TickObserver.
func (r *Runner) ObserveTick(agentID string, d pursuit.Decision) {
	r.modeTicks[d.Mode]++
	r.last = d
	if r.recorder != nil {
		r.recorder.ObserveTick(agentID, d)
	}
}

func (r *Runner) Run(ctx context.Context) error {
	start := r.loop.Now()
	end := start.Add(r.scen.Duration())

	r.log.Info("Starting run: scenario=%s mode=%s duration=%.2fs decision=%s physics=%s realtime=%v",
		r.scen.Meta.Name, r.cfg.Mode, r.scen.Timing.DurationS,
		r.ctrlCfg.DecisionPeriod, r.scen.PhysicsStep(), r.scen.Timing.RealTimeMode)

	if r.recorder != nil {
		id, err := r.recorder.StartRun(r.scen.Meta.Name, r.cfg.Mode, r.ctrlCfg, start)
		if err != nil {
			return err
		}
		r.runID = id
	}
	if err := r.agent.Init(); err != nil {
		return fmt.Errorf("agent init: %w", err)
	}
	if period := r.scen.LogPeriod(); period > 0 {
		r.loop.Every("status", period, func(now time.Time) {
			r.log.Info("t=%.1fs %s", now.Sub(start).Seconds(), r.status())
		})
	}

	var err error
	if r.cfg.Mode == ModeSim && !r.scen.Timing.RealTimeMode {
		err = r.runVirtual(ctx, end)
	} else {
		if r.bridge != nil {
			r.bridge.Start()
			go r.bridge.Listen(ctx, r.reader)
		}
		r.loop.After("end", r.scen.Duration(), func(time.Time) { r.loop.Stop() })
		err = r.loop.Run(ctx)
		if errors.Is(err, sched.ErrStopped) {
			err = nil
		}
	}

	finishErr := r.finish()
	if err != nil {
		return err
	}
	return finishErr
}

// runVirtual steps the loop one second at a time so a signal still stops a
// long simulation promptly.
func (r *Runner) runVirtual(ctx context.Context, end time.Time) error {
	for now := r.loop.Now(); now.Before(end); {
		if err := ctx.Err(); err != nil {
			r.log.Warn("Context canceled; stopping simulation")
			return err
		}
		now = now.Add(time.Second)
		if now.After(end) {
			now = end
		}
		r.loop.Step(now)
	}
	return nil
}

func (r *Runner) finish() error {
	errs := []error{r.agent.Destroy()}
	if r.recorder != nil && r.runID != "" {
		errs = append(errs, r.recorder.EndRun(r.loop.Now()))
		if s, err := r.recorder.Summarize(r.runID, r.agent.ID()); err == nil {
			r.log.Info("Run summary (%s):\n%s", r.runID, s)
		} else {
			r.log.Warn("No run summary: %v", err)
		}
	}
	d := r.agent.Controller().Diagnostics()
	r.log.Info("Completed run. ticks=%d recoveries=%d flip_resets=%d modes=%v",
		d.Ticks, d.Recoveries, d.FlipResets, r.modeTicks)
	return errors.Join(errs...)
}

func (r *Runner) status() string {
	d := r.last
	dist := "-"
	if d.HasTarget {
		dist = fmt.Sprintf("%.1f", d.Tracking.Distance)
	}
	return fmt.Sprintf("mode=%s phase=%s dist=%s steer=%+.3f throttle=%.0f",
		d.Mode, d.Phase, dist, d.Command.Steer, d.Command.Throttle)
}

// ModeTicks returns how many decision ticks ran in each mode.
func (r *Runner) ModeTicks() map[pursuit.Mode]int {
	out := make(map[pursuit.Mode]int, len(r.modeTicks))
	for k, v := range r.modeTicks {
		out[k] = v
	}
	return out
}

func (r *Runner) Close() {
	if r.agent != nil {
		if err := r.agent.Destroy(); err != nil {
			r.log.Error("Agent teardown: %v", err)
		}
	}
	r.loop.Stop()
	if err := r.registry.Close(); err != nil {
		r.log.Error("Teardown: %v", err)
	}
}

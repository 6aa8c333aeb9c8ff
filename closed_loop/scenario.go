package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"pursuit-core/pursuit"
	"pursuit-core/sim"
)

// Scenario defines a complete pursuit run
type Scenario struct {
	Meta      ScenarioMeta    `json:"meta"`
	Timing    ScenarioTiming  `json:"timing"`
	Agent     ScenarioBody    `json:"agent"`
	Target    *ScenarioTarget `json:"target,omitempty"`
	Obstacles []sim.Obstacle  `json:"obstacles,omitempty"`
	Events    []ScenarioEvent `json:"events,omitempty"`
	CAN       *ScenarioCAN    `json:"can,omitempty"`

	// Partial overrides applied on top of the defaults.
	Controller json.RawMessage `json:"controller,omitempty"`
	World      json.RawMessage `json:"world,omitempty"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DtS          float64 `json:"dt_s"` // physics step
	DurationS    float64 `json:"duration_s"`
	LogHz        float64 `json:"log_hz"`
	RealTimeMode bool    `json:"real_time_mode"`
}

// ScenarioBody places a car.
type ScenarioBody struct {
	ID       string     `json:"id"`
	Position mgl64.Vec3 `json:"position"`
	Yaw      float64    `json:"yaw"`
}

// ScenarioTarget is the scripted car being chased.
type ScenarioTarget struct {
	ScenarioBody
	Route    sim.Route      `json:"route"`
	PID      *sim.PIDConfig `json:"pid,omitempty"`
	MaxSteer float64        `json:"max_steer"`
}

// ScenarioCAN configures the bridge in -mode can.
type ScenarioCAN struct {
	BodyID          uint16 `json:"body_id"`
	TargetBodyID    uint16 `json:"target_body_id"`
	TargetTimeoutMS int    `json:"target_timeout_ms"`
}

// Event kinds understood by the sim runner.
const (
	EventObstacle      = "obstacle"
	EventRollOver      = "rollover"
	EventDespawnTarget = "despawn_target"
	EventRespawnTarget = "respawn_target"
)

// ScenarioEvent is a one-shot world change at AtS seconds.
type ScenarioEvent struct {
	AtS      float64       `json:"at_s"`
	Kind     string        `json:"kind"`
	Obstacle *sim.Obstacle `json:"obstacle,omitempty"`
	Comment  string        `json:"comment,omitempty"`
}

func (e ScenarioEvent) At() time.Duration {
	return time.Duration(e.AtS * float64(time.Second))
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario, filling timing defaults.
func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if scen.Timing.DurationS <= 0 {
		return Scenario{}, fmt.Errorf("invalid duration_s: %f", scen.Timing.DurationS)
	}
	if scen.Timing.DtS == 0 {
		scen.Timing.DtS = 1.0 / 60
	}
	if scen.PhysicsStep() <= 0 {
		return Scenario{}, fmt.Errorf("invalid dt_s: %g (must be at least 1ns)", scen.Timing.DtS)
	}
	if scen.Timing.LogHz < 0 || (scen.Timing.LogHz > 0 && scen.LogPeriod() <= 0) {
		return Scenario{}, fmt.Errorf("invalid log_hz: %g", scen.Timing.LogHz)
	}
	if scen.Agent.ID == "" {
		scen.Agent.ID = "pursuer"
	}

	if t := scen.Target; t != nil {
		if t.ID == "" {
			t.ID = "target"
		}
		if t.ID == scen.Agent.ID {
			return Scenario{}, fmt.Errorf("target id %q collides with agent id", t.ID)
		}
		if t.Route.Radius <= 0 {
			return Scenario{}, fmt.Errorf("invalid target route radius: %f", t.Route.Radius)
		}
		if t.MaxSteer == 0 {
			t.MaxSteer = 0.6
		}
	}

	for i, ev := range scen.Events {
		if ev.AtS < 0 || ev.AtS > scen.Timing.DurationS {
			return Scenario{}, fmt.Errorf("event %d (%s): at_s %.2f outside [0, %.2f]",
				i, ev.Kind, ev.AtS, scen.Timing.DurationS)
		}
		switch ev.Kind {
		case EventObstacle:
			if ev.Obstacle == nil {
				return Scenario{}, fmt.Errorf("event %d: obstacle event requires obstacle", i)
			}
		case EventRollOver:
		case EventDespawnTarget, EventRespawnTarget:
			if scen.Target == nil {
				return Scenario{}, fmt.Errorf("event %d: %s without a target", i, ev.Kind)
			}
		default:
			return Scenario{}, fmt.Errorf("event %d: unknown kind %q", i, ev.Kind)
		}
	}

	if _, err := scen.ControllerConfig(); err != nil {
		return Scenario{}, err
	}
	if _, err := scen.WorldConfig(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

// ControllerConfig applies the scenario's controller section over
// pursuit.DefaultConfig and validates the result.
func (s Scenario) ControllerConfig() (pursuit.Config, error) {
	cfg := pursuit.DefaultConfig()
	if len(s.Controller) > 0 {
		if err := json.Unmarshal(s.Controller, &cfg); err != nil {
			return pursuit.Config{}, fmt.Errorf("controller: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return pursuit.Config{}, fmt.Errorf("controller: %w", err)
	}
	return cfg, nil
}

// WorldConfig applies the scenario's world section over sim defaults.
func (s Scenario) WorldConfig() (sim.WorldConfig, error) {
	cfg := sim.DefaultWorldConfig()
	if len(s.World) > 0 {
		if err := json.Unmarshal(s.World, &cfg); err != nil {
			return sim.WorldConfig{}, fmt.Errorf("world: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return sim.WorldConfig{}, fmt.Errorf("world: %w", err)
	}
	return cfg, nil
}

func (s Scenario) Duration() time.Duration {
	return time.Duration(s.Timing.DurationS * float64(time.Second))
}

// LogPeriod is the status line interval, zero when status logging is off.
func (s Scenario) LogPeriod() time.Duration {
	if s.Timing.LogHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.Timing.LogHz)
}

func (s Scenario) PhysicsStep() time.Duration {
	return time.Duration(s.Timing.DtS * float64(time.Second))
}

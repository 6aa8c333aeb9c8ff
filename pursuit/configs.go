package pursuit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as a duration
// string ("500ms"). Bare numbers are taken as milliseconds.
type Duration struct {
	time.Duration
}

func Millis(ms int) Duration { return Duration{time.Duration(ms) * time.Millisecond} }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x * float64(time.Millisecond))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Config holds every tunable threshold of the pursuit controller.
type Config struct {
	DecisionPeriod Duration `json:"decision_period"`

	MaxSteer float64 `json:"max_steer"` // rad
	MaxSpeed float64 `json:"max_speed"` // engine force units per wheel

	AttackDistance float64 `json:"attack_distance"`
	FollowDistance float64 `json:"follow_distance"`

	// Steering
	DeadZone            float64 `json:"dead_zone"`
	ProgressiveAngle    float64 `json:"progressive_angle"`
	ProgressiveGain     float64 `json:"progressive_gain"`
	SmoothFactor        float64 `json:"smooth_factor"`
	AlignedSmoothFactor float64 `json:"aligned_smooth_factor"`
	AlignedThreshold    float64 `json:"aligned_threshold"`
	SteerSnap           float64 `json:"steer_snap"`

	// Stuck detection
	StuckCheckInterval Duration `json:"stuck_check_interval"`
	StuckSpeed         float64  `json:"stuck_speed"`
	StuckCount         int      `json:"stuck_count"`
	StuckDisplacement  float64  `json:"stuck_displacement"`

	// Collision recovery
	MinCollisionForce float64  `json:"min_collision_force"`
	ReverseDuration   Duration `json:"reverse_duration"`
	TurnDuration      Duration `json:"turn_duration"`
	ForwardDuration   Duration `json:"forward_duration"`

	// Flip handling
	FlipCheckInterval      Duration `json:"flip_check_interval"`
	FlipUpThreshold        float64  `json:"flip_up_threshold"`
	FlipResetDelay         Duration `json:"flip_reset_delay"`
	FlipCooldown           Duration `json:"flip_cooldown"`
	FlipResetLift          float64  `json:"flip_reset_lift"`
	PreserveHeadingOnReset bool     `json:"preserve_heading_on_reset"`

	// Wheel indices receiving steering and engine force.
	SteerWheels []int `json:"steer_wheels"`
	DriveWheels []int `json:"drive_wheels"`

	// Seed for the recovery direction coin flip; 0 picks a time based seed.
	Seed uint64 `json:"seed"`
}

// DefaultConfig returns the tuning the controller was developed against.
func DefaultConfig() Config {
	return Config{
		DecisionPeriod: Millis(100),

		MaxSteer: 0.6,
		MaxSpeed: 600,

		AttackDistance: 15,
		FollowDistance: 30,

		DeadZone:            0.08,
		ProgressiveAngle:    0.3,
		ProgressiveGain:     0.5,
		SmoothFactor:        0.15,
		AlignedSmoothFactor: 0.30,
		AlignedThreshold:    0.8,
		SteerSnap:           0.02,

		StuckCheckInterval: Millis(500),
		StuckSpeed:         2,
		StuckCount:         3,
		StuckDisplacement:  2,

		MinCollisionForce: 500,
		ReverseDuration:   Millis(1000),
		TurnDuration:      Millis(800),
		ForwardDuration:   Millis(500),

		FlipCheckInterval: Millis(200),
		FlipUpThreshold:   0.3,
		FlipResetDelay:    Millis(1000),
		FlipCooldown:      Millis(2000),
		FlipResetLift:     3,

		SteerWheels: []int{0, 1},
		DriveWheels: []int{0, 1, 2, 3},
	}
}

// Validate checks that the configuration can drive a vehicle.
func (c Config) Validate() error {
	if c.DecisionPeriod.Duration <= 0 {
		return fmt.Errorf("decision_period must be positive, got %s", c.DecisionPeriod)
	}
	if c.MaxSteer <= 0 {
		return fmt.Errorf("max_steer must be positive, got %f", c.MaxSteer)
	}
	if c.MaxSpeed <= 0 {
		return fmt.Errorf("max_speed must be positive, got %f", c.MaxSpeed)
	}
	if c.AttackDistance < 0 || c.FollowDistance < 0 {
		return fmt.Errorf("attack_distance and follow_distance must be non-negative, got %f/%f",
			c.AttackDistance, c.FollowDistance)
	}
	for name, f := range map[string]float64{
		"smooth_factor":         c.SmoothFactor,
		"aligned_smooth_factor": c.AlignedSmoothFactor,
	} {
		if f <= 0 || f > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, f)
		}
	}
	if c.StuckCount <= 0 {
		return fmt.Errorf("stuck_count must be positive, got %d", c.StuckCount)
	}
	if c.StuckCount > historyCapacity {
		// The counter could still trigger, but history would no longer span the
		// samples that raised it.
		return fmt.Errorf("stuck_count %d exceeds position history capacity %d", c.StuckCount, historyCapacity)
	}
	for name, d := range map[string]Duration{
		"stuck_check_interval": c.StuckCheckInterval,
		"reverse_duration":     c.ReverseDuration,
		"turn_duration":        c.TurnDuration,
		"forward_duration":     c.ForwardDuration,
		"flip_check_interval":  c.FlipCheckInterval,
		"flip_reset_delay":     c.FlipResetDelay,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.FlipCooldown.Duration < 0 {
		return fmt.Errorf("flip_cooldown must be non-negative, got %s", c.FlipCooldown)
	}
	if c.FlipUpThreshold <= -1 || c.FlipUpThreshold >= 1 {
		return fmt.Errorf("flip_up_threshold must be in (-1, 1), got %f", c.FlipUpThreshold)
	}
	if len(c.DriveWheels) == 0 {
		return fmt.Errorf("drive_wheels must name at least one wheel")
	}
	for _, w := range append(append([]int(nil), c.SteerWheels...), c.DriveWheels...) {
		if w < 0 {
			return fmt.Errorf("wheel index must be non-negative, got %d", w)
		}
	}
	return nil
}

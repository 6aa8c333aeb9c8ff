package pursuit

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Mode names the control mode that produced a tick's output. Exactly one is
// active per tick.
type Mode int

const (
	ModeInactive Mode = iota
	ModeNoTarget
	ModePursuit
	ModeRecovery
	ModeFlipped
	ModeFlipReset
)

func (m Mode) String() string {
	switch m {
	case ModeInactive:
		return "INACTIVE"
	case ModeNoTarget:
		return "NO_TARGET"
	case ModePursuit:
		return "PURSUIT"
	case ModeRecovery:
		return "RECOVERY"
	case ModeFlipped:
		return "FLIPPED"
	case ModeFlipReset:
		return "FLIP_RESET"
	default:
		return "UNKNOWN"
	}
}

// Command is the actuator intent held until the next decision tick.
type Command struct {
	Steer    float64 // rad, positive turns toward +X when facing +Z
	Throttle float64 // signed engine force per drive wheel
}

// BodyReset asks the physics binding to teleport the body and zero both its
// linear and angular velocity before the next physics step.
type BodyReset struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// Decision is everything one tick produced.
type Decision struct {
	At        time.Time
	Mode      Mode
	Command   Command
	Phase     RecoveryPhase
	HasTarget bool
	Tracking  Tracking
	Reset     *BodyReset
	Trigger   Trigger
}

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampSteer(v, maxSteer float64) float64 {
	return ClampFloat(v, -maxSteer, maxSteer)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

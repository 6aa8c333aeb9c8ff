package pursuit

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

type FlipState struct {
	IsFlipped bool
	FlipStart time.Time // zero while upright
	LastReset time.Time
	LastCheck time.Time
}

type flipOutcome int

const (
	flipUpright flipOutcome = iota
	flipPending
	flipReset
)

// stepFlip samples the up vector at most once per FlipCheckInterval and
// skips sampling entirely during the cooldown after a reset. A reset is due
// once the body has stayed inverted for FlipResetDelay.
func stepFlip(cfg Config, st *FlipState, now time.Time, pose AgentPose) flipOutcome {
	if !st.LastReset.IsZero() && now.Sub(st.LastReset) < cfg.FlipCooldown.Duration {
		return flipUpright
	}
	if !st.LastCheck.IsZero() && now.Sub(st.LastCheck) < cfg.FlipCheckInterval.Duration {
		if st.IsFlipped {
			return flipPending
		}
		return flipUpright
	}
	st.LastCheck = now

	if pose.Up().Y() >= cfg.FlipUpThreshold {
		st.IsFlipped = false
		st.FlipStart = time.Time{}
		return flipUpright
	}
	if !st.IsFlipped {
		st.IsFlipped = true
		st.FlipStart = now
		return flipPending
	}
	if now.Sub(st.FlipStart) < cfg.FlipResetDelay.Duration {
		return flipPending
	}
	st.IsFlipped = false
	st.FlipStart = time.Time{}
	st.LastReset = now
	return flipReset
}

// resetPose lifts the body straight up at its current XZ and rights it,
// optionally keeping its heading.
func resetPose(cfg Config, pose AgentPose) BodyReset {
	r := BodyReset{
		Position:    pose.Position.Add(worldUp.Mul(cfg.FlipResetLift)),
		Orientation: mgl64.QuatIdent(),
	}
	if cfg.PreserveHeadingOnReset {
		if yaw, ok := pose.Yaw(); ok {
			r.Orientation = YawRotation(yaw)
		}
	}
	return r
}

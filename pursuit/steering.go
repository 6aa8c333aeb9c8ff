package pursuit

import "math"

// steerTarget turns the desired angle into a steering target: nothing inside
// the dead zone, half gain for small corrections, full gain beyond, clamped
// to the steering limit.
func steerTarget(cfg Config, angle float64) float64 {
	abs := math.Abs(angle)
	if abs < cfg.DeadZone || !finite(angle) {
		return 0
	}
	intensity := 1.0
	if abs < cfg.ProgressiveAngle {
		intensity = cfg.ProgressiveGain
	}
	return clampSteer(angle*intensity, cfg.MaxSteer)
}

// smoothSteer blends current toward target. Well aligned agents blend faster
// so they settle onto a straight line, and tiny residuals snap to zero.
func smoothSteer(cfg Config, current, target, alignment float64) float64 {
	factor := cfg.SmoothFactor
	if alignment > cfg.AlignedThreshold {
		factor = cfg.AlignedSmoothFactor
	}
	next := clampSteer(current+(target-current)*factor, cfg.MaxSteer)
	if math.Abs(next) < cfg.SteerSnap {
		return 0
	}
	return next
}

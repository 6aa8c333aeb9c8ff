package pursuit

import "math"

// throttleFor picks the throttle band for the current distance. Bands use
// strict comparisons, so a distance exactly on a boundary falls in the
// farther band; isAttacking uses the same predicate.
func throttleFor(cfg Config, distance, currentSteer float64) (throttle float64, attacking bool) {
	steerPenalty := math.Abs(currentSteer) / cfg.MaxSteer

	switch {
	case inAttackRange(cfg, distance):
		return cfg.MaxSpeed * (1 - steerPenalty*0.3), true
	case distance < cfg.FollowDistance:
		return cfg.MaxSpeed * 0.3, false
	default:
		return cfg.MaxSpeed * (0.7 - steerPenalty*0.2), false
	}
}

func inAttackRange(cfg Config, distance float64) bool {
	return distance < cfg.AttackDistance
}

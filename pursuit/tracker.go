package pursuit

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// TargetInfo identifies the pursued body and its current pose.
type TargetInfo struct {
	ID   string
	Pose AgentPose
}

// Tracking is the relative geometry between the agent and its target.
type Tracking struct {
	Displacement mgl64.Vec3 // horizontal (XZ) vector from agent to target
	Distance     float64    // length of Displacement
	Alignment    float64    // dot(forward, unit displacement); 1 faces the target
	Angle        float64    // signed turn toward the target, rad
}

// Track computes the pursuit geometry on the horizontal plane. When the
// agent sits on top of the target the direction is undefined and the agent is
// treated as already aligned.
func Track(self, target AgentPose) Tracking {
	d := target.Position.Sub(self.Position)
	d[1] = 0

	tr := Tracking{Displacement: d, Distance: d.Len()}
	if tr.Distance < 1e-9 || !finite(tr.Distance) {
		tr.Alignment = 1
		return tr
	}

	dir := d.Mul(1 / tr.Distance)
	forward := self.Forward()

	tr.Alignment = forward.Dot(dir)
	tr.Angle = math.Atan2(forward.Cross(dir).Y(), tr.Alignment)
	return tr
}

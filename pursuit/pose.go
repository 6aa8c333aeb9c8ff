package pursuit

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	localForward = mgl64.Vec3{0, 0, 1}
	localUp      = mgl64.Vec3{0, 1, 0}
	worldUp      = mgl64.Vec3{0, 1, 0}
)

// AgentPose is a read-only snapshot of a rigid body taken from the physics
// world.
type AgentPose struct {
	Position        mgl64.Vec3
	Velocity        mgl64.Vec3
	Orientation     mgl64.Quat
	AngularVelocity mgl64.Vec3
}

// rotation returns the body orientation as a unit quaternion. A zero-value
// quaternion is read as identity so an uninitialised pose is upright.
func (p AgentPose) rotation() mgl64.Quat {
	if p.Orientation.Len() < 1e-9 {
		return mgl64.QuatIdent()
	}
	return p.Orientation.Normalize()
}

// Forward is local +Z in world space.
func (p AgentPose) Forward() mgl64.Vec3 {
	return p.rotation().Rotate(localForward)
}

// Up is local +Y in world space.
func (p AgentPose) Up() mgl64.Vec3 {
	return p.rotation().Rotate(localUp)
}

func (p AgentPose) Speed() float64 {
	return p.Velocity.Len()
}

// Yaw is the heading about world up, measured from +Z toward +X. ok is false
// when the forward axis is close to vertical and has no usable heading.
func (p AgentPose) Yaw() (yaw float64, ok bool) {
	f := p.Forward()
	if math.Hypot(f.X(), f.Z()) < 1e-6 {
		return 0, false
	}
	return math.Atan2(f.X(), f.Z()), true
}

// YawRotation builds an upright orientation with the given heading.
func YawRotation(yaw float64) mgl64.Quat {
	return mgl64.QuatRotate(yaw, worldUp)
}

package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"pursuit-core/pursuit"
)

const wheelCount = 4

var (
	worldUp   = mgl64.Vec3{0, 1, 0}
	localRoll = mgl64.Vec3{0, 0, 1}
)

// Car is a kinematic bicycle-model vehicle. Front wheels (0, 1) steer and
// every wheel can push. A rolled car lies on its roof and cannot drive.
type Car struct {
	id  string
	cfg WorldConfig

	pos     mgl64.Vec3
	yaw     float64 // heading from +Z toward +X
	roll    float64 // 0 upright, Pi on the roof
	speed   float64 // signed, along forward
	vy      float64
	yawRate float64

	steer [wheelCount]float64
	force [wheelCount]float64

}

func newCar(id string, cfg WorldConfig, pos mgl64.Vec3, yaw float64) *Car {
	return &Car{id: id, cfg: cfg, pos: pos, yaw: yaw}
}

func (c *Car) BodyID() string { return c.id }

func (c *Car) orientation() mgl64.Quat {
	return pursuit.YawRotation(c.yaw).Mul(mgl64.QuatRotate(c.roll, localRoll))
}

func (c *Car) forward() mgl64.Vec3 {
	return mgl64.Vec3{math.Sin(c.yaw), 0, math.Cos(c.yaw)}
}

// Pose is the snapshot the controller reads.
func (c *Car) Pose() pursuit.AgentPose {
	return pursuit.AgentPose{
		Position:        c.pos,
		Velocity:        c.forward().Mul(c.speed).Add(worldUp.Mul(c.vy)),
		Orientation:     c.orientation(),
		AngularVelocity: mgl64.Vec3{0, c.yawRate, 0},
	}
}

// SetSteeringValue latches a wheel angle; it holds until overwritten.
func (c *Car) SetSteeringValue(value float64, wheel int) {
	if wheel >= 0 && wheel < wheelCount {
		c.steer[wheel] = value
	}
}

// ApplyEngineForce latches a wheel force; it holds until overwritten.
func (c *Car) ApplyEngineForce(force float64, wheel int) {
	if wheel >= 0 && wheel < wheelCount {
		c.force[wheel] = force
	}
}

// ResetBody teleports the car and zeroes linear and angular velocity.
func (c *Car) ResetBody(position mgl64.Vec3, orientation mgl64.Quat) {
	p := pursuit.AgentPose{Orientation: orientation}
	if yaw, ok := p.Yaw(); ok {
		c.yaw = yaw
	}
	c.roll = 0
	if p.Up().Y() < 0 {
		c.roll = math.Pi
	}
	c.pos = position
	c.speed, c.vy, c.yawRate = 0, 0, 0
}

// RollOver puts the car on its roof where it stands.
func (c *Car) RollOver() {
	c.roll = math.Pi
	c.speed, c.yawRate = 0, 0
}

func (c *Car) Rolled() bool { return math.Cos(c.roll) < 0.3 }

// Speed is the signed forward speed.
func (c *Car) Speed() float64 { return c.speed }

func (c *Car) frontSteer() float64 {
	return (c.steer[0] + c.steer[1]) / 2
}

func (c *Car) totalForce() float64 {
	var f float64
	for _, w := range c.force {
		f += w
	}
	return f
}

// integrate advances the car by dt seconds.
func (c *Car) integrate(dt float64) {
	if c.pos.Y() > 0 || c.vy != 0 {
		c.vy -= c.cfg.Gravity * dt
		c.pos[1] += c.vy * dt
		if c.pos.Y() <= 0 {
			c.pos[1], c.vy = 0, 0
		}
	}

	grounded := c.pos.Y() == 0
	drive := 0.0
	if grounded && !c.Rolled() {
		drive = c.totalForce()
	}
	resist := c.cfg.Drag*c.speed*math.Abs(c.speed) + c.cfg.RollingResistance*c.speed
	if c.Rolled() {
		resist += c.cfg.RoofFriction * c.speed
	}
	next := c.speed + (drive-resist)/c.cfg.Mass*dt
	// Resistance alone never reverses the direction of travel.
	if drive == 0 && next*c.speed < 0 {
		next = 0
	}
	c.speed = next

	c.yawRate = 0
	if grounded && !c.Rolled() {
		c.yawRate = c.speed / c.cfg.WheelBase * math.Tan(c.frontSteer())
	}
	c.yaw = math.Remainder(c.yaw+c.yawRate*dt, 2*math.Pi)
	c.pos = c.pos.Add(c.forward().Mul(c.speed * dt))
}

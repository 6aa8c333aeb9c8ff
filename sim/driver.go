package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Route is a circle the scripted target drives around.
type Route struct {
	Center    mgl64.Vec3 `json:"center"`
	Radius    float64    `json:"radius"`
	Clockwise bool       `json:"clockwise"`
	Lookahead float64    `json:"lookahead"` // rad along the circle
}

// TargetDriver steers a car around a Route with pure pursuit and holds its
// speed with a SpeedPID.
type TargetDriver struct {
	car      *Car
	route    Route
	pid      *SpeedPID
	maxSteer float64
}

func NewTargetDriver(car *Car, route Route, pid PIDConfig, maxSteer float64) *TargetDriver {
	if route.Lookahead <= 0 {
		route.Lookahead = 0.25
	}
	return &TargetDriver{car: car, route: route, pid: NewSpeedPID(pid), maxSteer: maxSteer}
}

func (d *TargetDriver) PID() *SpeedPID { return d.pid }

// aimPoint is the point Lookahead radians ahead of the car's projection onto
// the circle.
func (d *TargetDriver) aimPoint() mgl64.Vec3 {
	rel := d.car.pos.Sub(d.route.Center)
	theta := math.Atan2(rel.X(), rel.Z())
	if d.route.Clockwise {
		theta -= d.route.Lookahead
	} else {
		theta += d.route.Lookahead
	}
	return d.route.Center.Add(mgl64.Vec3{math.Sin(theta), 0, math.Cos(theta)}.Mul(d.route.Radius))
}

func (d *TargetDriver) drive(dt float64) {
	c := d.car
	if c.Rolled() {
		d.pid.Reset()
		return
	}

	aim := d.aimPoint().Sub(c.pos)
	aim[1] = 0
	steer := 0.0
	if l := aim.Len(); l > 1e-9 {
		f := c.forward()
		dir := aim.Mul(1 / l)
		alpha := math.Atan2(f.Cross(dir).Y(), f.Dot(dir))
		// Pure pursuit curvature for a bicycle model.
		steer = math.Atan2(2*c.cfg.WheelBase*math.Sin(alpha), l)
	}
	steer = math.Max(-d.maxSteer, math.Min(d.maxSteer, steer))

	force := d.pid.Update(c.speed, dt)
	for w := range wheelCount {
		if w < 2 {
			c.SetSteeringValue(steer, w)
		}
		c.ApplyEngineForce(force, w)
	}
}

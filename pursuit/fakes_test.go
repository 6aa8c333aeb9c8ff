package pursuit

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

// tiltedUp returns an orientation whose world up vector has the given Y.
func tiltedUp(upY float64) mgl64.Quat {
	return mgl64.QuatRotate(math.Acos(upY), mgl64.Vec3{1, 0, 0})
}

func poseAt(x, z float64) AgentPose {
	return AgentPose{Position: mgl64.Vec3{x, 0, z}, Orientation: mgl64.QuatIdent()}
}

func targetAt(id string, x, z float64) *TargetInfo {
	return &TargetInfo{ID: id, Pose: poseAt(x, z)}
}

// fixedDirection makes the recovery coin flip deterministic.
func fixedDirection(v float64) Option {
	return WithDirectionSource(func() float64 { return v })
}

func newTestController(cfg Config) *Controller {
	c, err := NewController("agent", cfg, fixedDirection(1))
	if err != nil {
		panic(err)
	}
	return c
}

type fakeBody struct {
	id   string
	pose AgentPose
}

func (b *fakeBody) BodyID() string  { return b.id }
func (b *fakeBody) Pose() AgentPose { return b.pose }

// ResetBody mirrors what a physics binding does with a BodyReset.
func (b *fakeBody) ResetBody(position mgl64.Vec3, orientation mgl64.Quat) {
	b.pose = AgentPose{Position: position, Orientation: orientation}
}

type fakeVehicle struct {
	steer map[int]float64
	force map[int]float64
	calls int
}

func newFakeVehicle() *fakeVehicle {
	return &fakeVehicle{steer: map[int]float64{}, force: map[int]float64{}}
}

func (v *fakeVehicle) SetSteeringValue(value float64, wheel int) {
	v.steer[wheel] = value
	v.calls++
}

func (v *fakeVehicle) ApplyEngineForce(force float64, wheel int) {
	v.force[wheel] = force
	v.calls++
}

type fakeContacts struct {
	fn           func(raw any)
	last         func(raw any)
	unsubscribed bool
	onUnsub      func()
}

func (c *fakeContacts) SubscribeContacts(fn func(raw any)) func() {
	c.fn = fn
	c.last = fn
	return func() {
		c.fn = nil
		c.unsubscribed = true
		if c.onUnsub != nil {
			c.onUnsub()
		}
	}
}

func (c *fakeContacts) emit(raw any) {
	if c.fn != nil {
		c.fn(raw)
	}
}

type fakeTarget struct {
	info *TargetInfo
}

func (t *fakeTarget) Target() (TargetInfo, bool) {
	if t.info == nil {
		return TargetInfo{}, false
	}
	return *t.info, true
}

type recordingObserver struct {
	decisions []Decision
}

func (o *recordingObserver) ObserveTick(_ string, d Decision) {
	o.decisions = append(o.decisions, d)
}

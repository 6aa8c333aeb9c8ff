// Package sim is a small kinematic world for driving the pursuit controller
// without a physics engine: cars on a flat walled arena, round obstacles and
// collision-begin events in the payload shapes real bindings produce.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"pursuit-core/pursuit"
	"pursuit-core/utils"
)

var (
	ErrUnknownBody = errors.New("unknown body")
	ErrDuplicateID = errors.New("duplicate body id")
)

// WorldConfig holds the arena and vehicle constants.
type WorldConfig struct {
	ArenaHalfSize     float64 `json:"arena_half_size"`
	CarRadius         float64 `json:"car_radius"`
	WheelBase         float64 `json:"wheel_base"`
	Mass              float64 `json:"mass"`
	Drag              float64 `json:"drag"`
	RollingResistance float64 `json:"rolling_resistance"`
	RoofFriction      float64 `json:"roof_friction"`
	Gravity           float64 `json:"gravity"`
}

func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		ArenaHalfSize:     120,
		CarRadius:         1.5,
		WheelBase:         2.6,
		Mass:              500,
		Drag:              0.8,
		RollingResistance: 30,
		RoofFriction:      400,
		Gravity:           9.81,
	}
}

func (c WorldConfig) Validate() error {
	if c.ArenaHalfSize <= c.CarRadius {
		return fmt.Errorf("arena_half_size %f must exceed car_radius %f", c.ArenaHalfSize, c.CarRadius)
	}
	if c.CarRadius <= 0 || c.WheelBase <= 0 || c.Mass <= 0 {
		return fmt.Errorf("car_radius, wheel_base and mass must be positive")
	}
	if c.Drag < 0 || c.RollingResistance < 0 || c.RoofFriction < 0 || c.Gravity < 0 {
		return fmt.Errorf("resistance terms and gravity must be non-negative")
	}
	return nil
}

// Obstacle is a static round body.
type Obstacle struct {
	ID     string     `json:"id"`
	Center mgl64.Vec3 `json:"center"`
	Radius float64    `json:"radius"`
}

type wall struct {
	id     string
	axis   int     // 0 = X, 2 = Z
	limit  float64 // signed coordinate of the wall plane
	normal float64 // +1 pushes toward +axis
}

// World owns every body. It is stepped from the loop goroutine and delivers
// contact callbacks synchronously from Step.
type World struct {
	cfg WorldConfig
	log *utils.Logger

	cars      map[string]*Car
	obstacles []Obstacle
	walls     []wall
	drivers   []*TargetDriver
	targetID  string

	// Pairs touching after the last step; only new pairs raise events.
	touching map[[2]string]bool

	subs   map[int]func(raw any)
	nextID int

	steps int
}

func NewWorld(cfg WorldConfig, log *utils.Logger) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("world config: %w", err)
	}
	h := cfg.ArenaHalfSize
	return &World{
		cfg:  cfg,
		log:  log,
		cars: map[string]*Car{},
		walls: []wall{
			{"wall-east", 0, h, -1},
			{"wall-west", 0, -h, 1},
			{"wall-north", 2, h, -1},
			{"wall-south", 2, -h, 1},
		},
		touching: map[[2]string]bool{},
		subs:     map[int]func(raw any){},
	}, nil
}

func (w *World) Config() WorldConfig { return w.cfg }

// SpawnCar adds a car. An empty id gets a generated one.
func (w *World) SpawnCar(id string, pos mgl64.Vec3, yaw float64) (*Car, error) {
	if id == "" {
		id = "car-" + uuid.NewString()[:8]
	}
	if _, ok := w.cars[id]; ok {
		return nil, fmt.Errorf("spawn %q: %w", id, ErrDuplicateID)
	}
	c := newCar(id, w.cfg, pos, yaw)
	w.cars[id] = c
	w.log.Debug("spawned %s at (%.1f, %.1f, %.1f) yaw=%.2f", id, pos.X(), pos.Y(), pos.Z(), yaw)
	return c, nil
}

// RemoveCar deletes a car along with its driver and contacts.
func (w *World) RemoveCar(id string) error {
	if _, ok := w.cars[id]; !ok {
		return fmt.Errorf("remove %q: %w", id, ErrUnknownBody)
	}
	delete(w.cars, id)
	drivers := w.drivers[:0]
	for _, d := range w.drivers {
		if d.car.id != id {
			drivers = append(drivers, d)
		}
	}
	w.drivers = drivers
	for pair := range w.touching {
		if pair[0] == id || pair[1] == id {
			delete(w.touching, pair)
		}
	}
	w.log.Debug("removed %s", id)
	return nil
}

func (w *World) Car(id string) (*Car, bool) {
	c, ok := w.cars[id]
	return c, ok
}

// AddObstacle places a static obstacle. An empty id gets a generated one.
func (w *World) AddObstacle(o Obstacle) (Obstacle, error) {
	if o.Radius <= 0 {
		return Obstacle{}, fmt.Errorf("obstacle radius must be positive, got %f", o.Radius)
	}
	if o.ID == "" {
		o.ID = "obstacle-" + uuid.NewString()[:8]
	}
	o.Center[1] = 0
	w.obstacles = append(w.obstacles, o)
	return o, nil
}

func (w *World) Obstacles() []Obstacle { return append([]Obstacle(nil), w.obstacles...) }

// SetTarget designates which car is pursued; "" clears it.
func (w *World) SetTarget(id string) { w.targetID = id }

// Target implements pursuit.TargetProvider.
func (w *World) Target() (pursuit.TargetInfo, bool) {
	c, ok := w.cars[w.targetID]
	if !ok {
		return pursuit.TargetInfo{}, false
	}
	return pursuit.TargetInfo{ID: c.id, Pose: c.Pose()}, true
}

// AddDriver attaches a scripted driver, run before integration each step.
func (w *World) AddDriver(d *TargetDriver) { w.drivers = append(w.drivers, d) }

// SubscribeContacts implements pursuit.ContactSource.
func (w *World) SubscribeContacts(fn func(raw any)) func() {
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() { delete(w.subs, id) }
}

func (w *World) Subscribers() int { return len(w.subs) }

func (w *World) Steps() int { return w.steps }

// Step advances the world by dt seconds: drivers, integration, then contact
// resolution in a fixed order.
func (w *World) Step(dt float64) {
	w.steps++
	for _, d := range w.drivers {
		d.drive(dt)
	}

	ids := w.carIDs()
	for _, id := range ids {
		w.cars[id].integrate(dt)
	}

	now := map[[2]string]bool{}
	for _, id := range ids {
		c := w.cars[id]
		for _, wl := range w.walls {
			if f, hit := w.resolveWall(c, wl); hit {
				w.contact(now, c.id, wl.id, f, func() any {
					return map[string]any{"bodyA": c.id, "bodyB": wl.id, "impactForce": f}
				})
			}
		}
		for _, o := range w.obstacles {
			if f, hit := w.resolveObstacle(c, o); hit {
				w.contact(now, c.id, o.ID, f, func() any {
					return map[string]any{
						"body":    c.id,
						"target":  o.ID,
						"contact": map[string]any{"impactForce": f},
					}
				})
			}
		}
	}
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			ca, cb := w.cars[a], w.cars[b]
			if f, hit := w.resolveCars(ca, cb); hit {
				w.contact(now, a, b, f, func() any {
					return pursuit.ContactEvent{BodyA: a, BodyB: b, ImpactForce: f}
				})
			}
		}
	}
	w.touching = now
}

func (w *World) carIDs() []string {
	ids := make([]string, 0, len(w.cars))
	for id := range w.cars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// contact records a touching pair and emits a begin event the first step it
// appears. payload is built lazily so steady contacts cost nothing.
func (w *World) contact(now map[[2]string]bool, a, b string, force float64, payload func() any) {
	key := [2]string{a, b}
	if b < a {
		key = [2]string{b, a}
	}
	now[key] = true
	if w.touching[key] {
		return
	}
	w.log.Trace("contact begin %s/%s impact=%.1f", a, b, force)
	raw := payload()
	for _, id := range w.subIDs() {
		if fn, ok := w.subs[id]; ok {
			fn(raw)
		}
	}
}

func (w *World) subIDs() []int {
	ids := make([]int, 0, len(w.subs))
	for id := range w.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// resolveWall pushes c back inside the arena and removes the velocity
// component into the wall. The impact is mass times the removed speed.
func (w *World) resolveWall(c *Car, wl wall) (float64, bool) {
	r := w.cfg.CarRadius
	coord := c.pos[wl.axis]
	inside := wl.limit + wl.normal*r
	if (wl.normal < 0 && coord <= inside) || (wl.normal > 0 && coord >= inside) {
		return 0, false
	}
	c.pos[wl.axis] = inside

	vn := c.forward()[wl.axis] * c.speed * -wl.normal // speed into the wall
	if vn <= 0 {
		return 0, true
	}
	c.speed = 0
	return w.cfg.Mass * vn, true
}

func (w *World) resolveObstacle(c *Car, o Obstacle) (float64, bool) {
	d := c.pos.Sub(o.Center)
	d[1] = 0
	minDist := o.Radius + w.cfg.CarRadius
	dist := d.Len()
	if dist >= minDist {
		return 0, false
	}
	n := mgl64.Vec3{1, 0, 0}
	if dist > 1e-9 {
		n = d.Mul(1 / dist)
	}
	c.pos = c.pos.Add(n.Mul(minDist - dist))

	vn := -c.forward().Dot(n) * c.speed
	if vn <= 0 {
		return 0, true
	}
	c.speed = 0
	return w.cfg.Mass * vn, true
}

// resolveCars separates two overlapping cars equally and reports the closing
// speed along the contact normal as the impact.
func (w *World) resolveCars(a, b *Car) (float64, bool) {
	d := b.pos.Sub(a.pos)
	d[1] = 0
	minDist := 2 * w.cfg.CarRadius
	dist := d.Len()
	if dist >= minDist {
		return 0, false
	}
	n := mgl64.Vec3{1, 0, 0}
	if dist > 1e-9 {
		n = d.Mul(1 / dist)
	}
	push := n.Mul((minDist - dist) / 2)
	a.pos = a.pos.Sub(push)
	b.pos = b.pos.Add(push)

	closing := a.forward().Mul(a.speed).Sub(b.forward().Mul(b.speed)).Dot(n)
	if closing <= 0 {
		return 0, true
	}
	a.speed *= 0.5
	b.speed *= 0.5
	return w.cfg.Mass * closing, true
}

// Distance is the horizontal distance between two cars, +Inf if either is
// missing.
func (w *World) Distance(a, b string) float64 {
	ca, okA := w.cars[a]
	cb, okB := w.cars[b]
	if !okA || !okB {
		return math.Inf(1)
	}
	d := cb.pos.Sub(ca.pos)
	d[1] = 0
	return d.Len()
}

package sim

import (
	"bytes"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pursuit-core/pursuit"
	"pursuit-core/utils"
)

const halfPi = math.Pi / 2

func vec(x, y, z float64) mgl64.Vec3 { return mgl64.Vec3{x, y, z} }

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := NewWorld(DefaultWorldConfig(), nil)
	require.NoError(t, err)
	return w
}

func collect(w *World) *[]any {
	var events []any
	w.SubscribeContacts(func(raw any) { events = append(events, raw) })
	return &events
}

func stepN(w *World, n int) {
	for range n {
		w.Step(1.0 / 60)
	}
}

func TestNewWorldValidates(t *testing.T) {
	t.Parallel()
	cfg := DefaultWorldConfig()
	cfg.Mass = 0
	_, err := NewWorld(cfg, nil)
	assert.Error(t, err)
}

func TestCarSteersTowardPositiveX(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	car, err := w.SpawnCar("a", vec(0, 0, 0), 0)
	require.NoError(t, err)

	for wheel := range 4 {
		car.SetSteeringValue(0.3, wheel)
		car.ApplyEngineForce(300, wheel)
	}
	stepN(w, 120)

	pose := car.Pose()
	assert.Greater(t, pose.Position.X(), 0.0)
	assert.Greater(t, pose.Position.Z(), 0.0)
	assert.Greater(t, pose.AngularVelocity.Y(), 0.0)
	assert.Greater(t, car.Speed(), 0.0)
}

func TestRolledCarCannotDrive(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	car, err := w.SpawnCar("a", vec(5, 0, 5), 0)
	require.NoError(t, err)
	car.RollOver()
	require.True(t, car.Rolled())
	assert.Less(t, car.Pose().Up().Y(), 0.3)

	for wheel := range 4 {
		car.ApplyEngineForce(600, wheel)
	}
	stepN(w, 60)
	assert.Zero(t, car.Speed())
	assert.Equal(t, vec(5, 0, 5), car.Pose().Position)
}

func TestResetBodyRightsAndDrops(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	car, err := w.SpawnCar("a", vec(5, 0, 5), 0)
	require.NoError(t, err)
	car.RollOver()

	car.ResetBody(vec(5, 3, 5), pursuit.YawRotation(1))
	pose := car.Pose()
	assert.False(t, car.Rolled())
	assert.Equal(t, mgl64.Vec3{}, pose.Velocity)
	assert.Equal(t, mgl64.Vec3{}, pose.AngularVelocity)
	yaw, ok := pose.Yaw()
	require.True(t, ok)
	assert.InDelta(t, 1, yaw, 1e-9)

	stepN(w, 120)
	assert.Zero(t, car.Pose().Position.Y())
}

func TestWallContactEmitsPairPayloadOnce(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	events := collect(w)
	car, err := w.SpawnCar("a", vec(0, 0, 115), 0)
	require.NoError(t, err)
	car.speed = 10

	stepN(w, 120)
	require.Len(t, *events, 1)
	raw := (*events)[0]
	assert.IsType(t, map[string]any{}, raw)

	ev, err := pursuit.NormalizeContact(raw)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.BodyA)
	assert.Equal(t, "wall-north", ev.BodyB)
	assert.Greater(t, ev.ImpactForce, 4000.0)
	assert.Zero(t, car.Speed())
	assert.LessOrEqual(t, car.Pose().Position.Z(), 120-w.Config().CarRadius)
}

func TestObstacleContactUsesBodyTargetPayload(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	events := collect(w)
	obs, err := w.AddObstacle(Obstacle{Center: vec(0, 0, 5), Radius: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, obs.ID)

	car, err := w.SpawnCar("a", vec(0, 0, 0), 0)
	require.NoError(t, err)
	car.speed = 8
	stepN(w, 60)

	require.Len(t, *events, 1)
	m, ok := (*events)[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "contact")

	ev, err := pursuit.NormalizeContact(m)
	require.NoError(t, err)
	assert.Equal(t, obs.ID, ev.BodyB)
	assert.Greater(t, ev.ImpactForce, 500.0)
}

func TestCarContactUsesCanonicalEvent(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	events := collect(w)
	a, err := w.SpawnCar("a", vec(0, 0, 0), 0)
	require.NoError(t, err)
	b, err := w.SpawnCar("b", vec(0, 0, 10), math.Pi)
	require.NoError(t, err)
	a.speed, b.speed = 5, 5

	stepN(w, 90)
	require.NotEmpty(t, *events)
	ev, ok := (*events)[0].(pursuit.ContactEvent)
	require.True(t, ok)
	assert.Equal(t, "a", ev.BodyA)
	assert.Equal(t, "b", ev.BodyB)
	assert.Greater(t, ev.ImpactForce, 500.0)
	assert.GreaterOrEqual(t, w.Distance("a", "b"), 2*w.Config().CarRadius-1e-9)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	w := newTestWorld(t)
	var n int
	unsubscribe := w.SubscribeContacts(func(any) { n++ })
	require.Equal(t, 1, w.Subscribers())
	unsubscribe()
	assert.Zero(t, w.Subscribers())

	car, err := w.SpawnCar("a", vec(0, 0, 115), 0)
	require.NoError(t, err)
	car.speed = 10
	stepN(w, 120)
	assert.Zero(t, n)
}

func TestTargetProvider(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w, err := NewWorld(DefaultWorldConfig(), utils.NewWriterLogger(&buf, utils.DEBUG))
	require.NoError(t, err)

	_, ok := w.Target()
	assert.False(t, ok)

	_, err = w.SpawnCar("t", vec(3, 0, 4), 0)
	require.NoError(t, err)
	_, err = w.SpawnCar("t", vec(0, 0, 0), 0)
	assert.ErrorIs(t, err, ErrDuplicateID)

	w.SetTarget("t")
	info, ok := w.Target()
	require.True(t, ok)
	assert.Equal(t, "t", info.ID)
	assert.Equal(t, vec(3, 0, 4), info.Pose.Position)

	require.NoError(t, w.RemoveCar("t"))
	_, ok = w.Target()
	assert.False(t, ok)
	assert.ErrorIs(t, w.RemoveCar("t"), ErrUnknownBody)
	assert.True(t, math.IsInf(w.Distance("t", "x"), 1))
	assert.Contains(t, buf.String(), "removed t")
}

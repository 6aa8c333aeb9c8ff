package pursuit

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pursuit-core/utils"
)

func TestNewControllerRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxSteer = 0
	_, err := NewController("agent", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_steer")
}

func TestTargetDirectlyAheadGivesZeroSteer(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())

	d := c.Tick(at(0), poseAt(0, 0), targetAt("target", 0, 50))
	assert.Equal(t, ModePursuit, d.Mode)
	assert.InDelta(t, 1, d.Tracking.Alignment, 1e-12)
	assert.Equal(t, 0.0, d.Command.Steer)
	assert.Equal(t, 0.0, c.State().TargetSteer)
	assert.Greater(t, d.Command.Throttle, 0.0)
}

func TestTargetAtRightAngle(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	for _, side := range []float64{1, -1} {
		c := newTestController(cfg)
		d := c.Tick(at(0), poseAt(0, 0), targetAt("target", side*40, 0))

		require.InDelta(t, side*math.Pi/2, d.Tracking.Angle, 1e-9)
		st := c.State()
		assert.InDelta(t, side*math.Min(math.Abs(d.Tracking.Angle), cfg.MaxSteer), st.TargetSteer, 1e-12)
		assert.Equal(t, side, math.Copysign(1, d.Command.Steer))
		assert.NotZero(t, d.Command.Steer)
	}
}

func TestSteerAlwaysBounded(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	c := newTestController(cfg)
	rng := rand.New(rand.NewPCG(7, 11))

	for ms := 0; ms < 60000; ms += 100 {
		self := poseAt(rng.Float64()*200-100, rng.Float64()*200-100)
		self.Orientation = YawRotation(rng.Float64() * 2 * math.Pi)
		self.Velocity = mgl64.Vec3{rng.Float64() * 3, 0, 0}
		var target *TargetInfo
		if rng.IntN(10) > 0 {
			target = targetAt("target", rng.Float64()*200-100, rng.Float64()*200-100)
		}
		if rng.IntN(50) == 0 {
			c.OnContact(ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 1000}, "target")
		}

		d := c.Tick(at(ms), self, target)
		st := c.State()
		require.LessOrEqual(t, math.Abs(d.Command.Steer), cfg.MaxSteer)
		require.LessOrEqual(t, math.Abs(st.CurrentSteer), cfg.MaxSteer)
		require.LessOrEqual(t, math.Abs(st.TargetSteer), cfg.MaxSteer)
		require.LessOrEqual(t, math.Abs(st.CurrentThrottle), cfg.MaxSpeed)
		require.LessOrEqual(t, st.Stuck.History.Len(), historyCapacity)
	}
}

func TestNoTargetFreezesOutput(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())

	c.Tick(at(0), poseAt(0, 0), targetAt("target", 30, 30))
	require.NotZero(t, c.State().CurrentThrottle)

	d := c.Tick(at(100), poseAt(0, 0), nil)
	assert.Equal(t, ModeNoTarget, d.Mode)
	assert.False(t, d.HasTarget)
	assert.Equal(t, Command{}, d.Command)
	assert.False(t, c.State().IsAttacking)
}

func TestStuckScenarioStartsRecovery(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())
	self := wedged()
	target := targetAt("target", 0, 100)

	started := -1
	for ms := 0; ms <= 2000; ms += 100 {
		before := c.State().Recovery.Phase
		d := c.Tick(at(ms), self, target)
		if before == PhaseNone && c.State().Recovery.Phase == PhaseReverse {
			started = ms
			assert.Equal(t, TriggerStuck, d.Trigger)
			assert.Equal(t, ModeRecovery, d.Mode)
			break
		}
	}
	// Throttle is zero on the first sample, so the counter reaches 3 at the
	// samples taken at 500, 1000 and 1500ms.
	assert.Equal(t, 1500, started)
}

func TestAttackRangeNeverStuck(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())
	self := wedged()

	for ms := 0; ms <= 30000; ms += 100 {
		d := c.Tick(at(ms), self, targetAt("target", 0, 10))
		require.Equal(t, ModePursuit, d.Mode, "t=%dms", ms)
		require.True(t, d.Command.Throttle > 0)
	}
	assert.True(t, c.State().IsAttacking)
	assert.Zero(t, c.State().Stuck.Counter)
}

func TestRecoveryPhaseOrderThroughController(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())
	target := targetAt("target", 0, 100)

	require.True(t, c.OnContact(ContactEvent{BodyA: "wall", BodyB: "agent", ImpactForce: 800}, "target"))

	// Stop before the stationary agent could be sampled as stuck again.
	var phases []RecoveryPhase
	for ms := 0; ms <= 3000; ms += 100 {
		c.Tick(at(ms), poseAt(0, 0), target)
		p := c.State().Recovery.Phase
		if len(phases) == 0 || phases[len(phases)-1] != p {
			phases = append(phases, p)
		}
	}
	want := []RecoveryPhase{PhaseReverse, PhaseTurn, PhaseForward, PhaseNone}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phase order (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(1), c.Diagnostics().Recoveries)
}

func TestRecoverySuppressesPursuit(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	c, err := NewController("agent", cfg, fixedDirection(-1))
	require.NoError(t, err)
	target := targetAt("target", 40, 0)

	c.OnContact(ContactEvent{BodyA: "agent", BodyB: "rock", ImpactForce: 501}, "target")
	d := c.Tick(at(0), poseAt(0, 0), target)
	require.Equal(t, ModeRecovery, d.Mode)
	assert.Equal(t, TriggerContact, d.Trigger)
	assert.Equal(t, PhaseReverse, d.Phase)
	assert.InDelta(t, -0.3*cfg.MaxSteer, d.Command.Steer, 1e-12)
	assert.InDelta(t, -0.6*cfg.MaxSpeed, d.Command.Throttle, 1e-12)

	d = c.Tick(at(1000), poseAt(0, 0), target)
	assert.Equal(t, PhaseTurn, d.Phase)
	assert.InDelta(t, -cfg.MaxSteer, d.Command.Steer, 1e-12)
	assert.Zero(t, d.Command.Throttle)

	d = c.Tick(at(1800), poseAt(0, 0), target)
	assert.Equal(t, PhaseForward, d.Phase)
	assert.Equal(t, Command{Steer: 0, Throttle: 0.4 * cfg.MaxSpeed}, d.Command)

	// Forward expires and pursuit resumes in the same tick.
	d = c.Tick(at(2300), poseAt(0, 0), target)
	assert.Equal(t, ModePursuit, d.Mode)
	assert.Equal(t, PhaseNone, d.Phase)
	assert.Zero(t, c.State().Stuck.Counter)
	assert.Zero(t, c.State().Stuck.History.Len())
}

func TestOnContactFilters(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	tests := []struct {
		name string
		ev   ContactEvent
		want bool
	}{
		{"strong wall hit", ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 900}, true},
		{"hit the target", ContactEvent{BodyA: "target", BodyB: "agent", ImpactForce: 5000}, false},
		{"at threshold", ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 500}, false},
		{"weak", ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 100}, false},
		{"someone else", ContactEvent{BodyA: "x", BodyB: "wall", ImpactForce: 900}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestController(cfg)
			before := c.State()
			assert.Equal(t, tt.want, c.OnContact(tt.ev, "target"))
			// The callback only raises a flag; state changes wait for Tick.
			assert.Equal(t, before, c.State())

			d := c.Tick(at(0), poseAt(0, 0), targetAt("target", 0, 100))
			if tt.want {
				assert.Equal(t, ModeRecovery, d.Mode)
			} else {
				assert.Equal(t, ModePursuit, d.Mode)
			}
		})
	}
}

func TestContactDuringRecoveryIsDropped(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())
	hit := ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 900}
	target := targetAt("target", 0, 100)

	c.OnContact(hit, "target")
	c.Tick(at(0), poseAt(0, 0), target)
	c.OnContact(hit, "target")
	d := c.Tick(at(100), poseAt(0, 0), target)
	assert.Equal(t, PhaseReverse, d.Phase)
	assert.Equal(t, at(0), c.State().Recovery.PhaseStart)

	for ms := 200; ms <= 2300; ms += 100 {
		d = c.Tick(at(ms), poseAt(0, 0), target)
	}
	assert.Equal(t, ModePursuit, d.Mode, "stale contact must not restart recovery")
}

func TestFlipScenario(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())
	body := &fakeBody{id: "agent", pose: flippedPose(0.1)}
	startY := body.pose.Position.Y()
	target := targetAt("target", 0, 100)

	resetAt := -1
	for ms := 0; ms <= 1200; ms += 100 {
		d := c.Tick(at(ms), body.Pose(), target)
		if d.Reset != nil {
			resetAt = ms
			assert.Equal(t, ModeFlipReset, d.Mode)
			body.ResetBody(d.Reset.Position, d.Reset.Orientation)
			break
		}
		assert.Equal(t, ModeFlipped, d.Mode, "t=%dms", ms)
		assert.Equal(t, Command{}, d.Command)
	}
	require.Equal(t, 1000, resetAt)
	assert.InDelta(t, startY+3, body.pose.Position.Y(), 1e-12)
	assert.Equal(t, mgl64.Vec3{}, body.pose.Velocity)
	assert.Equal(t, mgl64.Vec3{}, body.pose.AngularVelocity)

	d := c.Tick(at(1100), body.Pose(), target)
	assert.Equal(t, ModePursuit, d.Mode)
	assert.Equal(t, uint64(1), c.Diagnostics().FlipResets)
}

func TestFlipPreemptsRecovery(t *testing.T) {
	t.Parallel()
	c := newTestController(DefaultConfig())
	target := targetAt("target", 0, 100)

	c.OnContact(ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 900}, "target")
	c.Tick(at(0), poseAt(0, 0), target)
	require.Equal(t, PhaseReverse, c.State().Recovery.Phase)

	flipped := flippedPose(-1)
	var d Decision
	for ms := 200; ms <= 1200; ms += 100 {
		d = c.Tick(at(ms), flipped, target)
		if d.Reset != nil {
			break
		}
		assert.Equal(t, ModeFlipped, d.Mode)
		assert.Equal(t, Command{}, d.Command)
	}
	require.NotNil(t, d.Reset)
	assert.Equal(t, PhaseNone, c.State().Recovery.Phase)
	assert.Zero(t, c.State().Stuck.Counter)
}

func TestControllerLogsRecovery(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c, err := NewController("agent", DefaultConfig(),
		fixedDirection(1), WithLogger(utils.NewWriterLogger(&buf, utils.DEBUG)))
	require.NoError(t, err)

	c.OnContact(ContactEvent{BodyA: "agent", BodyB: "wall", ImpactForce: 900}, "")
	for ms := 0; ms <= 2300; ms += 100 {
		c.Tick(at(ms), poseAt(0, 0), nil)
	}
	out := buf.String()
	assert.Contains(t, out, "recovery start: trigger=contact")
	assert.Contains(t, out, "recovery phase REVERSE -> TURN")
	assert.Contains(t, out, "recovery finished")
	assert.NotContains(t, out, "[TRACE]")
}

func TestSeededDirectionIsReproducible(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Seed = 42

	directions := func() []float64 {
		c, err := NewController("agent", cfg)
		require.NoError(t, err)
		var out []float64
		for range 16 {
			out = append(out, c.direction())
		}
		return out
	}
	first := directions()
	assert.Equal(t, first, directions())
	for _, d := range first {
		assert.Contains(t, []float64{-1, 1}, d)
	}
}

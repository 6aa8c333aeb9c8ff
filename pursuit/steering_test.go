package pursuit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSteerTarget(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	tests := []struct {
		name  string
		angle float64
		want  float64
	}{
		{"inside dead zone", 0.05, 0},
		{"negative inside dead zone", -0.079, 0},
		{"progressive band", 0.2, 0.1},
		{"progressive band negative", -0.2, -0.1},
		{"full gain", 0.5, 0.5},
		{"clamped", 1.57, 0.6},
		{"clamped negative", -3, -0.6},
		{"not a number", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, steerTarget(cfg, tt.angle), 1e-12)
		})
	}
}

func TestSmoothSteer(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	t.Run("slow blend when misaligned", func(t *testing.T) {
		assert.InDelta(t, 0.09, smoothSteer(cfg, 0, 0.6, 0.5), 1e-12)
	})
	t.Run("fast blend when aligned", func(t *testing.T) {
		assert.InDelta(t, 0.18, smoothSteer(cfg, 0, 0.6, 0.9), 1e-12)
	})
	t.Run("snaps small residual to zero", func(t *testing.T) {
		assert.Zero(t, smoothSteer(cfg, 0.02, 0, 0.95))
	})
	t.Run("never exceeds the limit", func(t *testing.T) {
		assert.LessOrEqual(t, math.Abs(smoothSteer(cfg, 5, 5, 0)), cfg.MaxSteer)
	})
}

func TestSmoothSteerConverges(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	steer := 0.5
	for range 100 {
		steer = smoothSteer(cfg, steer, 0, 1)
	}
	assert.Zero(t, steer)
}

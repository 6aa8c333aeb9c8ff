package telemetry

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pursuit-core/pursuit"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func decision(ms int, mode pursuit.Mode, steer, throttle, distance float64) pursuit.Decision {
	d := pursuit.Decision{
		At:      start.Add(time.Duration(ms) * time.Millisecond),
		Mode:    mode,
		Command: pursuit.Command{Steer: steer, Throttle: throttle},
	}
	if !math.IsNaN(distance) {
		d.HasTarget = true
		d.Tracking = pursuit.Tracking{Distance: distance, Alignment: 1}
	}
	return d
}

func TestRecorderRoundTrip(t *testing.T) {
	t.Parallel()
	r := openMemory(t)

	runID, err := r.StartRun("unit", "sim", pursuit.DefaultConfig(), start)
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)

	r.ObserveTick("agent", decision(100, pursuit.ModePursuit, 0.1, 400, 40))
	r.ObserveTick("agent", decision(200, pursuit.ModePursuit, -0.1, 420, 30))
	rec := decision(300, pursuit.ModeRecovery, 0.18, -360, 31)
	rec.Trigger = pursuit.TriggerContact
	rec.Phase = pursuit.PhaseReverse
	r.ObserveTick("agent", rec)
	flip := decision(400, pursuit.ModeFlipReset, 0, 0, math.NaN())
	flip.Reset = &pursuit.BodyReset{}
	r.ObserveTick("agent", flip)
	r.ObserveTick("other", decision(100, pursuit.ModeNoTarget, 0, 0, math.NaN()))

	s, err := r.Summarize(runID, "agent")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Ticks)
	assert.Equal(t, map[string]int{"PURSUIT": 2, "RECOVERY": 1, "FLIP_RESET": 1}, s.ModeCounts)
	assert.Equal(t, 1, s.Recoveries)
	assert.Equal(t, 1, s.FlipResets)
	assert.InDelta(t, 0.045, s.SteerMean, 1e-9)
	assert.InDelta(t, 0.18, s.SteerP95, 1e-9)
	assert.InDelta(t, 115, s.ThrottleMean, 1e-9)
	assert.InDelta(t, 30, s.MinDistance, 1e-9)
	assert.InDelta(t, 101.0/3, s.MeanDistance, 1e-9)
	assert.Contains(t, s.String(), "1 recoveries")

	require.NoError(t, r.EndRun(start.Add(time.Second)))
	var ended int64
	require.NoError(t, r.DB().QueryRow(`SELECT ended_ms FROM runs WHERE id = ?`, runID).Scan(&ended))
	assert.Equal(t, start.Add(time.Second).UnixMilli(), ended)

	var phase string
	require.NoError(t, r.DB().QueryRow(
		`SELECT phase FROM ticks WHERE run_id = ? AND cause = 'contact'`, runID).Scan(&phase))
	assert.Equal(t, "REVERSE", phase)
}

func TestRecorderIgnoresTicksOutsideRun(t *testing.T) {
	t.Parallel()
	r := openMemory(t)
	r.ObserveTick("agent", decision(100, pursuit.ModePursuit, 0, 1, 5))
	assert.NoError(t, r.Flush())
	assert.ErrorIs(t, r.EndRun(start), ErrNoRun)

	var n int
	require.NoError(t, r.DB().QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&n))
	assert.Zero(t, n)
}

func TestRecorderFlushesInBatches(t *testing.T) {
	t.Parallel()
	r := openMemory(t)
	runID, err := r.StartRun("batch", "sim", nil, start)
	require.NoError(t, err)

	for i := range flushEvery + 10 {
		r.ObserveTick("agent", decision(i*100, pursuit.ModePursuit, 0, 100, 50))
	}
	var n int
	require.NoError(t, r.DB().QueryRow(`SELECT COUNT(*) FROM ticks WHERE run_id = ?`, runID).Scan(&n))
	assert.Equal(t, flushEvery, n)

	s, err := r.Summarize(runID, "agent")
	require.NoError(t, err)
	assert.Equal(t, flushEvery+10, s.Ticks)
}

func TestSummarizeUnknownAgent(t *testing.T) {
	t.Parallel()
	r := openMemory(t)
	runID, err := r.StartRun("empty", "sim", nil, start)
	require.NoError(t, err)
	_, err = r.Summarize(runID, "nobody")
	assert.Error(t, err)
}

func TestRecorderFileDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	r, err := Open(path, nil)
	require.NoError(t, err)
	runID, err := r.StartRun("file", "sim", map[string]int{"agents": 1}, start)
	require.NoError(t, err)
	r.ObserveTick("agent", decision(100, pursuit.ModePursuit, 0.2, 300, 12))
	require.NoError(t, r.Close())

	r, err = Open(path, nil)
	require.NoError(t, err)
	defer r.Close()
	s, err := r.Summarize(runID, "agent")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Ticks)

	var cfg string
	require.NoError(t, r.DB().QueryRow(`SELECT config_json FROM runs WHERE id = ?`, runID).Scan(&cfg))
	assert.JSONEq(t, `{"agents": 1}`, cfg)
}

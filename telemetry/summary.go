package telemetry

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates one agent's ticks within a run.
type Summary struct {
	RunID   string
	AgentID string
	Ticks   int

	ModeCounts map[string]int
	Recoveries int
	FlipResets int

	SteerMean, SteerStdDev       float64
	SteerP95                     float64 // of |steer|
	ThrottleMean, ThrottleStdDev float64

	// NaN when the target was never visible.
	MinDistance, MeanDistance float64
}

// Summarize reads every tick of agentID in runID.
func (r *Recorder) Summarize(runID, agentID string) (Summary, error) {
	if err := r.Flush(); err != nil {
		return Summary{}, err
	}
	rows, err := r.db.Query(`SELECT mode, cause, steer, throttle, distance, reset
		FROM ticks WHERE run_id = ? AND agent_id = ? ORDER BY t_ms`, runID, agentID)
	if err != nil {
		return Summary{}, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	s := Summary{RunID: runID, AgentID: agentID, ModeCounts: map[string]int{}}
	var steer, absSteer, throttle, distance []float64
	for rows.Next() {
		var (
			mode, cause string
			st, th      float64
			dist        *float64
			reset       int
		)
		if err := rows.Scan(&mode, &cause, &st, &th, &dist, &reset); err != nil {
			return Summary{}, fmt.Errorf("scan tick: %w", err)
		}
		s.Ticks++
		s.ModeCounts[mode]++
		if cause != "none" {
			s.Recoveries++
		}
		s.FlipResets += reset
		steer = append(steer, st)
		absSteer = append(absSteer, math.Abs(st))
		throttle = append(throttle, th)
		if dist != nil {
			distance = append(distance, *dist)
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("read ticks: %w", err)
	}
	if s.Ticks == 0 {
		return Summary{}, fmt.Errorf("run %s has no ticks for agent %s", runID, agentID)
	}

	s.SteerMean, s.SteerStdDev = stat.MeanStdDev(steer, nil)
	s.ThrottleMean, s.ThrottleStdDev = stat.MeanStdDev(throttle, nil)
	sort.Float64s(absSteer)
	s.SteerP95 = stat.Quantile(0.95, stat.Empirical, absSteer, nil)

	s.MinDistance, s.MeanDistance = math.NaN(), math.NaN()
	if len(distance) > 0 {
		s.MinDistance = floats.Min(distance)
		s.MeanDistance = stat.Mean(distance, nil)
	}
	return s, nil
}

// String renders the summary as the runner prints it at exit.
func (s Summary) String() string {
	modes := make([]string, 0, len(s.ModeCounts))
	for m := range s.ModeCounts {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	var b strings.Builder
	fmt.Fprintf(&b, "agent %s: %d ticks, %d recoveries, %d flip resets\n",
		s.AgentID, s.Ticks, s.Recoveries, s.FlipResets)
	for _, m := range modes {
		fmt.Fprintf(&b, "  %-10s %6d\n", m, s.ModeCounts[m])
	}
	fmt.Fprintf(&b, "  steer    mean=%+.3f sd=%.3f p95|.|=%.3f\n", s.SteerMean, s.SteerStdDev, s.SteerP95)
	fmt.Fprintf(&b, "  throttle mean=%.1f sd=%.1f\n", s.ThrottleMean, s.ThrottleStdDev)
	fmt.Fprintf(&b, "  distance min=%.2f mean=%.2f\n", s.MinDistance, s.MeanDistance)
	return b.String()
}

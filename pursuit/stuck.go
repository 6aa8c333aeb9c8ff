package pursuit

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const historyCapacity = 5

// PositionHistory is a fixed ring of the most recent sampled positions.
type PositionHistory struct {
	buf   [historyCapacity]mgl64.Vec3
	start int
	n     int
}

func (h *PositionHistory) Push(p mgl64.Vec3) {
	if h.n < historyCapacity {
		h.buf[(h.start+h.n)%historyCapacity] = p
		h.n++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % historyCapacity
}

func (h PositionHistory) Len() int { return h.n }

func (h PositionHistory) Oldest() mgl64.Vec3 { return h.buf[h.start] }

func (h PositionHistory) Newest() mgl64.Vec3 {
	if h.n == 0 {
		return mgl64.Vec3{}
	}
	return h.buf[(h.start+h.n-1)%historyCapacity]
}

// Positions returns the samples oldest first.
func (h PositionHistory) Positions() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%historyCapacity]
	}
	return out
}

func (h *PositionHistory) Reset() { *h = PositionHistory{} }

// StuckState is the stuck detector's memory.
type StuckState struct {
	Counter    int
	History    PositionHistory
	LastSample time.Time // zero until the first sample
}

func (s *StuckState) Reset() {
	s.Counter = 0
	s.History.Reset()
}

// stepStuck samples motion at most once per StuckCheckInterval and reports
// whether the agent is wedged: slow while throttling for StuckCount samples
// and net displacement across the history under StuckDisplacement. Nothing is
// sampled while the target is within attack range.
func stepStuck(cfg Config, st *StuckState, now time.Time, pose AgentPose, distance, throttle float64) bool {
	if inAttackRange(cfg, distance) {
		return false
	}
	if !st.LastSample.IsZero() && now.Sub(st.LastSample) < cfg.StuckCheckInterval.Duration {
		return false
	}
	st.LastSample = now
	st.History.Push(pose.Position)

	if pose.Speed() < cfg.StuckSpeed && throttle > 0 {
		st.Counter++
	} else if st.Counter > 0 {
		st.Counter--
	}

	if st.Counter < cfg.StuckCount || st.History.Len() < 2 {
		return false
	}
	return st.History.Newest().Sub(st.History.Oldest()).Len() < cfg.StuckDisplacement
}

package pursuit

import "time"

// RecoveryPhase is one stage of the extrication sequence.
type RecoveryPhase int

const (
	PhaseNone RecoveryPhase = iota
	PhaseReverse
	PhaseTurn
	PhaseForward
)

func (p RecoveryPhase) String() string {
	switch p {
	case PhaseNone:
		return "NONE"
	case PhaseReverse:
		return "REVERSE"
	case PhaseTurn:
		return "TURN"
	case PhaseForward:
		return "FORWARD"
	default:
		return "UNKNOWN"
	}
}

// next is the only transition function: Reverse -> Turn -> Forward -> None.
func (p RecoveryPhase) next() RecoveryPhase {
	switch p {
	case PhaseReverse:
		return PhaseTurn
	case PhaseTurn:
		return PhaseForward
	default:
		return PhaseNone
	}
}

// Trigger records why a recovery started.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerContact
	TriggerStuck
)

func (t Trigger) String() string {
	switch t {
	case TriggerContact:
		return "contact"
	case TriggerStuck:
		return "stuck"
	default:
		return "none"
	}
}

type RecoveryState struct {
	Phase      RecoveryPhase
	PhaseStart time.Time
	Direction  float64 // -1 or +1
}

func (r RecoveryState) Active() bool { return r.Phase != PhaseNone }

func (cfg Config) phaseDuration(p RecoveryPhase) time.Duration {
	switch p {
	case PhaseReverse:
		return cfg.ReverseDuration.Duration
	case PhaseTurn:
		return cfg.TurnDuration.Duration
	case PhaseForward:
		return cfg.ForwardDuration.Duration
	default:
		return 0
	}
}

// startRecovery enters Reverse. It is ignored while a sequence is running.
func startRecovery(st *RecoveryState, now time.Time, direction float64) bool {
	if st.Active() {
		return false
	}
	if direction >= 0 {
		direction = 1
	} else {
		direction = -1
	}
	*st = RecoveryState{Phase: PhaseReverse, PhaseStart: now, Direction: direction}
	return true
}

// stepRecovery advances at most one phase per call and returns the command
// for the phase now active. ok is false once the sequence has returned to
// None.
func stepRecovery(cfg Config, st *RecoveryState, now time.Time) (cmd Command, ok bool) {
	if !st.Active() {
		return Command{}, false
	}
	if now.Sub(st.PhaseStart) >= cfg.phaseDuration(st.Phase) {
		st.Phase = st.Phase.next()
		st.PhaseStart = now
		if !st.Active() {
			return Command{}, false
		}
	}
	return recoveryCommand(cfg, st.Phase, st.Direction), true
}

func recoveryCommand(cfg Config, p RecoveryPhase, direction float64) Command {
	switch p {
	case PhaseReverse:
		return Command{Steer: direction * 0.3 * cfg.MaxSteer, Throttle: -0.6 * cfg.MaxSpeed}
	case PhaseTurn:
		return Command{Steer: direction * cfg.MaxSteer, Throttle: 0}
	case PhaseForward:
		return Command{Steer: 0, Throttle: 0.4 * cfg.MaxSpeed}
	default:
		return Command{}
	}
}

package sim

// PIDConfig holds the cruise controller gains.
type PIDConfig struct {
	TargetSpeed   float64 `json:"target_speed"` // m/s
	Kp            float64 `json:"kp"`
	Ki            float64 `json:"ki"`
	Kd            float64 `json:"kd"`
	MaxForce      float64 `json:"max_force"` // per wheel
	MinForce      float64 `json:"min_force"`
	IntegralLimit float64 `json:"integral_limit"`
}

// DefaultPIDConfig is tuned for the default car at around 12 m/s.
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		TargetSpeed:   12,
		Kp:            120,
		Ki:            25,
		Kd:            4,
		MaxForce:      500,
		MinForce:      -300,
		IntegralLimit: 20,
	}
}

// SpeedPID is a discrete PID holding a vehicle at a target speed by
// commanding engine force.
type SpeedPID struct {
	cfg PIDConfig

	integral    float64
	prevError   float64
	initialized bool
}

func NewSpeedPID(cfg PIDConfig) *SpeedPID {
	return &SpeedPID{cfg: cfg}
}

// Reset clears the integrator and derivative memory.
func (pid *SpeedPID) Reset() {
	pid.integral = 0
	pid.prevError = 0
	pid.initialized = false
}

// Update returns the engine force for the measured speed after dt seconds.
func (pid *SpeedPID) Update(speed, dt float64) float64 {
	err := pid.cfg.TargetSpeed - speed
	if !pid.initialized {
		pid.prevError = err
		pid.initialized = true
	}

	p := pid.cfg.Kp * err

	prevIntegral := pid.integral
	pid.integral += err * dt
	if pid.integral > pid.cfg.IntegralLimit {
		pid.integral = pid.cfg.IntegralLimit
	} else if pid.integral < -pid.cfg.IntegralLimit {
		pid.integral = -pid.cfg.IntegralLimit
	}

	// Derivative on error; the first sample has no history and contributes 0.
	var d float64
	if dt > 0 {
		d = pid.cfg.Kd * (err - pid.prevError) / dt
	}

	force := p + pid.cfg.Ki*pid.integral + d
	switch {
	case force > pid.cfg.MaxForce:
		force = pid.cfg.MaxForce
		// Conditional integration: stop accumulating into the saturated side.
		if err > 0 {
			pid.integral = prevIntegral
		}
	case force < pid.cfg.MinForce:
		force = pid.cfg.MinForce
		if err < 0 {
			pid.integral = prevIntegral
		}
	}

	pid.prevError = err
	return force
}

func (pid *SpeedPID) TargetSpeed() float64 { return pid.cfg.TargetSpeed }

// SetTargetSpeed changes the setpoint without resetting state.
func (pid *SpeedPID) SetTargetSpeed(v float64) { pid.cfg.TargetSpeed = v }

// PIDDiagnostics is the controller's internal state for logging.
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
}

func (pid *SpeedPID) Diagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.cfg.Kp * pid.prevError,
		I:        pid.cfg.Ki * pid.integral,
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.einride.tech/can"

	"pursuit-core/pursuit"
	"pursuit-core/sched"
	"pursuit-core/utils"
)

const (
	frameSteer       = "WHEEL_STEER_CMD"
	frameForce       = "WHEEL_FORCE_CMD"
	frameReset       = "BODY_RESET_CMD"
	frameAgentPos    = "AGENT_POSITION"
	frameAgentVel    = "AGENT_VELOCITY"
	frameAgentOrient = "AGENT_ORIENTATION"
	frameAgentAngVel = "AGENT_ANGULAR_VELOCITY"
	frameTargetPos   = "TARGET_POSITION"
	frameTargetVel   = "TARGET_VELOCITY"
	frameContact     = "CONTACT_EVENT"

	bridgeWheels = 4
)

type BridgeConfig struct {
	BodyID        uint16
	TargetBodyID  uint16
	TargetTimeout time.Duration
}

// CANBridge presents a vehicle on the CAN bus as the pursuit agent's body,
// actuator, target provider and contact source. Every method except Listen
// runs on the loop goroutine; the RX goroutine hands frames over with Post.
type CANBridge struct {
	ctx    context.Context
	cfg    BridgeConfig
	loop   *sched.Loop
	cmap   *utils.CANMap
	writer utils.CANWriter
	log    *utils.Logger

	steerFD, forceFD, resetFD *utils.FrameDef

	steer [bridgeWheels]float64
	force [bridgeWheels]float64

	pose        pursuit.AgentPose
	target      pursuit.TargetInfo
	targetValid bool
	targetSeen  time.Time

	subs    map[int]func(raw any)
	nextSub int
	timers  []*sched.Timer

	stats BridgeStats
}

// BridgeStats counts bus traffic.
type BridgeStats struct {
	TxFrames     uint64
	TxErrors     uint64
	RxFrames     uint64
	DecodeErrors uint64
	Contacts     uint64
}

func NewCANBridge(ctx context.Context, loop *sched.Loop, cmap *utils.CANMap, writer utils.CANWriter,
	cfg BridgeConfig, log *utils.Logger) (*CANBridge, error) {
	b := &CANBridge{
		ctx:    ctx,
		cfg:    cfg,
		loop:   loop,
		cmap:   cmap,
		writer: writer,
		log:    log,
		subs:   map[int]func(raw any){},
		pose:   pursuit.AgentPose{Orientation: mgl64.QuatIdent()},
	}
	if b.cfg.TargetTimeout <= 0 {
		b.cfg.TargetTimeout = 500 * time.Millisecond
	}

	var err error
	if b.steerFD, err = cmap.FrameByName(frameSteer); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if b.forceFD, err = cmap.FrameByName(frameForce); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if b.resetFD, err = cmap.FrameByName(frameReset); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	for _, fd := range []*utils.FrameDef{b.steerFD, b.forceFD} {
		if fd.Cycle() <= 0 {
			return nil, fmt.Errorf("frame %s has invalid cycle_ms %d", fd.Name, fd.CycleMS)
		}
	}
	return b, nil
}

// Start schedules the cyclic command frames. The bus keeps receiving the last
// latched values until the controller overwrites them.
func (b *CANBridge) Start() {
	b.timers = append(b.timers,
		b.loop.Every("tx-"+b.steerFD.Name, b.steerFD.Cycle(), func(time.Time) {
			b.transmit(b.steerFD.Name, wheelSignals("steer_w", b.steer))
		}),
		b.loop.Every("tx-"+b.forceFD.Name, b.forceFD.Cycle(), func(time.Time) {
			b.transmit(b.forceFD.Name, wheelSignals("force_w", b.force))
		}),
	)
	b.log.Info("CAN bridge started: body=%d target=%d steer=0x%X/%s force=0x%X/%s",
		b.cfg.BodyID, b.cfg.TargetBodyID, b.steerFD.ID, b.steerFD.Cycle(), b.forceFD.ID, b.forceFD.Cycle())
}

// Listen reads frames until ctx ends or the reader fails for good, posting
// each one to the loop.
func (b *CANBridge) Listen(ctx context.Context, reader utils.CANReader) {
	b.log.Debug("RX loop started")
	defer b.log.Debug("RX loop stopped")

	for {
		frame, err := reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, utils.ErrReceiverClosed) {
				return
			}
			b.log.Error("RX error: %v", err)
			continue
		}
		if !b.loop.Post(func() { b.handleFrame(frame) }) {
			return
		}
	}
}

func (b *CANBridge) handleFrame(frame can.Frame) {
	b.stats.RxFrames++
	fd, v, err := b.cmap.DecodeEinrideFrame(frame)
	if err != nil {
		b.stats.DecodeErrors++
		b.log.Trace("RX id=0x%X ignored: %v", uint32(frame.ID), err)
		return
	}
	if fd.Direction != "rx" {
		return
	}

	switch fd.Name {
	case frameAgentPos:
		b.pose.Position = mgl64.Vec3{v["x"], v["y"], v["z"]}
	case frameAgentVel:
		b.pose.Velocity = mgl64.Vec3{v["vx"], v["vy"], v["vz"]}
	case frameAgentOrient:
		b.pose.Orientation = mgl64.Quat{W: v["qw"], V: mgl64.Vec3{v["qx"], v["qy"], v["qz"]}}
	case frameAgentAngVel:
		b.pose.AngularVelocity = mgl64.Vec3{v["wx"], v["wy"], v["wz"]}
	case frameTargetPos:
		b.targetValid = v["valid"] >= 0.5
		if b.targetValid {
			b.target.Pose.Position = mgl64.Vec3{v["x"], v["y"], v["z"]}
			b.targetSeen = b.loop.Now()
		}
	case frameTargetVel:
		b.target.Pose.Velocity = mgl64.Vec3{v["vx"], v["vy"], v["vz"]}
	case frameContact:
		b.stats.Contacts++
		for _, id := range sortedKeys(b.subs) {
			b.subs[id](v)
		}
	}
	b.log.Trace("RX %s % X", fd.Name, frame.Data[:frame.Length])
}

func (b *CANBridge) transmit(name string, values map[string]float64) {
	frame, err := b.cmap.EncodeEinrideFrame(name, values)
	if err != nil {
		b.stats.TxErrors++
		b.log.Error("Encode %s failed: %v", name, err)
		return
	}
	if err := b.writer.WriteFrame(b.ctx, frame); err != nil {
		b.stats.TxErrors++
		b.log.Error("Transmit %s failed: %v", name, err)
		return
	}
	b.stats.TxFrames++
	b.log.Trace("TX %s id=0x%X data=% X", name, uint32(frame.ID), frame.Data[:frame.Length])
}

func wheelSignals(prefix string, vals [bridgeWheels]float64) map[string]float64 {
	out := make(map[string]float64, bridgeWheels)
	for i, v := range vals {
		out[prefix+strconv.Itoa(i)] = v
	}
	return out
}

func (b *CANBridge) BodyID() string { return strconv.Itoa(int(b.cfg.BodyID)) }

func (b *CANBridge) Pose() pursuit.AgentPose { return b.pose }

func (b *CANBridge) SetSteeringValue(value float64, wheel int) {
	if wheel >= 0 && wheel < bridgeWheels {
		b.steer[wheel] = value
	}
}

func (b *CANBridge) ApplyEngineForce(force float64, wheel int) {
	if wheel >= 0 && wheel < bridgeWheels {
		b.force[wheel] = force
	}
}

// ResetBody sends BODY_RESET_CMD at once; the vehicle zeroes its velocities
// on receipt. Only the heading of orientation travels on the bus.
func (b *CANBridge) ResetBody(position mgl64.Vec3, orientation mgl64.Quat) {
	yaw, _ := pursuit.AgentPose{Orientation: orientation}.Yaw()
	b.transmit(b.resetFD.Name, map[string]float64{
		"pos_x": position.X(),
		"pos_y": position.Y(),
		"pos_z": position.Z(),
		"yaw":   yaw,
	})
}

// Target reports the pursued vehicle while its position frames are fresh and
// flagged valid.
func (b *CANBridge) Target() (pursuit.TargetInfo, bool) {
	if !b.targetValid || b.loop.Now().Sub(b.targetSeen) > b.cfg.TargetTimeout {
		return pursuit.TargetInfo{}, false
	}
	info := b.target
	info.ID = strconv.Itoa(int(b.cfg.TargetBodyID))
	info.Pose.Orientation = mgl64.QuatIdent()
	return info, true
}

func (b *CANBridge) SubscribeContacts(fn func(raw any)) func() {
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() { delete(b.subs, id) }
}

func (b *CANBridge) Stats() BridgeStats { return b.stats }

// Close stops the cyclic frames after sending one last all-zero command.
func (b *CANBridge) Close() error {
	for _, t := range b.timers {
		t.Cancel()
	}
	b.timers = nil
	// The run context is usually cancelled by now; the stop frames still go out.
	b.ctx = context.WithoutCancel(b.ctx)
	b.steer = [bridgeWheels]float64{}
	b.force = [bridgeWheels]float64{}
	b.transmit(b.steerFD.Name, wheelSignals("steer_w", b.steer))
	b.transmit(b.forceFD.Name, wheelSignals("force_w", b.force))
	b.log.Info("CAN bridge closed: tx=%d tx_err=%d rx=%d decode_err=%d contacts=%d",
		b.stats.TxFrames, b.stats.TxErrors, b.stats.RxFrames, b.stats.DecodeErrors, b.stats.Contacts)
	return nil
}

func sortedKeys(m map[int]func(raw any)) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

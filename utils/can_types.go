package utils

import (
	"sort"
	"time"
)

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string // "tx" (controller -> vehicle) or "rx"
	CycleMS   int
	Signals   []SignalDef
}

// Cycle returns the transmit period of the frame, or zero for event frames.
func (fd *FrameDef) Cycle() time.Duration {
	if fd.CycleMS <= 0 {
		return 0
	}
	return time.Duration(fd.CycleMS) * time.Millisecond
}

// HasSignal reports whether the frame carries a signal with the given name.
func (fd *FrameDef) HasSignal(name string) bool {
	for _, s := range fd.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package pursuit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnknownContactShape is returned for payloads no known layout matches.
var ErrUnknownContactShape = errors.New("unknown contact payload shape")

// ContactEvent is the single canonical collision-begin event.
type ContactEvent struct {
	BodyA       string
	BodyB       string
	ImpactForce float64
}

// Other returns the body self collided with, or false when self is not part
// of the contact.
func (e ContactEvent) Other(self string) (string, bool) {
	switch self {
	case e.BodyA:
		return e.BodyB, true
	case e.BodyB:
		return e.BodyA, true
	default:
		return "", false
	}
}

// contactLayout tries to read one payload convention.
type contactLayout struct {
	name  string
	parse func(raw any) (ContactEvent, bool)
}

// contactLayouts is tried in order; the first match wins.
var contactLayouts = []contactLayout{
	{"canonical", parseCanonical},
	{"pair", parsePairMap},
	{"body-target", parseBodyTargetMap},
	{"can-signals", parseSignalMap},
}

// NormalizeContact converts any supported collision payload into a
// ContactEvent. Unsupported payloads return ErrUnknownContactShape.
func NormalizeContact(raw any) (ContactEvent, error) {
	for _, l := range contactLayouts {
		if ev, ok := l.parse(raw); ok {
			if !finite(ev.ImpactForce) {
				return ContactEvent{}, fmt.Errorf("%s layout: non-finite impact force", l.name)
			}
			ev.ImpactForce = math.Abs(ev.ImpactForce)
			return ev, nil
		}
	}
	return ContactEvent{}, fmt.Errorf("%w: %T", ErrUnknownContactShape, raw)
}

func parseCanonical(raw any) (ContactEvent, bool) {
	switch ev := raw.(type) {
	case ContactEvent:
		return ev, true
	case *ContactEvent:
		if ev == nil {
			return ContactEvent{}, false
		}
		return *ev, true
	}
	return ContactEvent{}, false
}

// parsePairMap reads {"bodyA", "bodyB", "impactForce"}.
func parsePairMap(raw any) (ContactEvent, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return ContactEvent{}, false
	}
	a, okA := bodyID(m["bodyA"])
	b, okB := bodyID(m["bodyB"])
	f, okF := number(m["impactForce"])
	if !okA || !okB || !okF {
		return ContactEvent{}, false
	}
	return ContactEvent{BodyA: a, BodyB: b, ImpactForce: f}, true
}

// parseBodyTargetMap reads {"body", "target", "contact": {"impactForce"}},
// where body received the event and target is what it hit.
func parseBodyTargetMap(raw any) (ContactEvent, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return ContactEvent{}, false
	}
	a, okA := bodyID(m["body"])
	b, okB := bodyID(m["target"])
	c, okC := m["contact"].(map[string]any)
	if !okA || !okB || !okC {
		return ContactEvent{}, false
	}
	f, okF := number(c["impactForce"])
	if !okF {
		return ContactEvent{}, false
	}
	return ContactEvent{BodyA: a, BodyB: b, ImpactForce: f}, true
}

// parseSignalMap reads a decoded CONTACT_EVENT frame.
func parseSignalMap(raw any) (ContactEvent, bool) {
	m, ok := raw.(map[string]float64)
	if !ok {
		return ContactEvent{}, false
	}
	a, okA := m["body_a"]
	b, okB := m["body_b"]
	f, okF := m["impact_force"]
	if !okA || !okB || !okF {
		return ContactEvent{}, false
	}
	return ContactEvent{
		BodyA:       strconv.FormatInt(int64(a), 10),
		BodyB:       strconv.FormatInt(int64(b), 10),
		ImpactForce: f,
	}, true
}

// bodyID accepts string ids and integral numeric ids.
func bodyID(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case fmt.Stringer:
		s := x.String()
		return s, s != ""
	}
	if f, ok := number(v); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10), true
	}
	return "", false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	default:
		return 0, false
	}
}

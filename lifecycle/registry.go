// Package lifecycle tracks the resources an agent acquires so teardown
// releases all of them, in a fixed order, exactly once.
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"pursuit-core/sched"
	"pursuit-core/utils"
)

// ErrClosed is returned when registering into a registry that was closed.
var ErrClosed = errors.New("registry closed")

// Kind orders teardown: timers stop first so no callback can fire against a
// half-released agent, then event subscriptions, then bodies, then the rest.
type Kind int

const (
	KindTimer Kind = iota
	KindSubscription
	KindBody
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindSubscription:
		return "subscription"
	case KindBody:
		return "body"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Handle is one releasable resource.
type Handle interface {
	ID() string
	Name() string
	Kind() Kind
	Teardown() error
}

type handle struct {
	id       string
	name     string
	kind     Kind
	teardown func() error
	done     bool
}

func (h *handle) ID() string   { return h.id }
func (h *handle) Name() string { return h.name }
func (h *handle) Kind() Kind   { return h.kind }

// Teardown runs the release function once; later calls return nil.
func (h *handle) Teardown() error {
	if h.done {
		return nil
	}
	h.done = true
	if h.teardown == nil {
		return nil
	}
	return h.teardown()
}

func newHandle(kind Kind, name string, fn func() error) *handle {
	return &handle{id: uuid.NewString(), name: name, kind: kind, teardown: fn}
}

// TimerHandle wraps a loop timer.
func TimerHandle(t *sched.Timer) Handle {
	return newHandle(KindTimer, t.Name(), func() error {
		t.Cancel()
		return nil
	})
}

// SubscriptionHandle wraps an unsubscribe function.
func SubscriptionHandle(name string, unsubscribe func()) Handle {
	return newHandle(KindSubscription, name, func() error {
		if unsubscribe != nil {
			unsubscribe()
		}
		return nil
	})
}

// BodyHandle wraps the release of a physics body.
func BodyHandle(name string, release func() error) Handle {
	return newHandle(KindBody, name, release)
}

// CloserHandle wraps any io.Closer.
func CloserHandle(name string, c io.Closer) Handle {
	return newHandle(KindResource, name, c.Close)
}

// Registry is not safe for concurrent use; it belongs to the loop goroutine.
type Registry struct {
	log     *utils.Logger
	handles []Handle
	closed  bool
}

func NewRegistry(log *utils.Logger) *Registry {
	return &Registry{log: log}
}

// Add registers h and returns its id.
func (r *Registry) Add(h Handle) (string, error) {
	if r.closed {
		// Release immediately so a late acquisition does not leak.
		err := h.Teardown()
		return "", errors.Join(fmt.Errorf("add %s %q: %w", h.Kind(), h.Name(), ErrClosed), err)
	}
	r.handles = append(r.handles, h)
	return h.ID(), nil
}

// Len returns the number of handles not yet released.
func (r *Registry) Len() int { return len(r.handles) }

// Release tears down a single handle early.
func (r *Registry) Release(id string) error {
	for i, h := range r.handles {
		if h.ID() != id {
			continue
		}
		r.handles = append(r.handles[:i], r.handles[i+1:]...)
		if err := h.Teardown(); err != nil {
			return fmt.Errorf("release %s %q: %w", h.Kind(), h.Name(), err)
		}
		return nil
	}
	return nil
}

// Close releases everything in Kind order, newest first within a kind, and
// keeps going past failures. A second Close is a no-op.
func (r *Registry) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	order := make([]int, len(r.handles))
	for i := range order {
		order[i] = len(r.handles) - 1 - i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return r.handles[order[a]].Kind() < r.handles[order[b]].Kind()
	})

	var errs []error
	for _, i := range order {
		h := r.handles[i]
		r.log.Debug("teardown %s %q", h.Kind(), h.Name())
		if err := h.Teardown(); err != nil {
			r.log.Error("teardown %s %q failed: %v", h.Kind(), h.Name(), err)
			errs = append(errs, fmt.Errorf("%s %q: %w", h.Kind(), h.Name(), err))
		}
	}
	r.handles = nil
	return errors.Join(errs...)
}

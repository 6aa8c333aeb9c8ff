package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// ErrReceiverClosed is returned once the underlying socket stops delivering frames.
var ErrReceiverClosed = errors.New("can receiver closed")

type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// frameQueue buffers received frames between the socket and the consumer.
// Cyclic frames evict the oldest buffered frame when the consumer falls
// behind. Pinned ids (event frames) are never dropped; their producer waits.
type frameQueue struct {
	cyclic  chan can.Frame
	events  chan can.Frame
	pinned  map[uint32]bool
	stop    chan struct{}
	dropped atomic.Uint64
}

func newFrameQueue(size int, pinned []uint32) *frameQueue {
	q := &frameQueue{
		cyclic: make(chan can.Frame, size),
		events: make(chan can.Frame, size),
		pinned: make(map[uint32]bool, len(pinned)),
		stop:   make(chan struct{}),
	}
	for _, id := range pinned {
		q.pinned[id] = true
	}
	return q
}

// push reports false once the queue has been shut down.
func (q *frameQueue) push(f can.Frame) bool {
	if q.pinned[f.ID] {
		select {
		case q.events <- f:
			return true
		case <-q.stop:
			return false
		}
	}
	for {
		select {
		case q.cyclic <- f:
			return true
		default:
		}
		select {
		case <-q.cyclic:
			q.dropped.Add(1)
		default:
		}
	}
}

// pop prefers pinned frames over cyclic ones.
func (q *frameQueue) pop(ctx context.Context, done <-chan struct{}) (can.Frame, bool, error) {
	select {
	case f := <-q.events:
		return f, true, nil
	default:
	}
	select {
	case <-ctx.Done():
		return can.Frame{}, false, ctx.Err()
	case f := <-q.events:
		return f, true, nil
	case f := <-q.cyclic:
		return f, true, nil
	case <-done:
		select {
		case f := <-q.events:
			return f, true, nil
		case f := <-q.cyclic:
			return f, true, nil
		default:
			return can.Frame{}, false, nil
		}
	}
}

type SocketCANReader struct {
	conn  net.Conn
	recv  *socketcan.Receiver
	queue *frameQueue
	done  chan struct{}
	once  sync.Once
}

// NewSocketCANReader starts receiving on iface. Frames whose id is listed in
// pinned are delivered even when the consumer lags.
func NewSocketCANReader(ctx context.Context, iface string, pinned ...uint32) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	r := &SocketCANReader{
		conn:  conn,
		recv:  socketcan.NewReceiver(conn),
		queue: newFrameQueue(64, pinned),
		done:  make(chan struct{}),
	}
	go r.pump()
	return r, nil
}

// pump owns the blocking Receive call so ReadFrame can honour ctx without
// leaking one goroutine per frame.
func (r *SocketCANReader) pump() {
	defer close(r.done)
	for r.recv.Receive() {
		if !r.queue.push(r.recv.Frame()) {
			return
		}
	}
}

func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	frame, ok, err := r.queue.pop(ctx, r.done)
	if err != nil || ok {
		return frame, err
	}
	if err := r.recv.Err(); err != nil {
		return can.Frame{}, fmt.Errorf("receive: %w", err)
	}
	return can.Frame{}, ErrReceiverClosed
}

// Dropped counts cyclic frames evicted because the consumer fell behind.
func (r *SocketCANReader) Dropped() uint64 { return r.queue.dropped.Load() }

func (r *SocketCANReader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.queue.stop)
		if r.conn != nil {
			err = r.conn.Close()
		}
	})
	return err
}

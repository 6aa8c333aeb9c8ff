package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// RecordingCANWriter keeps every written frame in memory. It backs dry runs
// where no CAN interface is available.
type RecordingCANWriter struct {
	mu     sync.Mutex
	frames []can.Frame
	closed bool
}

func (w *RecordingCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("write 0x%X: writer closed", frame.ID)
	}
	w.frames = append(w.frames, frame)
	return nil
}

// Frames returns a copy of everything written so far.
func (w *RecordingCANWriter) Frames() []can.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]can.Frame, len(w.frames))
	copy(out, w.frames)
	return out
}

func (w *RecordingCANWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

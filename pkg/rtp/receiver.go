package rtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// FrameSink receives the payload of every accepted packet
type FrameSink interface {
	HandleFrame(frame int, payload []byte)
}

// FrameSinkFunc adapts a function to FrameSink
type FrameSinkFunc func(frame int, payload []byte)

func (f FrameSinkFunc) HandleFrame(frame int, payload []byte) {
	f(frame, payload)
}

// LossFunc is called once per detected sequence gap
type LossFunc func(from, to int)

const (
	DefaultReceiveTimeout = 500 * time.Millisecond
	DefaultBufferSize     = 20480
)

var (
	ErrNotOpen        = errors.New("rtp receiver not open")
	ErrAlreadyRunning = errors.New("rtp receiver already running")
)

// ReceiverConfig configures a Receiver
type ReceiverConfig struct {
	ReceiveTimeout time.Duration
	BufferSize     int
	Sink           FrameSink
	OnLoss         LossFunc
}

// Receiver owns the media socket and runs the receive loop between PLAY and PAUSE/TEARDOWN.
// The socket stays bound across runs; only Close releases it.
type Receiver struct {
	tracker *Tracker
	timeout time.Duration
	bufSize int
	sink    FrameSink
	onLoss  LossFunc

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReceiver creates a receiver that sequences packets through tracker
func NewReceiver(tracker *Tracker, config ReceiverConfig) *Receiver {
	r := &Receiver{
		tracker: tracker,
		timeout: config.ReceiveTimeout,
		bufSize: config.BufferSize,
		sink:    config.Sink,
		onLoss:  config.OnLoss,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultReceiveTimeout
	}
	if r.bufSize <= 0 {
		r.bufSize = DefaultBufferSize
	}
	return r
}

// Open binds the UDP socket on port. Port 0 picks an ephemeral port.
func (r *Receiver) Open(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	addr := fmt.Sprintf(":%d", port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind rtp port %s: %w", addr, err)
	}
	r.conn = conn

	slog.Info("RTP receiver bound", "addr", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Open
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Start launches the receive loop with a fresh shutdown signal
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return ErrNotOpen
	}
	if r.done != nil {
		select {
		case <-r.done:
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.receiveLoop(ctx, r.conn, r.done)
	return nil
}

// Running reports whether the receive loop is active
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Stop sets the shutdown signal and joins the loop. It returns within one receive timeout.
func (r *Receiver) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the loop and then releases the socket
func (r *Receiver) Close() error {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.cancel = nil
	r.done = nil
	slog.Info("RTP receiver closed")
	return err
}

func (r *Receiver) receiveLoop(ctx context.Context, conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, r.bufSize)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("RTP receive loop stopping")
			return
		default:
		}

		// 타임아웃은 종료 신호를 확인하기 위한 폴링 주기일 뿐
		if err := conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			slog.Error("Failed to set rtp read deadline", "err", err)
			return
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("RTP receive failed", "err", err)
			continue
		}

		r.handleDatagram(buf[:n])
	}
}

func (r *Receiver) handleDatagram(data []byte) {
	var packet Packet
	if err := packet.Unmarshal(data); err != nil {
		slog.Debug("Dropping undecodable rtp packet", "size", len(data), "err", err)
		return
	}

	previous := r.tracker.Current()
	verdict, frame := r.tracker.Accept(packet.Header.SequenceNumber, packet.PayloadSize())

	switch verdict {
	case Stale:
		slog.Debug("Dropping stale rtp packet", "seq", packet.Header.SequenceNumber, "current", previous)
		return
	case Gap:
		slog.Warn("RTP packet loss detected", "expected", previous+1, "got", frame, "gap", frame-previous-1)
		if r.onLoss != nil {
			r.onLoss(previous, frame)
		}
	}

	if r.sink != nil {
		r.sink.HandleFrame(frame, packet.Payload)
	}
}

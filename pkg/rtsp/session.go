package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// SessionState represents the current state of the client session
type SessionState int

const (
	StateInit SessionState = iota
	StateReady
	StatePlaying
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	default:
		return "Unknown"
	}
}

// DefaultPollInterval bounds each read on the control connection so Run can observe cancellation
const DefaultPollInterval = 500 * time.Millisecond

// SessionConfig configures a Session
type SessionConfig struct {
	URI          string // resource named in every request line
	RTPPort      int    // announced in SETUP
	PollInterval time.Duration
	Handler      EventHandler
}

// Session is the client side of the control channel. Commands are issued from the
// caller goroutine; replies are applied by Run on its own goroutine. The connection is
// written only by commands and read only by Run.
type Session struct {
	conn         net.Conn
	reader       *MessageReader
	writer       *MessageWriter
	uri          string
	rtpPort      int
	pollInterval time.Duration
	handler      EventHandler

	writeMu sync.Mutex

	mu           sync.Mutex
	changed      *sync.Cond
	state        SessionState
	cseq         int
	sessionID    int
	pending      Method
	pendingFrame int
	streamLength int
	closed       bool
}

// NewSession creates a session over an established control connection
func NewSession(conn net.Conn, config SessionConfig) *Session {
	s := &Session{
		conn:         conn,
		reader:       NewMessageReader(conn),
		writer:       NewMessageWriter(conn),
		uri:          config.URI,
		rtpPort:      config.RTPPort,
		pollInterval: config.PollInterval,
		handler:      config.Handler,
		state:        StateInit,
		streamLength: 1,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.handler == nil {
		s.handler = EventHandlerFunc(func(interface{}) {})
	}
	s.changed = sync.NewCond(&s.mu)
	return s
}

// State returns the current state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the server assigned id, 0 when unset
func (s *Session) SessionID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// CSeq returns the sequence number of the last request sent
func (s *Session) CSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cseq
}

// Pending returns the outstanding request kind, MethodNone once its reply was applied
func (s *Session) Pending() Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// StreamLength returns the frame count announced by the last successful SETUP
func (s *Session) StreamLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamLength
}

// Setup declares the transport. Legal only in Init; it restarts CSeq at 1.
func (s *Session) Setup() error {
	return s.issue(MethodSetup, func() (*Request, error) {
		if s.state != StateInit {
			return nil, s.invalid(MethodSetup)
		}
		s.cseq = 1
		return NewSetupRequest(s.uri, s.cseq, s.rtpPort), nil
	})
}

// Play asks the server to stream starting at frame. Legal in Ready or Playing.
func (s *Session) Play(frame int) error {
	return s.issue(MethodPlay, func() (*Request, error) {
		if s.state != StateReady && s.state != StatePlaying {
			return nil, s.invalid(MethodPlay)
		}
		s.cseq++
		s.pendingFrame = frame
		return NewPlayRequest(s.uri, s.cseq, s.sessionID, frame), nil
	})
}

// Pause is legal only in Playing
func (s *Session) Pause() error {
	return s.issue(MethodPause, func() (*Request, error) {
		if s.state != StatePlaying {
			return nil, s.invalid(MethodPause)
		}
		s.cseq++
		return NewPauseRequest(s.uri, s.cseq, s.sessionID), nil
	})
}

// Teardown is legal in any state but Init
func (s *Session) Teardown() error {
	return s.issue(MethodTeardown, func() (*Request, error) {
		if s.state == StateInit {
			return nil, s.invalid(MethodTeardown)
		}
		s.cseq++
		return NewTeardownRequest(s.uri, s.cseq, s.sessionID), nil
	})
}

// Describe is legal in any state but Init and never changes state
func (s *Session) Describe() error {
	return s.issue(MethodDescribe, func() (*Request, error) {
		if s.state == StateInit {
			return nil, s.invalid(MethodDescribe)
		}
		s.cseq++
		return NewDescribeRequest(s.uri, s.cseq), nil
	})
}

func (s *Session) invalid(method Method) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidState, method, s.state)
}

// issue builds a request under mu and sends it. writeMu keeps the order of CSeq on the wire.
func (s *Session) issue(method Method, build func() (*Request, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	req, err := build()
	if err == nil {
		s.pending = method
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.writer.WriteRequest(req); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	slog.Debug("RTSP request sent", "method", method, "cseq", req.CSeq, "uri", req.URI)
	return nil
}

// Run is the reply loop. It returns nil when ctx is cancelled, ErrConnectionClosed when
// the server hangs up, and an ErrMalformedReply error on the first reply it cannot parse.
func (s *Session) Run(ctx context.Context) error {
	defer s.markClosed()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.pollInterval)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				slog.Info("RTSP server closed the connection")
				return ErrConnectionClosed
			}
			return fmt.Errorf("failed to set rtsp read deadline: %w", err)
		}

		data, err := s.reader.ReadMessage()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				slog.Info("RTSP server closed the connection")
				return ErrConnectionClosed
			}
			return fmt.Errorf("failed to read rtsp reply: %w", err)
		}

		if err := s.HandleReply(data); err != nil {
			slog.Error("RTSP reply loop stopping", "err", err)
			return err
		}
	}
}

// isClosed reports errors meaning the control connection is gone
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.changed.Broadcast()
	s.mu.Unlock()
}

// HandleReply applies one raw reply. Mismatched replies are dropped silently and
// return nil; only a malformed reply returns an error.
func (s *Session) HandleReply(data string) error {
	reply, err := ParseReply(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.correlate(reply); err != nil {
		slog.Debug("Dropping rtsp reply", "cseq", reply.CSeq, "expected", s.cseq,
			"sessionId", reply.SessionID, "session", s.sessionID, "err", err)
		s.mu.Unlock()
		return nil
	}

	method := s.pending
	if !reply.OK() {
		s.mu.Unlock()

		slog.Warn("RTSP request failed", "method", method, "status", reply.StatusCode, "reason", reply.StatusText)
		s.handler.HandleEvent(RequestFailed{Method: method, StatusCode: reply.StatusCode, StatusText: reply.StatusText})

		// a command issued while the handler ran owns pending now
		s.mu.Lock()
		if s.cseq == reply.CSeq {
			s.pending = MethodNone
		}
		s.changed.Broadcast()
		s.mu.Unlock()
		return nil
	}

	var event interface{}
	next := s.state
	switch method {
	case MethodSetup:
		length, err := reply.StreamLength()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		event = SetupCompleted{SessionID: reply.SessionID, StreamLength: length}
		next = StateReady
	case MethodPlay:
		event = PlayStarted{SessionID: reply.SessionID, StartFrame: s.pendingFrame}
		next = StatePlaying
	case MethodPause:
		event = PlayPaused{SessionID: reply.SessionID}
		next = StateReady
	case MethodTeardown:
		event = SessionTerminated{SessionID: reply.SessionID}
		next = StateInit
	case MethodDescribe:
		text, err := reply.Description()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		event = DescriptionReceived{SessionID: reply.SessionID, Text: text}
	}
	s.pending = MethodNone
	if s.sessionID == 0 {
		s.sessionID = reply.SessionID
	}
	s.mu.Unlock()

	// side effects run before the transition is visible, so a caller woken by
	// WaitState(StateReady) finds the media socket already bound
	s.handler.HandleEvent(event)

	s.mu.Lock()
	prev := s.state
	s.state = next
	switch e := event.(type) {
	case SetupCompleted:
		s.streamLength = e.StreamLength
	case SessionTerminated:
		s.sessionID = 0
	}
	s.changed.Broadcast()
	s.mu.Unlock()

	if prev != next {
		slog.Info("RTSP session state changed", "from", prev, "to", next, "method", method, "cseq", reply.CSeq)
	}
	return nil
}

// correlate implements the at-most-once contract: the reply must echo the current
// CSeq of an outstanding request and carry the stored session id once one is set.
func (s *Session) correlate(reply *Reply) error {
	if s.pending == MethodNone {
		return fmt.Errorf("%w: no outstanding request", ErrProtocolMismatch)
	}
	if reply.CSeq != s.cseq {
		return fmt.Errorf("%w: cseq %d, expected %d", ErrProtocolMismatch, reply.CSeq, s.cseq)
	}
	if s.sessionID != 0 && reply.SessionID != s.sessionID {
		return fmt.Errorf("%w: session %d, expected %d", ErrProtocolMismatch, reply.SessionID, s.sessionID)
	}
	return nil
}

// WaitState blocks until the session reaches want, the timeout expires or the reply
// loop exits. It reports whether want was reached.
func (s *Session) WaitState(want SessionState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.changed.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state != want {
		if s.closed || !time.Now().Before(deadline) {
			return false
		}
		s.changed.Wait()
	}
	return true
}

// Close releases the control connection. Call it only after Run has returned.
func (s *Session) Close() error {
	return s.conn.Close()
}

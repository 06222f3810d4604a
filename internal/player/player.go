package player

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rtspplayer/pkg/rtp"
	"rtspplayer/pkg/rtsp"
)

// Player is the facade a user interface drives. Commands run on the caller's
// goroutine; session events arrive on the reply loop goroutine; frames arrive on
// the receive loop goroutine.
type Player struct {
	id     uuid.UUID
	config *Config
	opts   options
	logger *slog.Logger

	tracker  *rtp.Tracker
	receiver *rtp.Receiver
	cache    *FrameCache

	mu      sync.Mutex
	session *rtsp.Session
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New creates a player. Connect must be called before any command.
func New(config *Config, opts ...Option) *Player {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dial == nil {
		dialer := &net.Dialer{Timeout: config.Session.ReplyTimeout}
		o.dial = dialer.DialContext
	}
	if o.pollInterval <= 0 {
		o.pollInterval = config.RTP.ReceiveTimeout
	}

	p := &Player{
		id:      uuid.New(),
		config:  config,
		opts:    o,
		tracker: rtp.NewTracker(),
	}
	p.logger = slog.Default().With("player", p.id.String())
	if config.Cache.Enabled {
		p.cache = NewFrameCache(config.Cache.Dir)
	}
	p.receiver = rtp.NewReceiver(p.tracker, rtp.ReceiverConfig{
		ReceiveTimeout: config.RTP.ReceiveTimeout,
		BufferSize:     config.RTP.BufferSize,
		Sink:           rtp.FrameSinkFunc(p.handleFrame),
	})
	return p
}

// ID identifies this player in logs
func (p *Player) ID() uuid.UUID {
	return p.id
}

// Connect opens the control connection and starts the reply loop. A failure is
// reported through the error handler and returned; the player stays Init.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return nil
	}

	addr := p.config.ServerAddr()
	conn, err := p.opts.dial(ctx, "tcp", addr)
	if err != nil {
		err = errors.Wrapf(ErrConnectionFailure, "connect to %s: %v", addr, err)
		p.report(err)
		return err
	}

	p.session = rtsp.NewSession(conn, rtsp.SessionConfig{
		URI:          p.config.Stream.Resource,
		RTPPort:      p.config.RTP.Port,
		PollInterval: p.opts.pollInterval,
		Handler:      p,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.replyLoop(runCtx, p.session, p.done)

	p.logger.Info("Connected to RTSP server", "addr", addr, "resource", p.config.Stream.Resource)
	return nil
}

func (p *Player) replyLoop(ctx context.Context, session *rtsp.Session, done chan struct{}) {
	defer close(done)

	if err := session.Run(ctx); err != nil {
		p.logger.Error("RTSP reply loop exited", "err", err)
		p.mu.Lock()
		p.runErr = err
		p.mu.Unlock()
		return
	}
	p.logger.Debug("RTSP reply loop stopped")
}

// Err returns the error that ended the reply loop, if any
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

func (p *Player) activeSession() (*rtsp.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, ErrNotConnected
	}
	return p.session, nil
}

// State returns the session state, Init when not connected
func (p *Player) State() rtsp.SessionState {
	s, err := p.activeSession()
	if err != nil {
		return rtsp.StateInit
	}
	return s.State()
}

// CurrentFrame returns currentFrameNbr
func (p *Player) CurrentFrame() int {
	return p.tracker.Current()
}

// StreamLength returns the announced frame count, 1 before SETUP
func (p *Player) StreamLength() int {
	s, err := p.activeSession()
	if err != nil {
		return 1
	}
	return s.StreamLength()
}

// Play performs SETUP first when Init, waiting for Ready, then starts the receive
// loop and plays from the frame after the current one.
func (p *Player) Play() error {
	s, err := p.activeSession()
	if err != nil {
		return err
	}

	if s.State() == rtsp.StateInit {
		if err := s.Setup(); err != nil {
			return errors.Wrap(err, "setup failed")
		}
		if !s.WaitState(rtsp.StateReady, p.config.Session.SetupTimeout) {
			err := errors.Wrapf(ErrSetupTimeout, "no SETUP reply from %s within %s", p.config.ServerAddr(), p.config.Session.SetupTimeout)
			p.report(err)
			return err
		}
	}

	if s.State() != rtsp.StateReady {
		return nil
	}
	return p.resume(s, p.tracker.Current()+1)
}

// resume starts the receive loop with a cleared shutdown signal, then sends PLAY
func (p *Player) resume(s *rtsp.Session, frame int) error {
	if err := p.receiver.Start(); err != nil {
		switch {
		case errors.Is(err, rtp.ErrAlreadyRunning):
		case errors.Is(err, rtp.ErrNotOpen):
			// SETUP could not bind; try again before giving up
			if err := p.openReceiver(); err != nil {
				return err
			}
			if err := p.receiver.Start(); err != nil {
				return errors.Wrap(err, "start receiver failed")
			}
		default:
			return errors.Wrap(err, "start receiver failed")
		}
	}

	if err := s.Play(frame); err != nil {
		return errors.Wrap(err, "play failed")
	}
	return nil
}

// Pause is a no-op unless Playing
func (p *Player) Pause() error {
	s, err := p.activeSession()
	if err != nil {
		return err
	}
	if s.State() != rtsp.StatePlaying {
		return nil
	}
	return errors.Wrap(s.Pause(), "pause failed")
}

// Stop tears the session down from any state but Init and waits until the reply
// has been applied, which includes joining the receive loop and closing its socket.
func (p *Player) Stop() error {
	s, err := p.activeSession()
	if err != nil {
		return err
	}
	if s.State() == rtsp.StateInit {
		return nil
	}

	if err := s.Teardown(); err != nil {
		return errors.Wrap(err, "teardown failed")
	}
	if !s.WaitState(rtsp.StateInit, p.config.Session.ReplyTimeout) {
		return errors.Wrap(ErrReplyTimeout, "teardown not acknowledged")
	}
	return nil
}

// Describe requests the stream description, subject to the configured policy
func (p *Player) Describe() error {
	s, err := p.activeSession()
	if err != nil {
		return err
	}

	state := s.State()
	if strings.ToLower(p.config.Session.DescribePolicy) == DescribePlaying && state != rtsp.StatePlaying {
		p.logger.Debug("DESCRIBE ignored", "state", state, "policy", p.config.Session.DescribePolicy)
		return nil
	}
	if state == rtsp.StateInit {
		return nil
	}
	return errors.Wrap(s.Describe(), "describe failed")
}

// Seek moves playback to round(streamLength*fraction): pause if playing, wait for
// Ready, reposition, then resume from the frame after the target.
func (p *Player) Seek(fraction float64) error {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return errors.Wrapf(ErrInvalidSeek, "%v", fraction)
	}

	s, err := p.activeSession()
	if err != nil {
		return err
	}

	switch s.State() {
	case rtsp.StateInit:
		return errors.Wrap(rtsp.ErrInvalidState, "seek before setup")
	case rtsp.StatePlaying:
		if err := s.Pause(); err != nil {
			return errors.Wrap(err, "pause before seek failed")
		}
		if !s.WaitState(rtsp.StateReady, p.config.Session.ReplyTimeout) {
			return errors.Wrap(ErrReplyTimeout, "pause before seek not acknowledged")
		}
	}

	target := int(math.Round(float64(s.StreamLength()) * fraction))
	p.tracker.SetCurrent(target)
	p.logger.Info("Seeking", "fraction", fraction, "frame", target, "length", s.StreamLength())

	return p.resume(s, target+1)
}

// Shutdown stops playback if needed, stops and joins the reply loop, then releases the control connection
func (p *Player) Shutdown() error {
	s, err := p.activeSession()
	if err != nil {
		return nil
	}

	if s.State() != rtsp.StateInit {
		if err := p.Stop(); err != nil {
			p.logger.Warn("Teardown before shutdown failed", "err", err)
		}
	}

	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.session = nil
	p.mu.Unlock()

	cancel()
	<-done

	var errs []string
	if err := s.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := p.receiver.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if p.cache != nil {
		if err := p.cache.Release(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	p.logger.Info("Player shut down")
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HandleEvent applies the side effects of session transitions. It runs on the reply loop.
func (p *Player) HandleEvent(event interface{}) {
	switch e := event.(type) {
	case rtsp.SetupCompleted:
		p.handleSetupCompleted(e)
	case rtsp.PlayStarted:
		p.tracker.StartRun(e.StartFrame)
		p.logger.Info("Playback started", "sessionId", e.SessionID, "frame", e.StartFrame)
	case rtsp.PlayPaused:
		p.handlePlayPaused(e)
	case rtsp.SessionTerminated:
		p.handleSessionTerminated(e)
	case rtsp.DescriptionReceived:
		p.handleDescription(e)
	case rtsp.RequestFailed:
		p.logger.Warn("Server rejected request", "method", e.Method, "status", e.StatusCode, "reason", e.StatusText)
		if e.Method == rtsp.MethodPlay {
			p.receiver.Stop()
		}
	default:
		p.logger.Warn("Unknown session event", "eventType", fmt.Sprintf("%T", e))
	}
}

func (p *Player) handleSetupCompleted(e rtsp.SetupCompleted) {
	p.logger.Info("Session established", "sessionId", e.SessionID, "frames", e.StreamLength)
	if err := p.openReceiver(); err != nil {
		p.logger.Warn("Media receiver unavailable", "err", err)
	}
}

func (p *Player) openReceiver() error {
	if err := p.receiver.Open(p.config.RTP.Port); err != nil {
		err = errors.Wrapf(ErrBindFailure, "port %d: %v", p.config.RTP.Port, err)
		p.report(err)
		return err
	}
	return nil
}

func (p *Player) handlePlayPaused(e rtsp.PlayPaused) {
	p.receiver.Stop()

	report := p.tracker.Report()
	p.logger.Info("Playback paused",
		"sessionId", e.SessionID,
		"lossRate", report.LossRate,
		"dataRateKBps", report.DataRate,
		"frameRate", report.FrameRate,
		"received", report.Received,
		"lost", report.Lost,
		"elapsed", report.Elapsed)

	if p.opts.onStats != nil {
		p.opts.onStats(report)
	}
}

func (p *Player) handleSessionTerminated(e rtsp.SessionTerminated) {
	if err := p.receiver.Close(); err != nil {
		p.logger.Warn("Failed to close media receiver", "err", err)
	}
	p.tracker.Reset()
	if p.cache != nil {
		if err := p.cache.Release(); err != nil {
			p.logger.Warn("Failed to release frame cache", "err", err)
		}
	}
	p.logger.Info("Session terminated", "sessionId", e.SessionID)
}

func (p *Player) handleDescription(e rtsp.DescriptionReceived) {
	desc := parseDescription(e.Text)
	p.logger.Info("Stream description received", descriptionAttrs(desc)...)

	if p.opts.onDescription != nil {
		p.opts.onDescription(desc)
	}
}

// handleFrame runs on the receive loop for every accepted packet
func (p *Player) handleFrame(frame int, payload []byte) {
	s, err := p.activeSession()
	if err != nil {
		return
	}

	if p.cache != nil {
		if _, err := p.cache.Write(s.SessionID(), payload); err != nil {
			p.logger.Warn("Failed to cache frame", "frame", frame, "err", err)
		}
	}

	if p.opts.onProgress != nil {
		if length := s.StreamLength(); length > 0 {
			p.opts.onProgress(math.Min(float64(frame)/float64(length), 1))
		}
	}

	if p.opts.sink != nil {
		p.opts.sink.HandleFrame(frame, payload)
	}
}

func (p *Player) report(err error) {
	p.logger.Error("Player error", "err", err)
	if p.opts.onError != nil {
		p.opts.onError(err)
	}
}

package player

import (
	"context"
	"net"
	"time"

	"rtspplayer/pkg/rtp"
)

// Description is the result of a DESCRIBE. SDP is nil when the text is not a valid session description.
type Description struct {
	Text string
	SDP  *SessionDescription
}

// Option configures a Player
type Option func(*options)

type options struct {
	sink          rtp.FrameSink
	onDescription func(Description)
	onError       func(error)
	onStats       func(rtp.Report)
	onProgress    func(float64)
	dial          func(ctx context.Context, network, addr string) (net.Conn, error)
	pollInterval  time.Duration
}

// WithFrameSink sets the consumer of decoded frame bytes
func WithFrameSink(sink rtp.FrameSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithDescriptionHandler sets the callback for DESCRIBE text
func WithDescriptionHandler(fn func(Description)) Option {
	return func(o *options) {
		o.onDescription = fn
	}
}

// WithErrorHandler sets the callback for connection and bind failures
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithStatsHandler sets the callback for the statistics computed at PAUSE
func WithStatsHandler(fn func(rtp.Report)) Option {
	return func(o *options) {
		o.onStats = fn
	}
}

// WithProgressHandler sets the callback receiving currentFrame/streamLength after every frame
func WithProgressHandler(fn func(float64)) Option {
	return func(o *options) {
		o.onProgress = fn
	}
}

// WithDialer replaces the TCP dialer of the control connection
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(o *options) {
		o.dial = dial
	}
}

// WithPollInterval bounds each read of the reply loop
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

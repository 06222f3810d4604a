package player

import "github.com/pkg/errors"

// ErrConnectionFailure indicates the control connection could not be established. The session stays Init.
var ErrConnectionFailure = errors.New("connection failed")

// ErrBindFailure indicates the media socket could not bind the configured port. The receiver never starts.
var ErrBindFailure = errors.New("unable to bind rtp port")

// ErrSetupTimeout indicates no SETUP reply moved the session to Ready within the setup timeout.
var ErrSetupTimeout = errors.New("setup timed out")

// ErrNotConnected indicates a command was issued before Connect or after Shutdown.
var ErrNotConnected = errors.New("not connected")

// ErrInvalidSeek indicates a seek fraction outside [0,1].
var ErrInvalidSeek = errors.New("seek position out of range")

// ErrReplyTimeout indicates a PAUSE or TEARDOWN was not acknowledged in time.
var ErrReplyTimeout = errors.New("reply timed out")

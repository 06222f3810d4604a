package rtsp

import "errors"

var (
	// ErrInvalidState is returned when a command is not legal in the current state. Nothing is sent.
	ErrInvalidState = errors.New("command not valid in this state")
	// ErrMalformedReply ends the reply loop; the control stream is not resynchronized.
	ErrMalformedReply = errors.New("malformed rtsp reply")
	// ErrProtocolMismatch marks a reply whose CSeq or session id does not match. It is dropped, never surfaced.
	ErrProtocolMismatch = errors.New("rtsp reply does not match outstanding request")
	// ErrConnectionClosed is returned by Run when the server closes the control connection.
	ErrConnectionClosed = errors.New("rtsp connection closed by server")
)

package rtsp

// SetupCompleted is emitted on a successful SETUP reply, before the session becomes Ready
type SetupCompleted struct {
	SessionID    int
	StreamLength int
}

// PlayStarted is emitted on a successful PLAY reply
type PlayStarted struct {
	SessionID  int
	StartFrame int
}

// PlayPaused is emitted on a successful PAUSE reply
type PlayPaused struct {
	SessionID int
}

// SessionTerminated is emitted on a successful TEARDOWN reply
type SessionTerminated struct {
	SessionID int
}

// DescriptionReceived carries the free text of a DESCRIBE reply
type DescriptionReceived struct {
	SessionID int
	Text      string
}

// RequestFailed is emitted for a matching reply with a non-200 status. State is unchanged.
type RequestFailed struct {
	Method     Method
	StatusCode int
	StatusText string
}

// EventHandler receives session events on the reply loop goroutine
type EventHandler interface {
	HandleEvent(event interface{})
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(event interface{})

func (f EventHandlerFunc) HandleEvent(event interface{}) {
	f(event)
}

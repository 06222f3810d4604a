package rtsp

// Method is an RTSP request method
type Method string

// RTSP Methods used by the player
const (
	MethodNone     Method = ""
	MethodSetup    Method = "SETUP"
	MethodPlay     Method = "PLAY"
	MethodPause    Method = "PAUSE"
	MethodTeardown Method = "TEARDOWN"
	MethodDescribe Method = "DESCRIBE"
)

// RTSP Status Codes
const (
	StatusOK                        = 200
	StatusBadRequest                = 400
	StatusNotFound                  = 404
	StatusMethodNotAllowed          = 405
	StatusSessionNotFound           = 454
	StatusMethodNotValidInThisState = 455
	StatusUnsupportedTransport      = 461
	StatusInternalServerError       = 500
	StatusNotImplemented            = 501
	StatusServiceUnavailable        = 503
	StatusRTSPVersionNotSupported   = 505
)

// RTSP Headers
const (
	HeaderAccept    = "Accept"
	HeaderCSeq      = "CSeq"
	HeaderFrame     = "Frame"
	HeaderSession   = "Session"
	HeaderTransport = "Transport"
)

// Transport and content values
const (
	TransportRTPUDP = "RTP/UDP"
	ContentTypeSDP  = "application/sdp"
)

// RTSP Version
const RTSPVersion = "RTSP/1.0"

// Reply layout. Lines are positional, not keyed.
const (
	lineStatus         = 0
	lineCSeq           = 1
	lineSession        = 2
	lineStreamLength   = 3
	lineDescriptionTop = 7
)

// Default Values
const (
	DefaultRTSPPort = 554
	MaxReplySize    = 4096
)

// StatusText returns the standard status text for a status code
func StatusText(statusCode int) string {
	switch statusCode {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusSessionNotFound:
		return "Session Not Found"
	case StatusMethodNotValidInThisState:
		return "Method Not Valid in This State"
	case StatusUnsupportedTransport:
		return "Unsupported transport"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusNotImplemented:
		return "Not Implemented"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	case StatusRTSPVersionNotSupported:
		return "RTSP Version not supported"
	default:
		return "Unknown"
	}
}

package rtsp

import (
	"fmt"
	"strconv"
	"strings"
)

// Header is one "Key: value" line of a request
type Header struct {
	Key   string
	Value string
}

// Request represents an outgoing RTSP request. Headers keep their order on the wire.
type Request struct {
	Method  Method
	URI     string
	Version string
	CSeq    int
	Headers []Header
}

// NewRequest creates a request with the CSeq line already in place
func NewRequest(method Method, uri string, cseq int) *Request {
	return &Request{
		Method:  method,
		URI:     uri,
		Version: RTSPVersion,
		CSeq:    cseq,
		Headers: []Header{{Key: HeaderCSeq, Value: strconv.Itoa(cseq)}},
	}
}

// NewSetupRequest declares the UDP port the client listens on
func NewSetupRequest(uri string, cseq int, rtpPort int) *Request {
	return NewRequest(MethodSetup, uri, cseq).
		AddHeader(HeaderTransport, fmt.Sprintf("%s; client_port= %d", TransportRTPUDP, rtpPort))
}

// NewPlayRequest asks the server to stream from frame
func NewPlayRequest(uri string, cseq int, sessionID int, frame int) *Request {
	return NewRequest(MethodPlay, uri, cseq).
		AddHeader(HeaderSession, strconv.Itoa(sessionID)).
		AddHeader(HeaderFrame, strconv.Itoa(frame))
}

// NewPauseRequest creates a PAUSE request
func NewPauseRequest(uri string, cseq int, sessionID int) *Request {
	return NewRequest(MethodPause, uri, cseq).
		AddHeader(HeaderSession, strconv.Itoa(sessionID))
}

// NewTeardownRequest creates a TEARDOWN request
func NewTeardownRequest(uri string, cseq int, sessionID int) *Request {
	return NewRequest(MethodTeardown, uri, cseq).
		AddHeader(HeaderSession, strconv.Itoa(sessionID))
}

// NewDescribeRequest creates a DESCRIBE request accepting SDP
func NewDescribeRequest(uri string, cseq int) *Request {
	return NewRequest(MethodDescribe, uri, cseq).
		AddHeader(HeaderAccept, ContentTypeSDP)
}

// AddHeader appends a header line
func (r *Request) AddHeader(key, value string) *Request {
	r.Headers = append(r.Headers, Header{Key: key, Value: value})
	return r
}

// GetHeader gets a header value
func (r *Request) GetHeader(key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// String returns the wire form: newline separated, no trailing blank line
func (r *Request) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s %s", r.Method, r.URI, r.Version))
	for _, h := range r.Headers {
		sb.WriteString(fmt.Sprintf("\n%s: %s", h.Key, h.Value))
	}

	return sb.String()
}

// Bytes returns the byte representation of the request
func (r *Request) Bytes() []byte {
	return []byte(r.String())
}

// Reply represents a parsed server reply. Only the three common lines are decoded
// eagerly; command specific lines are decoded on demand because their layout depends
// on which request is outstanding.
type Reply struct {
	StatusCode int
	StatusText string
	CSeq       int
	SessionID  int
	lines      []string
}

// ParseReply decodes the status, CSeq and Session lines. A missing or unparsable line
// yields ErrMalformedReply.
func ParseReply(data string) (*Reply, error) {
	lines := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	if len(lines) <= lineSession {
		return nil, fmt.Errorf("%w: %d lines, need at least %d", ErrMalformedReply, len(lines), lineSession+1)
	}

	statusFields := strings.SplitN(lines[lineStatus], " ", 3)
	if len(statusFields) < 2 {
		return nil, fmt.Errorf("%w: invalid status line: %q", ErrMalformedReply, lines[lineStatus])
	}
	statusCode, err := strconv.Atoi(statusFields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid status code: %q", ErrMalformedReply, statusFields[1])
	}

	cseq, err := lineValue(lines, lineCSeq)
	if err != nil {
		return nil, err
	}
	sessionID, err := lineValue(lines, lineSession)
	if err != nil {
		return nil, err
	}

	reply := &Reply{
		StatusCode: statusCode,
		CSeq:       cseq,
		SessionID:  sessionID,
		lines:      lines,
	}
	if len(statusFields) == 3 {
		reply.StatusText = statusFields[2]
	}

	return reply, nil
}

// OK reports a 200 status
func (r *Reply) OK() bool {
	return r.StatusCode == StatusOK
}

// StreamLength decodes the total frame count announced by a SETUP reply
func (r *Reply) StreamLength() (int, error) {
	length, err := lineValue(r.lines, lineStreamLength)
	if err != nil {
		return 0, err
	}
	if length < 1 {
		return 0, fmt.Errorf("%w: stream length %d", ErrMalformedReply, length)
	}
	return length, nil
}

// Description returns the free text block of a DESCRIBE reply
func (r *Reply) Description() (string, error) {
	if len(r.lines) <= lineDescriptionTop {
		return "", fmt.Errorf("%w: describe reply has %d lines, body starts at %d", ErrMalformedReply, len(r.lines), lineDescriptionTop)
	}
	return strings.Join(r.lines[lineDescriptionTop:], "\n"), nil
}

// lineValue parses the integer in the second space separated field of line n ("CSeq: 3")
func lineValue(lines []string, n int) (int, error) {
	if len(lines) <= n {
		return 0, fmt.Errorf("%w: missing line %d", ErrMalformedReply, n)
	}
	fields := strings.Fields(lines[n])
	if len(fields) < 2 {
		return 0, fmt.Errorf("%w: line %d: %q", ErrMalformedReply, n, lines[n])
	}
	value, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %q", ErrMalformedReply, n, lines[n])
	}
	return value, nil
}

package rtsp

import (
	"io"
)

// MessageReader reads replies from the control connection. The dialect has no
// terminator or length header: the server writes each reply in one segment and the
// reader treats one read as one reply.
type MessageReader struct {
	reader io.Reader
	buf    []byte
}

// NewMessageReader creates a new RTSP message reader
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{
		reader: r,
		buf:    make([]byte, MaxReplySize),
	}
}

// ReadMessage returns the raw text of the next reply. Errors from the underlying
// reader, including deadline expiry, are returned unchanged.
func (mr *MessageReader) ReadMessage() (string, error) {
	for {
		n, err := mr.reader.Read(mr.buf)
		if n > 0 {
			return string(mr.buf[:n]), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// ReadReply reads and decodes the next reply
func (mr *MessageReader) ReadReply() (*Reply, error) {
	data, err := mr.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ParseReply(data)
}

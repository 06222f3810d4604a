package rtsp

import (
	"bufio"
	"io"
)

// MessageWriter handles RTSP message writing
type MessageWriter struct {
	writer *bufio.Writer
}

// NewMessageWriter creates a new RTSP message writer
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{
		writer: bufio.NewWriter(w),
	}
}

// WriteRequest writes an RTSP request as a single segment
func (mw *MessageWriter) WriteRequest(req *Request) error {
	if _, err := mw.writer.Write(req.Bytes()); err != nil {
		return err
	}
	return mw.writer.Flush()
}

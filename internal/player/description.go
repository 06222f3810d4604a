package player

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// SessionDescription is a parsed SDP body
type SessionDescription = sdp.SessionDescription

// parseDescription keeps the raw text and adds the SDP form when the text parses as one.
// Servers of this dialect often send a reduced description, so failure is not an error.
func parseDescription(text string) Description {
	desc := Description{Text: text}

	normalized := strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
	if normalized == "" {
		return desc
	}
	normalized = strings.ReplaceAll(normalized, "\n", "\r\n") + "\r\n"

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(normalized)); err == nil {
		desc.SDP = &sd
	}
	return desc
}

// descriptionAttrs summarizes a description for logging
func descriptionAttrs(desc Description) []any {
	attrs := []any{"length", len(desc.Text)}
	if desc.SDP == nil {
		return append(attrs, "sdp", false)
	}

	media := make([]string, 0, len(desc.SDP.MediaDescriptions))
	for _, md := range desc.SDP.MediaDescriptions {
		media = append(media, md.MediaName.Media)
	}
	return append(attrs, "sdp", true, "name", string(desc.SDP.SessionName), "media", media)
}

package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header represents the fixed RTP packet header
type Header struct {
	Version        uint8  // 2 bits: Version (V)
	Padding        bool   // 1 bit: Padding (P)
	Extension      bool   // 1 bit: Extension (X)
	CSRCCount      uint8  // 4 bits: CSRC count (CC)
	Marker         bool   // 1 bit: Marker (M)
	PayloadType    uint8  // 7 bits: Payload type (PT)
	SequenceNumber uint16 // 16 bits: Sequence number
	Timestamp      uint32 // 32 bits: Timestamp
	SSRC           uint32 // 32 bits: SSRC identifier
}

// Packet represents a complete RTP packet carrying one encoded frame
type Packet struct {
	Header  Header
	Payload []byte
}

// Constants for RTP
const (
	Version         = 2
	HeaderSize      = 12    // fixed header size in bytes
	csrcSize        = 4     // each CSRC identifier
	MaxPacketSize   = 65507 // largest UDP payload over IPv4
	PayloadTypeJPEG = 26    // MJPEG, RFC 3551
)

var (
	ErrPacketTooShort = errors.New("rtp packet too short")
	ErrPacketTooLarge = errors.New("rtp packet too large")
	ErrBadVersion     = errors.New("unsupported rtp version")
)

// NewPacket creates a version 2 packet with no CSRC list
func NewPacket(payloadType uint8, sequenceNumber uint16, timestamp uint32, ssrc uint32, payload []byte) *Packet {
	return &Packet{
		Header: Header{
			Version:        Version,
			PayloadType:    payloadType,
			SequenceNumber: sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}

// Marshal serializes the packet to bytes. The CSRC list is never written, so CSRCCount is forced to 0.
func (p *Packet) Marshal() ([]byte, error) {
	totalSize := HeaderSize + len(p.Payload)
	if totalSize > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrPacketTooLarge, totalSize, MaxPacketSize)
	}

	buf := make([]byte, totalSize)

	// V(2) P(1) X(1) CC(4)
	buf[0] = (p.Header.Version << 6) |
		(boolToBit(p.Header.Padding) << 5) |
		(boolToBit(p.Header.Extension) << 4)

	// M(1) PT(7)
	buf[1] = (boolToBit(p.Header.Marker) << 7) | (p.Header.PayloadType & 0x7F)

	binary.BigEndian.PutUint16(buf[2:4], p.Header.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], p.Header.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.Header.SSRC)

	copy(buf[HeaderSize:], p.Payload)

	return buf, nil
}

// Unmarshal decodes a datagram. CSRC identifiers announced by CC are skipped, the rest is payload.
func (p *Packet) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes (min: %d)", ErrPacketTooShort, len(data), HeaderSize)
	}

	firstByte := data[0]
	p.Header.Version = (firstByte >> 6) & 0x03
	if p.Header.Version != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, p.Header.Version)
	}
	p.Header.Padding = (firstByte>>5)&0x01 == 1
	p.Header.Extension = (firstByte>>4)&0x01 == 1
	p.Header.CSRCCount = firstByte & 0x0F

	secondByte := data[1]
	p.Header.Marker = (secondByte>>7)&0x01 == 1
	p.Header.PayloadType = secondByte & 0x7F

	p.Header.SequenceNumber = binary.BigEndian.Uint16(data[2:4])
	p.Header.Timestamp = binary.BigEndian.Uint32(data[4:8])
	p.Header.SSRC = binary.BigEndian.Uint32(data[8:12])

	offset := HeaderSize + int(p.Header.CSRCCount)*csrcSize
	if len(data) < offset {
		return fmt.Errorf("%w: %d bytes, csrc list needs %d", ErrPacketTooShort, len(data), offset)
	}

	p.Payload = make([]byte, len(data)-offset)
	copy(p.Payload, data[offset:])

	return nil
}

// PayloadSize returns the number of payload bytes
func (p *Packet) PayloadSize() int {
	return len(p.Payload)
}

// String returns a string representation of the RTP packet
func (p *Packet) String() string {
	return fmt.Sprintf("RTP{V:%d PT:%d Seq:%d TS:%d SSRC:%d PayloadLen:%d}",
		p.Header.Version,
		p.Header.PayloadType,
		p.Header.SequenceNumber,
		p.Header.Timestamp,
		p.Header.SSRC,
		len(p.Payload))
}

// boolToBit converts boolean to bit (0 or 1)
func boolToBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Package protocol implements the frame layer used by the raw-socket connection.
// The framing is specific to this module; WAMP v1 routers only accept WebSocket.
//
// A byte stream has no message boundaries, so every formatted WAMP message is wrapped in
// a fixed 10-byte header followed by a variable-length body. The receiver reads the header
// first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│ft│ bodyLen │    body ...    │
//	│ wmp  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"mini-wamp/codec"
)

// Magic number bytes: "wmp". Rejects peers that are not speaking this framing
// (e.g., an HTTP client hitting the raw-socket port).
const (
	MagicNumber byte = 0x77 // 'w'
	MagicByte2  byte = 0x6d // 'm'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 4 (bodyLen)

	// DefaultMaxBodyLen bounds a single frame when the caller passes 0 to Decode.
	DefaultMaxBodyLen uint32 = 16 << 20
)

// FrameType distinguishes message frames from keep-alive probes.
type FrameType byte

const (
	FrameTypeMessage   FrameType = 0 // Carries one formatted WAMP message
	FrameTypeHeartbeat FrameType = 1 // KeepAlive probe (no body)
)

// Header is the fixed 10-byte frame header.
type Header struct {
	CodecType codec.Type
	FrameType FrameType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// The caller must serialize concurrent writers, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.FrameType)
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)

	// One Write per frame so a net.Conn never sees half a frame from us.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// Bodies larger than maxBodyLen are rejected before allocation; 0 selects DefaultMaxBodyLen.
func Decode(r io.Reader, maxBodyLen uint32) (*Header, []byte, error) {
	if maxBodyLen == 0 {
		maxBodyLen = DefaultMaxBodyLen
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if !codec.Valid(headerBuf[4]) {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	frameType := FrameType(headerBuf[5])
	if frameType != FrameTypeMessage && frameType != FrameTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > maxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d > %d", bodyLen, maxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: codec.Type(headerBuf[4]),
		FrameType: frameType,
		BodyLen:   bodyLen,
	}, body, nil
}

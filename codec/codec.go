// Package codec implements the formatter boundary: it turns a message's positional field
// list into wire bytes and back. The engine never looks inside the bytes itself.
package codec

import "mini-wamp/message"

type Type byte

const (
	TypeJSON Type = 0
)

// Formatter encodes outgoing field lists and decodes inbound frames into raw fields.
// Implementations must be safe for concurrent use.
type Formatter interface {
	Encode(fields []any) ([]byte, error)
	Decode(data []byte) ([]message.Raw, error)
	// Unmarshal decodes a single raw field produced by Decode.
	Unmarshal(raw message.Raw, v any) error
	Type() Type
	// Subprotocol is the WebSocket subprotocol negotiated for this formatter.
	Subprotocol() string
}

// Get returns the formatter for codecType. WAMP v1 only defines JSON, so every type
// resolves to it.
func Get(codecType Type) Formatter {
	return JSONFormatter{}
}

// Valid reports whether codecType names a known formatter.
func Valid(codecType byte) bool {
	return Type(codecType) == TypeJSON
}

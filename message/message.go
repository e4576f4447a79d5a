// Package message defines the WAMP v1 wire messages exchanged between a client and a router.
//
// Every message is a positional list whose first element is the type code:
//
//	CALL        [2, callId, procUri, arg1, arg2, ...]
//	CALLRESULT  [3, callId, result]
//	CALLERROR   [4, callId, errorUri, errorDesc(, errorDetails)]
//	EVENT       [8, topicUri, event]
//
// The formatter (codec package) turns such a list into bytes. This package only knows the
// layout: Fields() builds it for outgoing messages and Parse() reads it back.
package message

import "fmt"

// Type is the WAMP v1 message type code, always the first field on the wire.
type Type int

const (
	TypeWelcome     Type = 0 // Router → Client, first message of a session
	TypePrefix      Type = 1 // Client → Router, CURIE prefix definition
	TypeCall        Type = 2 // Client → Router RPC request
	TypeCallResult  Type = 3 // Router → Client RPC success
	TypeCallError   Type = 4 // Router → Client RPC failure
	TypeSubscribe   Type = 5
	TypeUnsubscribe Type = 6
	TypePublish     Type = 7
	TypeEvent       Type = 8 // Router → Client event fan-out
)

// Reserved procedures of the WAMP-CRA handshake. In WAMP v1 authentication travels as
// ordinary CALLs on these URIs.
const (
	ProcAuthRequest = "http://api.wamp.ws/procedure#authreq"
	ProcAuth        = "http://api.wamp.ws/procedure#auth"
)

var typeNames = map[Type]string{
	TypeWelcome:     "WELCOME",
	TypePrefix:      "PREFIX",
	TypeCall:        "CALL",
	TypeCallResult:  "CALLRESULT",
	TypeCallError:   "CALLERROR",
	TypeSubscribe:   "SUBSCRIBE",
	TypeUnsubscribe: "UNSUBSCRIBE",
	TypePublish:     "PUBLISH",
	TypeEvent:       "EVENT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(%d)", int(t))
}

// Known reports whether t is part of the WAMP v1 vocabulary.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Raw is a single field value still in wire representation. Only the formatter that
// decoded it knows how to turn it into a Go value (see Unmarshaler).
type Raw []byte

// Unmarshaler decodes a Raw field into v. codec.Formatter satisfies it.
type Unmarshaler interface {
	Unmarshal(raw Raw, v any) error
}

// Message is one WAMP v1 message. Values are immutable once built.
type Message interface {
	Type() Type
	// Fields returns the positional wire layout, type code first.
	Fields() []any
}

// Welcome opens a session.
type Welcome struct {
	SessionID       string
	ProtocolVersion int
	ServerIdent     string
}

func (m *Welcome) Type() Type { return TypeWelcome }
func (m *Welcome) Fields() []any {
	return []any{int(TypeWelcome), m.SessionID, m.ProtocolVersion, m.ServerIdent}
}

// Prefix maps a CURIE prefix to a full URI for the rest of the session.
type Prefix struct {
	Prefix string
	URI    string
}

func (m *Prefix) Type() Type    { return TypePrefix }
func (m *Prefix) Fields() []any { return []any{int(TypePrefix), m.Prefix, m.URI} }

// Call invokes a remote procedure. CallID correlates the eventual CALLRESULT or CALLERROR.
// On inbound messages Args holds Raw values.
type Call struct {
	CallID  string
	ProcURI string
	Args    []any
}

func (m *Call) Type() Type { return TypeCall }
func (m *Call) Fields() []any {
	fields := make([]any, 0, 3+len(m.Args))
	fields = append(fields, int(TypeCall), m.CallID, m.ProcURI)
	return append(fields, m.Args...)
}

// CallResult completes a call.
type CallResult struct {
	CallID string
	Result Raw
}

func (m *CallResult) Type() Type    { return TypeCallResult }
func (m *CallResult) Fields() []any { return []any{int(TypeCallResult), m.CallID, m.Result} }

// CallError fails a call. Details is nil when the router sent the short form.
type CallError struct {
	CallID      string
	ErrorURI    string
	Description string
	Details     Raw
}

func (m *CallError) Type() Type { return TypeCallError }
func (m *CallError) Fields() []any {
	fields := []any{int(TypeCallError), m.CallID, m.ErrorURI, m.Description}
	if m.Details != nil {
		fields = append(fields, m.Details)
	}
	return fields
}

// Subscribe asks the router for events on TopicURI.
type Subscribe struct {
	TopicURI string
}

func (m *Subscribe) Type() Type    { return TypeSubscribe }
func (m *Subscribe) Fields() []any { return []any{int(TypeSubscribe), m.TopicURI} }

// Unsubscribe stops events on TopicURI.
type Unsubscribe struct {
	TopicURI string
}

func (m *Unsubscribe) Type() Type    { return TypeUnsubscribe }
func (m *Unsubscribe) Fields() []any { return []any{int(TypeUnsubscribe), m.TopicURI} }

// Publish sends an event to TopicURI. The router applies the fan-out filters:
//
//   - Eligible set:  [7, topic, event, exclude, eligible] (exclude defaults to empty)
//   - Exclude set:   [7, topic, event, exclude]
//   - ExcludeMe set: [7, topic, event, excludeMe]
//   - nothing set:   [7, topic, event]
type Publish struct {
	TopicURI  string
	Event     any
	ExcludeMe *bool
	Exclude   []string
	Eligible  []string
}

func (m *Publish) Type() Type { return TypePublish }
func (m *Publish) Fields() []any {
	fields := []any{int(TypePublish), m.TopicURI, m.Event}
	switch {
	case m.Eligible != nil:
		exclude := m.Exclude
		if exclude == nil {
			exclude = []string{}
		}
		fields = append(fields, exclude, m.Eligible)
	case m.Exclude != nil:
		fields = append(fields, m.Exclude)
	case m.ExcludeMe != nil:
		fields = append(fields, *m.ExcludeMe)
	}
	return fields
}

// Event delivers a published payload to a subscriber.
type Event struct {
	TopicURI string
	Event    Raw
}

func (m *Event) Type() Type    { return TypeEvent }
func (m *Event) Fields() []any { return []any{int(TypeEvent), m.TopicURI, m.Event} }

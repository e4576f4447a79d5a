package message

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when a field list does not match the layout of its type code.
var ErrMalformed = errors.New("message: malformed")

// ReadType decodes the type code from the first field.
func ReadType(u Unmarshaler, fields []Raw) (Type, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	var code int
	if err := u.Unmarshal(fields[0], &code); err != nil {
		return 0, fmt.Errorf("%w: type code: %v", ErrMalformed, err)
	}
	return Type(code), nil
}

// Parse builds the typed message for a decoded field list.
func Parse(u Unmarshaler, fields []Raw) (Message, error) {
	t, err := ReadType(u, fields)
	if err != nil {
		return nil, err
	}
	p := parser{u: u, t: t, fields: fields}

	switch t {
	case TypeWelcome:
		m := &Welcome{}
		p.need(4)
		p.str(1, &m.SessionID)
		p.decode(2, &m.ProtocolVersion)
		p.str(3, &m.ServerIdent)
		return p.done(m)
	case TypePrefix:
		m := &Prefix{}
		p.need(3)
		p.str(1, &m.Prefix)
		p.str(2, &m.URI)
		return p.done(m)
	case TypeCall:
		m := &Call{}
		p.need(3)
		p.str(1, &m.CallID)
		p.str(2, &m.ProcURI)
		if p.err == nil {
			for _, arg := range fields[3:] {
				m.Args = append(m.Args, arg)
			}
		}
		return p.done(m)
	case TypeCallResult:
		m := &CallResult{}
		p.need(3)
		p.str(1, &m.CallID)
		m.Result = p.raw(2)
		return p.done(m)
	case TypeCallError:
		m := &CallError{}
		p.need(4)
		p.str(1, &m.CallID)
		p.str(2, &m.ErrorURI)
		p.str(3, &m.Description)
		if len(fields) > 4 {
			m.Details = p.raw(4)
		}
		return p.done(m)
	case TypeSubscribe:
		m := &Subscribe{}
		p.need(2)
		p.str(1, &m.TopicURI)
		return p.done(m)
	case TypeUnsubscribe:
		m := &Unsubscribe{}
		p.need(2)
		p.str(1, &m.TopicURI)
		return p.done(m)
	case TypePublish:
		m := &Publish{}
		p.need(3)
		p.str(1, &m.TopicURI)
		if ev := p.raw(2); ev != nil {
			m.Event = ev
		}
		p.publishOptions(m)
		return p.done(m)
	case TypeEvent:
		m := &Event{}
		p.need(3)
		p.str(1, &m.TopicURI)
		m.Event = p.raw(2)
		return p.done(m)
	}
	return nil, fmt.Errorf("%w: unknown type code %d", ErrMalformed, int(t))
}

// parser keeps the first error and turns every later step into a no-op.
type parser struct {
	u      Unmarshaler
	t      Type
	fields []Raw
	err    error
}

func (p *parser) need(n int) {
	if p.err == nil && len(p.fields) < n {
		p.err = fmt.Errorf("%w: %v needs %d fields, got %d", ErrMalformed, p.t, n, len(p.fields))
	}
}

func (p *parser) decode(i int, v any) {
	if p.err != nil {
		return
	}
	if err := p.u.Unmarshal(p.fields[i], v); err != nil {
		p.err = fmt.Errorf("%w: %v field %d: %v", ErrMalformed, p.t, i, err)
	}
}

func (p *parser) str(i int, s *string) { p.decode(i, s) }

func (p *parser) raw(i int) Raw {
	if p.err != nil {
		return nil
	}
	return p.fields[i]
}

func (p *parser) publishOptions(m *Publish) {
	if p.err != nil {
		return
	}
	switch len(p.fields) {
	case 3:
	case 4:
		// Either excludeMe (bool) or exclude (list).
		var excludeMe bool
		if err := p.u.Unmarshal(p.fields[3], &excludeMe); err == nil {
			m.ExcludeMe = &excludeMe
			return
		}
		m.Exclude = []string{}
		p.decode(3, &m.Exclude)
	default:
		m.Exclude = []string{}
		m.Eligible = []string{}
		p.decode(3, &m.Exclude)
		p.decode(4, &m.Eligible)
	}
}

func (p *parser) done(m Message) (Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	return m, nil
}

package proxy

import (
	"fmt"

	"mini-wamp/message"
)

type serializeFunc func(args []any) (message.Message, error)

// outbound maps every kind a client may send to the factory of its serializer.
// Argument layouts mirror the wire layout after the type code:
//
//	CALL         procURI, args...
//	PREFIX       prefix, uri
//	SUBSCRIBE    topicURI
//	UNSUBSCRIBE  topicURI
//	PUBLISH      topicURI, event [, excludeMe bool | exclude []string [, eligible []string]]
var outbound = map[message.Type]func(ids *IDGenerator) serializeFunc{
	message.TypeCall: func(ids *IDGenerator) serializeFunc {
		return func(args []any) (message.Message, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: CALL needs a procedure URI", ErrInvalidArguments)
			}
			proc, err := stringArg(args, 0, "procedure URI")
			if err != nil {
				return nil, err
			}
			return &message.Call{CallID: ids.Next(), ProcURI: proc, Args: append([]any(nil), args[1:]...)}, nil
		}
	},
	message.TypePrefix: func(*IDGenerator) serializeFunc {
		return func(args []any) (message.Message, error) {
			if err := argCount(args, 2, 2); err != nil {
				return nil, err
			}
			prefix, err := stringArg(args, 0, "prefix")
			if err != nil {
				return nil, err
			}
			uri, err := stringArg(args, 1, "uri")
			if err != nil {
				return nil, err
			}
			return &message.Prefix{Prefix: prefix, URI: uri}, nil
		}
	},
	message.TypeSubscribe: func(*IDGenerator) serializeFunc {
		return func(args []any) (message.Message, error) {
			if err := argCount(args, 1, 1); err != nil {
				return nil, err
			}
			topic, err := stringArg(args, 0, "topic URI")
			if err != nil {
				return nil, err
			}
			return &message.Subscribe{TopicURI: topic}, nil
		}
	},
	message.TypeUnsubscribe: func(*IDGenerator) serializeFunc {
		return func(args []any) (message.Message, error) {
			if err := argCount(args, 1, 1); err != nil {
				return nil, err
			}
			topic, err := stringArg(args, 0, "topic URI")
			if err != nil {
				return nil, err
			}
			return &message.Unsubscribe{TopicURI: topic}, nil
		}
	},
	message.TypePublish: func(*IDGenerator) serializeFunc {
		return serializePublish
	},
}

func serializePublish(args []any) (message.Message, error) {
	if err := argCount(args, 2, 4); err != nil {
		return nil, err
	}
	topic, err := stringArg(args, 0, "topic URI")
	if err != nil {
		return nil, err
	}
	m := &message.Publish{TopicURI: topic, Event: args[1]}

	switch len(args) {
	case 3:
		switch opt := args[2].(type) {
		case bool:
			m.ExcludeMe = &opt
		case []string:
			m.Exclude = nonNil(opt)
		default:
			return nil, fmt.Errorf("%w: PUBLISH option must be bool or []string, got %T", ErrInvalidArguments, opt)
		}
	case 4:
		exclude, ok1 := args[2].([]string)
		eligible, ok2 := args[3].([]string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: PUBLISH exclude and eligible must be []string", ErrInvalidArguments)
		}
		m.Exclude = nonNil(exclude)
		m.Eligible = nonNil(eligible)
	}
	return m, nil
}

// Serializer builds outgoing messages for the operations of one capability set.
// Its operation table is fixed at build time.
type Serializer struct {
	set string
	ops map[string]serializeFunc
}

func newSerializer(desc Descriptor, ids *IDGenerator) (*Serializer, error) {
	s := &Serializer{set: desc.Name, ops: make(map[string]serializeFunc, len(desc.Operations))}
	for _, op := range desc.Operations {
		if op.Name == "" {
			return nil, &BuildError{Set: desc.Name, Reason: "operation without a name"}
		}
		if _, dup := s.ops[op.Name]; dup {
			return nil, &BuildError{Set: desc.Name, Operation: op.Name, Reason: "declared twice"}
		}
		factory, ok := outbound[op.Kind]
		if !ok {
			return nil, &BuildError{Set: desc.Name, Operation: op.Name,
				Reason: fmt.Sprintf("%v cannot be sent by a client", op.Kind)}
		}
		s.ops[op.Name] = factory(ids)
	}
	return s, nil
}

// Serialize builds the wire message for op. CALLs get a fresh call id.
func (s *Serializer) Serialize(op string, args []any) (message.Message, error) {
	fn, ok := s.ops[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not part of %q", ErrUnsupportedOperation, op, s.set)
	}
	return fn(args)
}

func argCount(args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("%w: want %d..%d arguments, got %d", ErrInvalidArguments, min, max, len(args))
	}
	return nil
}

func stringArg(args []any, i int, what string) (string, error) {
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string, got %T", ErrInvalidArguments, what, args[i])
	}
	return s, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

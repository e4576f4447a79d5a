package codec

import (
	"fmt"

	gjson "github.com/goccy/go-json"

	"mini-wamp/message"
)

// JSONFormatter is the WAMP v1 wire format: every message is a JSON array.
type JSONFormatter struct{}

func (JSONFormatter) Encode(fields []any) ([]byte, error) {
	out := make([]any, len(fields))
	for i, f := range fields {
		// Raw fields are already JSON, embed them verbatim instead of as base64 bytes.
		if raw, ok := f.(message.Raw); ok {
			out[i] = gjson.RawMessage(raw)
			continue
		}
		out[i] = f
	}
	return gjson.Marshal(out)
}

func (JSONFormatter) Decode(data []byte) ([]message.Raw, error) {
	var list []gjson.RawMessage
	if err := gjson.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("codec: json decode: %w", err)
	}
	fields := make([]message.Raw, len(list))
	for i, r := range list {
		fields[i] = message.Raw(r)
	}
	return fields, nil
}

func (JSONFormatter) Unmarshal(raw message.Raw, v any) error {
	if raw == nil {
		return fmt.Errorf("codec: json unmarshal: empty field")
	}
	return gjson.Unmarshal(raw, v)
}

func (JSONFormatter) Type() Type {
	return TypeJSON
}

func (JSONFormatter) Subprotocol() string {
	return "wamp"
}

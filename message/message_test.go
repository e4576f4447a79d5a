package message

import (
	"errors"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

// jsonUnmarshaler lets the layout tests run without the codec package.
type jsonUnmarshaler struct{}

func (jsonUnmarshaler) Unmarshal(raw Raw, v any) error { return json.Unmarshal(raw, v) }

func rawFields(t *testing.T, s string) []Raw {
	t.Helper()
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	out := make([]Raw, len(list))
	for i, r := range list {
		out[i] = Raw(r)
	}
	return out
}

func TestParseInbound(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Message
	}{
		{"welcome", `[0,"s1",1,"router/1.0"]`, &Welcome{SessionID: "s1", ProtocolVersion: 1, ServerIdent: "router/1.0"}},
		{"callresult", `[3,"c1",5]`, &CallResult{CallID: "c1", Result: Raw("5")}},
		{"callerror", `[4,"c1","http://example.com/error#bad","bad args"]`,
			&CallError{CallID: "c1", ErrorURI: "http://example.com/error#bad", Description: "bad args"}},
		{"callerror details", `[4,"c1","u","d",{"x":1}]`,
			&CallError{CallID: "c1", ErrorURI: "u", Description: "d", Details: Raw(`{"x":1}`)}},
		{"event", `[8,"http://example.com/topic",{"a":1}]`, &Event{TopicURI: "http://example.com/topic", Event: Raw(`{"a":1}`)}},
		{"subscribe", `[5,"t"]`, &Subscribe{TopicURI: "t"}},
		{"unsubscribe", `[6,"t"]`, &Unsubscribe{TopicURI: "t"}},
		{"prefix", `[1,"calc","http://example.com/calc#"]`, &Prefix{Prefix: "calc", URI: "http://example.com/calc#"}},
		{"call", `[2,"c9","calc:add",2,3]`, &Call{CallID: "c9", ProcURI: "calc:add", Args: []any{Raw("2"), Raw("3")}}},
	}

	for _, tc := range cases {
		got, err := Parse(jsonUnmarshaler{}, rawFields(t, tc.wire))
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.name, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %#v, want %#v", tc.name, got, tc.want)
		}
	}
}

func TestParsePublishOptions(t *testing.T) {
	m, err := Parse(jsonUnmarshaler{}, rawFields(t, `[7,"t",1,true]`))
	if err != nil {
		t.Fatal(err)
	}
	pub := m.(*Publish)
	if pub.ExcludeMe == nil || !*pub.ExcludeMe {
		t.Fatalf("expect excludeMe=true, got %#v", pub)
	}

	m, err = Parse(jsonUnmarshaler{}, rawFields(t, `[7,"t",1,["a"],["b","c"]]`))
	if err != nil {
		t.Fatal(err)
	}
	pub = m.(*Publish)
	if !reflect.DeepEqual(pub.Exclude, []string{"a"}) || !reflect.DeepEqual(pub.Eligible, []string{"b", "c"}) {
		t.Fatalf("unexpected filters: %#v", pub)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		`[]`,
		`["x"]`,
		`[3,"c1"]`,
		`[3,7,5]`,
		`[8]`,
		`[42,"x"]`,
	}
	for _, wire := range cases {
		_, err := Parse(jsonUnmarshaler{}, rawFields(t, wire))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expect ErrMalformed, got %v", wire, err)
		}
	}
}

func TestPublishFields(t *testing.T) {
	yes := true
	cases := []struct {
		msg  *Publish
		want int
	}{
		{&Publish{TopicURI: "t", Event: 1}, 3},
		{&Publish{TopicURI: "t", Event: 1, ExcludeMe: &yes}, 4},
		{&Publish{TopicURI: "t", Event: 1, Exclude: []string{"a"}}, 4},
		{&Publish{TopicURI: "t", Event: 1, Eligible: []string{"b"}}, 5},
	}
	for i, tc := range cases {
		if got := len(tc.msg.Fields()); got != tc.want {
			t.Fatalf("case %d: expect %d fields, got %d", i, tc.want, got)
		}
	}

	fields := (&Publish{TopicURI: "t", Event: 1, Eligible: []string{"b"}}).Fields()
	if exclude, ok := fields[3].([]string); !ok || exclude == nil || len(exclude) != 0 {
		t.Fatalf("expect empty exclude list before eligible, got %#v", fields[3])
	}
}

func TestCallFields(t *testing.T) {
	got := (&Call{CallID: "c1", ProcURI: "calc:add", Args: []any{2, 3}}).Fields()
	want := []any{int(TypeCall), "c1", "calc:add", 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestTypeString(t *testing.T) {
	if TypeCallError.String() != "CALLERROR" {
		t.Fatalf("unexpected name %q", TypeCallError.String())
	}
	if Type(99).Known() {
		t.Fatal("99 must not be a known type")
	}
	if Type(99).String() != "TYPE(99)" {
		t.Fatalf("unexpected name %q", Type(99).String())
	}
}

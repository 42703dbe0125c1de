package transcoder_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gregbrowndev/eventsourcing/transcoder"
)

type payload struct {
	Name  string
	Count int
}

func TestRoundTrip(t *testing.T) {
	tc := transcoder.NewJSON()

	b, err := tc.Encode(payload{Name: "kalle", Count: 3})
	if err != nil {
		t.Fatal(err)
	}

	var back payload
	if err := tc.Decode(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Name != "kalle" || back.Count != 3 {
		t.Fatal("round trip changed the value", back)
	}
}

func TestMalformedBytes(t *testing.T) {
	tc := transcoder.NewJSON()

	var v payload
	err := tc.Decode([]byte("{not json"), &v)
	if !errors.Is(err, transcoder.ErrTranscoding) {
		t.Fatal("expected transcoding error, got", err)
	}
}

func TestUnencodableValue(t *testing.T) {
	tc := transcoder.NewJSON()

	_, err := tc.Encode(func() {})
	if !errors.Is(err, transcoder.ErrTranscoding) {
		t.Fatal("expected transcoding error, got", err)
	}
}

type temperature float64

func TestCustomType(t *testing.T) {
	tc := transcoder.NewJSON()
	err := tc.Register("temperature", temperature(0),
		func(v interface{}) (json.RawMessage, error) {
			return json.Marshal(float64(v.(temperature)))
		},
		func(data json.RawMessage) (interface{}, error) {
			var f float64
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, err
			}
			return temperature(f), nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	b, err := tc.Encode(temperature(21.5))
	if err != nil {
		t.Fatal(err)
	}

	var back interface{}
	if err := tc.Decode(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != temperature(21.5) {
		t.Fatalf("round trip changed the value: %v (%T)", back, back)
	}
}

func TestUnknownCustomType(t *testing.T) {
	tc := transcoder.NewJSON()

	var back interface{}
	err := tc.Decode([]byte(`{"_type":"temperature","_data":21.5}`), &back)
	if !errors.Is(err, transcoder.ErrTranscoding) {
		t.Fatal("expected transcoding error for unknown type, got", err)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	tc := transcoder.NewJSON()
	enc := func(v interface{}) (json.RawMessage, error) { return json.Marshal(v) }
	dec := func(data json.RawMessage) (interface{}, error) { return nil, nil }

	if err := tc.Register("temperature", temperature(0), enc, dec); err != nil {
		t.Fatal(err)
	}
	if err := tc.Register("temperature", temperature(0), enc, dec); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

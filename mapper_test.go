package eventsourcing

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gregbrowndev/eventsourcing/cipher"
	"github.com/gregbrowndev/eventsourcing/compressor"
	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/transcoder"
)

type Ship struct {
	AggregateRoot
	Port string
}

type Docked struct {
	Port string
}

func (s *Ship) Transition(event Event) {
	switch e := event.Data().(type) {
	case *Docked:
		s.Port = e.Port
	}
}

func (s *Ship) Register(r RegisterFunc) {
	r(&Docked{})
}

func newShipEvent(t *testing.T) Event {
	t.Helper()
	return Event{
		aggregateID:   uuid.NewString(),
		version:       1,
		aggregateType: "Ship",
		reason:        "Docked",
		timestamp:     time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
		data:          &Docked{Port: "Gothenburg"},
		metadata:      map[string]interface{}{"trace": "abc123"},
	}
}

func newMapper(t *testing.T, comp compressor.Compressor, ciph cipher.Cipher) *Mapper {
	t.Helper()
	r := newRegister()
	r.Register(&Ship{})
	return NewMapper(r, transcoder.NewJSON(), comp, ciph)
}

func assertRoundTrip(t *testing.T, m *Mapper) {
	t.Helper()
	event := newShipEvent(t)

	stored, err := m.FromDomain(event)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Topic != "Ship:Docked" {
		t.Fatal("wrong topic", stored.Topic)
	}
	if stored.AggregateID != event.AggregateID() || stored.Version != 1 {
		t.Fatal("wrong stored meta data")
	}

	back, err := m.ToDomain(stored)
	if err != nil {
		t.Fatal(err)
	}
	if back.AggregateID() != event.AggregateID() {
		t.Fatal("wrong aggregate id after round trip")
	}
	if back.Version() != event.Version() {
		t.Fatal("wrong version after round trip")
	}
	if !back.Timestamp().Equal(event.Timestamp()) {
		t.Fatal("wrong timestamp after round trip")
	}
	docked, ok := back.Data().(*Docked)
	if !ok {
		t.Fatalf("wrong payload type %T", back.Data())
	}
	if docked.Port != "Gothenburg" {
		t.Fatal("wrong payload after round trip")
	}
	if back.Metadata()["trace"] != "abc123" {
		t.Fatal("wrong metadata after round trip")
	}
}

func TestMapperRoundTrip(t *testing.T) {
	assertRoundTrip(t, newMapper(t, nil, nil))
}

func TestMapperRoundTripCompressed(t *testing.T) {
	assertRoundTrip(t, newMapper(t, compressor.Gzip{}, nil))
}

func TestMapperRoundTripEncrypted(t *testing.T) {
	key, err := cipher.NewDefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	ciph, err := cipher.NewAESGCM(key)
	if err != nil {
		t.Fatal(err)
	}
	assertRoundTrip(t, newMapper(t, nil, ciph))
}

func TestMapperRoundTripFullPipeline(t *testing.T) {
	key, err := cipher.NewDefaultKey()
	if err != nil {
		t.Fatal(err)
	}
	ciph, err := cipher.NewAESGCM(key)
	if err != nil {
		t.Fatal(err)
	}
	assertRoundTrip(t, newMapper(t, compressor.Zlib{}, ciph))
}

func TestMapperHidesPlaintextWhenEncrypted(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	ciph, _ := cipher.NewAESGCM(key)
	m := newMapper(t, nil, ciph)

	stored, err := m.FromDomain(newShipEvent(t))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(stored.State, []byte("Gothenburg")) {
		t.Fatal("encrypted state leaks the plaintext payload")
	}
}

func TestMapperUnregisteredEvent(t *testing.T) {
	m := newMapper(t, nil, nil)

	event := newShipEvent(t)
	event.reason = "Sunk"
	if _, err := m.FromDomain(event); !errors.Is(err, ErrEventNotRegistered) {
		t.Fatal("expected event not registered error", err)
	}

	_, err := m.ToDomain(core.StoredEvent{AggregateID: uuid.NewString(), Version: 1, Topic: "Ship:Sunk", State: []byte("{}")})
	if !errors.Is(err, transcoder.ErrTranscoding) {
		t.Fatal("expected transcoding error for unknown topic", err)
	}
}

func TestMapperTamperedState(t *testing.T) {
	key, _ := cipher.NewDefaultKey()
	ciph, _ := cipher.NewAESGCM(key)
	m := newMapper(t, nil, ciph)

	stored, err := m.FromDomain(newShipEvent(t))
	if err != nil {
		t.Fatal(err)
	}
	stored.State[len(stored.State)-1] ^= 0xff

	if _, err := m.ToDomain(stored); !errors.Is(err, core.ErrIntegrity) {
		t.Fatal("expected integrity error on tampered state", err)
	}
}

func TestMapperUpcastsOlderSchema(t *testing.T) {
	r := newRegister()
	r.Register(&Ship{})
	m := NewMapper(r, transcoder.NewJSON(), nil, nil)

	// an event stored before the payload field was renamed to Port
	env := stateEnvelope{
		SchemaVersion: 1,
		Timestamp:     time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:          []byte(`{"Harbour":"Gothenburg"}`),
	}
	state, err := m.transcoder.Encode(env)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.RegisterUpcaster("Ship:Docked", 1, func(state map[string]interface{}) map[string]interface{} {
		state["Port"] = state["Harbour"]
		delete(state, "Harbour")
		return state
	}); err != nil {
		t.Fatal(err)
	}

	event, err := m.ToDomain(core.StoredEvent{
		AggregateID: uuid.NewString(),
		Version:     1,
		Topic:       "Ship:Docked",
		State:       state,
	})
	if err != nil {
		t.Fatal(err)
	}
	docked := event.Data().(*Docked)
	if docked.Port != "Gothenburg" {
		t.Fatal("upcaster chain was not applied", docked)
	}
}

func TestUpcasterRegistrationOrder(t *testing.T) {
	r := newRegister()
	r.Register(&Ship{})

	noop := func(state map[string]interface{}) map[string]interface{} { return state }

	if err := r.RegisterUpcaster("Ship:Docked", 2, noop); !errors.Is(err, ErrUpcasterOutOfOrder) {
		t.Fatal("upcaster chains must start at version 1", err)
	}
	if err := r.RegisterUpcaster("Ship:Sunk", 1, noop); !errors.Is(err, ErrEventNotRegistered) {
		t.Fatal("upcasters require a registered topic", err)
	}
	if err := r.RegisterUpcaster("Ship:Docked", 1, noop); err != nil {
		t.Fatal(err)
	}
	if r.SchemaVersion("Ship:Docked") != 2 {
		t.Fatal("schema version should follow the upcaster chain")
	}
}

package eventsourcing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gregbrowndev/eventsourcing/cipher"
	"github.com/gregbrowndev/eventsourcing/compressor"
	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/transcoder"
)

// stateEnvelope is what actually ends up in StoredEvent.State, before the
// optional compress and encrypt stages. The event timestamp, metadata and
// schema version travel inside it so the record schema stays minimal.
type stateEnvelope struct {
	SchemaVersion uint8                  `json:"schema_version"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          json.RawMessage        `json:"data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Mapper binds event meta data and transcoded state into stored records and
// back. On write the payload passes transcode, compress, encrypt in that
// order; on read the pipeline is reversed and the upcaster chain lifts older
// payload shapes to the current schema version. Mappers are pure and freely
// shareable between goroutines.
type Mapper struct {
	register   *register
	transcoder transcoder.Transcoder
	compressor compressor.Compressor
	cipher     cipher.Cipher
}

// NewMapper returns a Mapper, compressor and cipher may be nil
func NewMapper(register *register, t transcoder.Transcoder, comp compressor.Compressor, ciph cipher.Cipher) *Mapper {
	return &Mapper{
		register:   register,
		transcoder: t,
		compressor: comp,
		cipher:     ciph,
	}
}

// FromDomain derives the topic from the event kind, serializes the payload
// through the pipeline and emits the stored record
func (m *Mapper) FromDomain(event Event) (core.StoredEvent, error) {
	topic := event.Topic()
	if !m.register.EventRegistered(topic) {
		return core.StoredEvent{}, core.Classify(core.ErrProgramming, fmt.Errorf("%w: %s", ErrEventNotRegistered, topic))
	}

	data, err := m.transcoder.Encode(event.Data())
	if err != nil {
		return core.StoredEvent{}, err
	}
	state, err := m.transcoder.Encode(stateEnvelope{
		SchemaVersion: m.register.SchemaVersion(topic),
		Timestamp:     event.Timestamp(),
		Data:          data,
		Metadata:      event.Metadata(),
	})
	if err != nil {
		return core.StoredEvent{}, err
	}

	if m.compressor != nil {
		state, err = m.compressor.Compress(state)
		if err != nil {
			return core.StoredEvent{}, core.Classify(core.ErrIntegrity, err)
		}
	}
	if m.cipher != nil {
		state, err = m.cipher.Encrypt(state)
		if err != nil {
			return core.StoredEvent{}, core.Classify(core.ErrIntegrity, err)
		}
	}

	return core.StoredEvent{
		AggregateID: event.AggregateID(),
		Version:     event.version,
		Topic:       topic,
		State:       state,
	}, nil
}

// ToDomain resolves the topic to the registered event constructor, reverses
// the pipeline and passes the payload through the upcaster chain
func (m *Mapper) ToDomain(stored core.StoredEvent) (Event, error) {
	construct, ok := m.register.Type(stored.Topic)
	if !ok {
		return Event{}, fmt.Errorf("%w: topic %q: %w", transcoder.ErrTranscoding, stored.Topic, ErrEventNotRegistered)
	}

	state := stored.State
	var err error
	if m.cipher != nil {
		state, err = m.cipher.Decrypt(state)
		if err != nil {
			return Event{}, core.Classify(core.ErrIntegrity, err)
		}
	}
	if m.compressor != nil {
		state, err = m.compressor.Decompress(state)
		if err != nil {
			return Event{}, core.Classify(core.ErrIntegrity, err)
		}
	}

	var env stateEnvelope
	if err := m.transcoder.Decode(state, &env); err != nil {
		return Event{}, err
	}

	raw := env.Data
	if current := m.register.SchemaVersion(stored.Topic); env.SchemaVersion < current {
		raw, err = m.upcast(stored.Topic, env.SchemaVersion, raw)
		if err != nil {
			return Event{}, err
		}
	}

	data := construct()
	if err := m.transcoder.Decode(raw, data); err != nil {
		return Event{}, err
	}

	aggregateType, reason, ok := splitTopic(stored.Topic)
	if !ok {
		return Event{}, fmt.Errorf("%w: malformed topic %q", transcoder.ErrTranscoding, stored.Topic)
	}
	return Event{
		aggregateID:   stored.AggregateID,
		version:       stored.Version,
		aggregateType: aggregateType,
		reason:        reason,
		timestamp:     env.Timestamp,
		data:          data,
		metadata:      env.Metadata,
	}, nil
}

// ToDomainNotification is ToDomain for a notification, keeping its global id
func (m *Mapper) ToDomainNotification(n core.Notification) (Event, error) {
	event, err := m.ToDomain(n.StoredEvent)
	if err != nil {
		return Event{}, err
	}
	event.globalVersion = n.ID
	return event, nil
}

func (m *Mapper) upcast(topic string, from uint8, raw json.RawMessage) (json.RawMessage, error) {
	var payload map[string]interface{}
	if err := m.transcoder.Decode(raw, &payload); err != nil {
		return nil, err
	}
	for _, up := range m.register.Upcasters(topic, from) {
		payload = up(payload)
	}
	return m.transcoder.Encode(payload)
}

func splitTopic(topic string) (aggregateType, reason string, ok bool) {
	aggregateType, reason, found := strings.Cut(topic, ":")
	if !found || aggregateType == "" || reason == "" {
		return "", "", false
	}
	return aggregateType, reason, true
}

package eventsourcing

import (
	"reflect"
	"sync"
)

type registerFunc = func() interface{}

// RegisterFunc is the callback handed to an aggregate's Register method to
// declare its event kinds
type RegisterFunc = func(events ...interface{})

// Upcaster transforms a decoded payload of one schema version into the next.
// Upcasters must be pure functions.
type Upcaster func(state map[string]interface{}) map[string]interface{}

type registeredEvent struct {
	construct registerFunc
	// upcasters[i] lifts schema version i+1 to i+2; the current schema
	// version is therefore len(upcasters)+1
	upcasters []Upcaster
}

// register maps topics to event constructors and schema upcasters. It is
// populated at startup and replaces runtime class resolution: an unknown topic
// is an error, never a surprise.
type register struct {
	mu         sync.RWMutex
	aggregates map[string]struct{}
	events     map[string]*registeredEvent
}

func newRegister() *register {
	return &register{
		aggregates: make(map[string]struct{}),
		events:     make(map[string]*registeredEvent),
	}
}

// Type return the func to generate the correct event data type
func (r *register) Type(topic string) (registerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.events[topic]
	if !ok {
		return nil, false
	}
	return d.construct, true
}

// EventRegistered returns true if the event topic is registered
func (r *register) EventRegistered(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.events[topic]
	return ok
}

// AggregateRegistered returns true if the aggregate is registered
func (r *register) AggregateRegistered(a aggregate) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.aggregates[aggregateType(a)]
	return ok
}

// SchemaVersion returns the current schema version of the topic
func (r *register) SchemaVersion(topic string) uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.events[topic]
	if !ok {
		return 1
	}
	return uint8(len(d.upcasters)) + 1
}

// Upcasters returns the ordered chain lifting a payload stored at schema
// version from up to the current version
func (r *register) Upcasters(topic string, from uint8) []Upcaster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.events[topic]
	if !ok || from < 1 || int(from) > len(d.upcasters) {
		return nil
	}
	return d.upcasters[from-1:]
}

// RegisterUpcaster appends an upcaster lifting payloads of schema version from
// to from+1. Chains must be registered in order, starting at version 1.
func (r *register) RegisterUpcaster(topic string, from uint8, u Upcaster) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.events[topic]
	if !ok {
		return ErrEventNotRegistered
	}
	if int(from) != len(d.upcasters)+1 {
		return ErrUpcasterOutOfOrder
	}
	d.upcasters = append(d.upcasters, u)
	return nil
}

// Register walks the aggregate's Register callback and stores a constructor
// for every event kind under its topic
func (r *register) Register(a aggregate) {
	typ := aggregateType(a)

	// fu is the callback handed to the aggregate to register its events
	fu := func(events ...interface{}) {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, event := range events {
			f := eventToFunc(event)
			topic := typ + ":" + reflect.TypeOf(event).Elem().Name()
			if _, ok := r.events[topic]; !ok {
				r.events[topic] = &registeredEvent{construct: f}
			}
		}
	}
	a.Register(fu)

	r.mu.Lock()
	r.aggregates[typ] = struct{}{}
	r.mu.Unlock()
}

func eventToFunc(event interface{}) registerFunc {
	typ := reflect.TypeOf(event).Elem()
	return func() interface{} { return reflect.New(typ).Interface() }
}

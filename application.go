package eventsourcing

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gregbrowndev/eventsourcing/cipher"
	"github.com/gregbrowndev/eventsourcing/compressor"
	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/transcoder"
)

// Application binds the register, mapper, event store, repository, snapshots
// and notification log behind one facade.
type Application struct {
	register      *register
	mapper        *Mapper
	eventStore    *EventStore
	repository    *Repository
	snapshots     *SnapshotStore
	log           *NotificationLog
	transcoder    transcoder.Transcoder
	compressor    compressor.Compressor
	cipher        cipher.Cipher
	snapshotEvery uint64
	logger        logrus.FieldLogger
}

// Option modifies an Application under construction
type Option func(*Application)

// WithSnapshots enables snapshotting backed by the given recorder
func WithSnapshots(recorder core.SnapshotRecorder) Option {
	return func(a *Application) {
		a.snapshots = NewSnapshotStore(recorder, nil)
	}
}

// WithSnapshotEvery takes a snapshot automatically when a save moves an
// aggregate across a multiple of n events. Requires WithSnapshots.
func WithSnapshotEvery(n uint64) Option {
	return func(a *Application) { a.snapshotEvery = n }
}

// WithCipher encrypts event state with the given cipher
func WithCipher(c cipher.Cipher) Option {
	return func(a *Application) { a.cipher = c }
}

// WithCompressor compresses event state with the given compressor
func WithCompressor(c compressor.Compressor) Option {
	return func(a *Application) { a.compressor = c }
}

// WithTranscoder replaces the default JSON transcoder
func WithTranscoder(t transcoder.Transcoder) Option {
	return func(a *Application) { a.transcoder = t }
}

// WithLogger replaces the default logrus standard logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Application) { a.logger = l }
}

// NewApplication wires an application on top of the given recorder
func NewApplication(recorder core.Recorder, opts ...Option) *Application {
	app := &Application{
		register:   newRegister(),
		transcoder: transcoder.NewJSON(),
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(app)
	}

	app.mapper = NewMapper(app.register, app.transcoder, app.compressor, app.cipher)
	app.eventStore = NewEventStore(app.mapper, recorder)
	if app.snapshots != nil {
		app.snapshots.transcoder = app.transcoder
	}
	app.repository = NewRepository(app.eventStore, app.snapshots)
	app.log = NewNotificationLog(recorder)
	return app
}

// Register makes the aggregate and its event kinds known to the application.
// Must be called for every aggregate type before saving or loading it.
func (app *Application) Register(a aggregate) {
	app.register.Register(a)
}

// RegisterUpcaster adds an upcaster lifting stored payloads of the topic from
// schema version from to from+1
func (app *Application) RegisterUpcaster(topic string, from uint8, u Upcaster) error {
	return app.register.RegisterUpcaster(topic, from, u)
}

// Save collects the pending events of all aggregates and appends them to the
// store as one atomic batch. On success the events are durable, have received
// notification ids and the aggregate roots are updated. On ErrConcurrency the
// pending buffers are not restored, the caller must discard the instances and
// reload.
func (app *Application) Save(ctx context.Context, aggregates ...aggregate) error {
	for _, a := range aggregates {
		if !app.register.AggregateRegistered(a) {
			return ErrAggregateNotRegistered
		}
	}

	var events []Event
	// last index in the batch per aggregate, to write back versions on success
	last := make(map[aggregate]int)
	for _, a := range aggregates {
		for _, event := range a.Root().collect() {
			events = append(events, event)
			last[a] = len(events) - 1
		}
	}
	return app.save(ctx, aggregates, events, last)
}

func (app *Application) save(ctx context.Context, aggregates []aggregate, events []Event, last map[aggregate]int) error {
	if len(events) == 0 {
		return nil
	}

	ids, err := app.eventStore.Put(ctx, events)
	if err != nil {
		return err
	}

	for _, a := range aggregates {
		i, ok := last[a]
		if !ok {
			continue
		}
		before := a.Root().aggregateVersion
		a.Root().commit(events[i].version, ids[i])
		app.maybeSnapshot(ctx, a, before)
	}

	app.logger.WithFields(logrus.Fields{
		"events":  len(events),
		"last_id": ids[len(ids)-1],
	}).Debug("saved batch")
	return nil
}

// maybeSnapshot takes a snapshot when the save moved the aggregate across a
// multiple of the configured cadence
func (app *Application) maybeSnapshot(ctx context.Context, a aggregate, before core.Version) {
	if app.snapshots == nil || app.snapshotEvery == 0 {
		return
	}
	after := uint64(a.Root().Version())
	if after/app.snapshotEvery > uint64(before)/app.snapshotEvery {
		if err := app.snapshots.Save(ctx, a); err != nil {
			app.logger.WithError(err).Warn("automatic snapshot failed")
		}
	}
}

// TakeSnapshot captures the aggregate's state into the snapshot stream
func (app *Application) TakeSnapshot(ctx context.Context, a aggregate) error {
	if app.snapshots == nil {
		return core.Classify(core.ErrProgramming, ErrNoSnapshotStore)
	}
	return app.snapshots.Save(ctx, a)
}

// Repository returns the aggregate repository
func (app *Application) Repository() *Repository {
	return app.repository
}

// Log returns the notification log
func (app *Application) Log() *NotificationLog {
	return app.log
}

// Reader returns a reader over the notification log
func (app *Application) Reader(opts ...ReaderOption) *NotificationLogReader {
	return NewNotificationLogReader(app.log, opts...)
}

// EventStore returns the composed event store, mainly to wrap it with
// decorators
func (app *Application) EventStore() *EventStore {
	return app.eventStore
}

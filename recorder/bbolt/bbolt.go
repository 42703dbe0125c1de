// Package bbolt provides a recorder on a bbolt key value file.
//
// Notification id density: bbolt runs a single update transaction at a time,
// and the global order bucket's sequence is part of that transaction. Ids are
// therefore assigned in commit order and roll back with a failed insert.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/gregbrowndev/eventsourcing/core"
)

const (
	globalEventOrderBucketName = "global_event_order"
	snapshotBucketName         = "snapshots"
)

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// boltEvent is the internal shape events and notifications are stored in
type boltEvent struct {
	AggregateID string
	Version     uint64
	GlobalID    uint64
	Topic       string
	State       []byte
}

// BBolt is a recorder on a bbolt database file
type BBolt struct {
	db *bbolt.DB
}

// MustOpenBBolt opens the recorder found in the given file. If the file is not
// found it will be created and initialized. Will panic if it has problems
// persisting the changes to the filesystem.
func MustOpenBBolt(dbFile string) *BBolt {
	db, err := bbolt.Open(dbFile, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		panic(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(globalEventOrderBucketName)); err != nil {
			return errors.Wrap(err, "could not create global event order bucket")
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(snapshotBucketName)); err != nil {
			return errors.Wrap(err, "could not create snapshot bucket")
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
	return &BBolt{db: db}
}

// InsertEvents appends the batch in one update transaction and returns the
// assigned notification ids
func (b *BBolt) InsertEvents(_ context.Context, events []core.StoredEvent) ([]uint64, error) {
	var ids []uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		heads := make(map[string]core.Version)
		for _, event := range events {
			if _, ok := heads[event.AggregateID]; ok {
				continue
			}
			heads[event.AggregateID] = aggregateHead(tx, event.AggregateID)
		}
		if err := core.ValidateEvents(events, heads); err != nil {
			return err
		}

		globalBucket := tx.Bucket([]byte(globalEventOrderBucketName))
		if globalBucket == nil {
			return core.Classify(core.ErrPersistence, errors.New("global bucket not found"))
		}

		for _, event := range events {
			evBucket, err := tx.CreateBucketIfNotExists(eventBucketName(event.AggregateID))
			if err != nil {
				return core.Classify(core.ErrPersistence, errors.Wrap(err, "could not create aggregate events bucket"))
			}
			globalID, err := globalBucket.NextSequence()
			if err != nil {
				return core.Classify(core.ErrPersistence, errors.Wrap(err, "could not get next sequence for global bucket"))
			}

			value, err := json.Marshal(boltEvent{
				AggregateID: event.AggregateID,
				Version:     uint64(event.Version),
				GlobalID:    globalID,
				Topic:       event.Topic,
				State:       event.State,
			})
			if err != nil {
				return core.Classify(core.ErrIntegrity, err)
			}

			if err := evBucket.Put(itob(uint64(event.Version)), value); err != nil {
				return core.Classify(core.ErrPersistence, errors.Wrap(err, "could not save event in aggregate bucket"))
			}
			if err := globalBucket.Put(itob(globalID), value); err != nil {
				return core.Classify(core.ErrPersistence, errors.Wrap(err, "could not save event in global bucket"))
			}
			ids = append(ids, globalID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SelectEvents returns the aggregate's events ordered by version
func (b *BBolt) SelectEvents(_ context.Context, aggregateID string, opts ...core.SelectOption) ([]core.StoredEvent, error) {
	o := core.NewSelectOptions(opts...)

	var events []core.StoredEvent
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(eventBucketName(aggregateID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, obj := cursor.Seek(itob(uint64(o.Gt) + 1)); k != nil; k, obj = cursor.Next() {
			var be boltEvent
			if err := json.Unmarshal(obj, &be); err != nil {
				return core.Classify(core.ErrIntegrity, err)
			}
			if o.Lte > 0 && core.Version(be.Version) > o.Lte {
				break
			}
			events = append(events, storedEvent(be))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if o.Desc {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	if o.Limit > 0 && len(events) > o.Limit {
		events = events[:o.Limit]
	}
	return events, nil
}

// SelectNotifications returns up to limit notifications with id >= start,
// ordered and contiguous by id
func (b *BBolt) SelectNotifications(_ context.Context, start uint64, limit int) ([]core.Notification, error) {
	var notifications []core.Notification
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(globalEventOrderBucketName)).Cursor()
		count := 0
		for k, obj := cursor.Seek(itob(start)); k != nil && count < limit; k, obj = cursor.Next() {
			var be boltEvent
			if err := json.Unmarshal(obj, &be); err != nil {
				return core.Classify(core.ErrIntegrity, err)
			}
			notifications = append(notifications, core.Notification{ID: be.GlobalID, StoredEvent: storedEvent(be)})
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// MaxNotificationID returns the id of the last committed notification
func (b *BBolt) MaxNotificationID(_ context.Context) (uint64, error) {
	var max uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket([]byte(globalEventOrderBucketName)).Cursor().Last()
		if k != nil {
			max = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return max, nil
}

// InsertSnapshot stores a snapshot in the separate snapshot bucket
func (b *BBolt) InsertSnapshot(_ context.Context, snapshot core.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return core.Classify(core.ErrIntegrity, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(snapshotBucketName)).CreateBucketIfNotExists([]byte(snapshot.AggregateID))
		if err != nil {
			return core.Classify(core.ErrPersistence, errors.Wrap(err, "could not create snapshot bucket"))
		}
		return bucket.Put(itob(uint64(snapshot.Version)), value)
	})
}

// SelectSnapshot returns the latest snapshot with version <= lte, or the
// latest overall when lte is zero
func (b *BBolt) SelectSnapshot(_ context.Context, aggregateID string, lte core.Version) (core.Snapshot, error) {
	var snap core.Snapshot
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucketName)).Bucket([]byte(aggregateID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		var k, obj []byte
		if lte == 0 {
			k, obj = cursor.Last()
		} else {
			// position at the first key after lte, then step back
			k, obj = cursor.Seek(itob(uint64(lte) + 1))
			if k == nil {
				k, obj = cursor.Last()
			} else {
				k, obj = cursor.Prev()
			}
		}
		if k == nil {
			return nil
		}
		if err := json.Unmarshal(obj, &snap); err != nil {
			return core.Classify(core.ErrIntegrity, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return core.Snapshot{}, err
	}
	if !found {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	return snap, nil
}

// Close closes the recorder and the underlying database
func (b *BBolt) Close() error {
	return b.db.Close()
}

func aggregateHead(tx *bbolt.Tx, aggregateID string) core.Version {
	bucket := tx.Bucket(eventBucketName(aggregateID))
	if bucket == nil {
		return 0
	}
	k, _ := bucket.Cursor().Last()
	if k == nil {
		return 0
	}
	return core.Version(binary.BigEndian.Uint64(k))
}

func eventBucketName(aggregateID string) []byte {
	return []byte("events_" + aggregateID)
}

func storedEvent(be boltEvent) core.StoredEvent {
	return core.StoredEvent{
		AggregateID: be.AggregateID,
		Version:     core.Version(be.Version),
		Topic:       be.Topic,
		State:       be.State,
	}
}

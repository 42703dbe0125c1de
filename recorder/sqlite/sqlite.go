// Package sqlite provides a recorder on an embedded SQLite database.
//
// Notification id density: a store level mutex serializes InsertEvents, so id
// assignment (AUTOINCREMENT on the events table, never deleted from) happens
// in commit order and a reader polling by id can never observe id k before
// k-1 is visible.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/gregbrowndev/eventsourcing/core"
)

// SQLite is a recorder on a database/sql handle opened with the sqlite3 driver
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// Open returns a SQLite recorder on the given database handle
func Open(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Close the underlying database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Migrate creates the events and snapshots tables
func (s *SQLite) Migrate(ctx context.Context) error {
	sqlStmt := []string{
		`create table if not exists events (id integer primary key autoincrement, aggregate_id text not null, version integer not null, topic text not null, state blob not null);`,
		`create unique index if not exists events_aggregate_id_version on events (aggregate_id, version);`,
		`create table if not exists snapshots (aggregate_id text not null, version integer not null, topic text not null, state blob not null, primary key (aggregate_id, version));`,
	}
	for _, stmt := range sqlStmt {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return core.Classify(core.ErrPersistence, errors.Wrap(err, "migrate"))
		}
	}
	return nil
}

// InsertEvents appends the batch in one transaction and returns the assigned
// notification ids
func (s *SQLite) InsertEvents(ctx context.Context, events []core.StoredEvent) ([]uint64, error) {
	// the lock keeps id assignment in commit order and the head reads stable
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "begin"))
	}
	defer tx.Rollback()

	heads := make(map[string]core.Version)
	for _, event := range events {
		if _, ok := heads[event.AggregateID]; ok {
			continue
		}
		var head uint64
		err := tx.QueryRowContext(ctx, `select coalesce(max(version), 0) from events where aggregate_id = ?`, event.AggregateID).Scan(&head)
		if err != nil {
			return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "read aggregate head"))
		}
		heads[event.AggregateID] = core.Version(head)
	}
	if err := core.ValidateEvents(events, heads); err != nil {
		return nil, err
	}

	ids := make([]uint64, len(events))
	for i, event := range events {
		res, err := tx.ExecContext(ctx, `insert into events (aggregate_id, version, topic, state) values (?, ?, ?, ?)`,
			event.AggregateID, event.Version, event.Topic, event.State)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, core.Classify(core.ErrConcurrency, err)
			}
			return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "insert event"))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "last insert id"))
		}
		ids[i] = uint64(id)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "commit"))
	}
	return ids, nil
}

// SelectEvents returns the aggregate's events ordered by version
func (s *SQLite) SelectEvents(ctx context.Context, aggregateID string, opts ...core.SelectOption) ([]core.StoredEvent, error) {
	o := core.NewSelectOptions(opts...)

	var query strings.Builder
	query.WriteString(`select aggregate_id, version, topic, state from events where aggregate_id = ?`)
	args := []interface{}{aggregateID}
	if o.Gt > 0 {
		query.WriteString(` and version > ?`)
		args = append(args, o.Gt)
	}
	if o.Lte > 0 {
		query.WriteString(` and version <= ?`)
		args = append(args, o.Lte)
	}
	query.WriteString(` order by version`)
	if o.Desc {
		query.WriteString(` desc`)
	}
	if o.Limit > 0 {
		query.WriteString(` limit ?`)
		args = append(args, o.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "select events"))
	}
	defer rows.Close()

	var events []core.StoredEvent
	for rows.Next() {
		var event core.StoredEvent
		if err := rows.Scan(&event.AggregateID, &event.Version, &event.Topic, &event.State); err != nil {
			return nil, core.Classify(core.ErrIntegrity, errors.Wrap(err, "scan event"))
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Classify(core.ErrPersistence, err)
	}
	return events, nil
}

// SelectNotifications returns up to limit notifications with id >= start,
// ordered and contiguous by id
func (s *SQLite) SelectNotifications(ctx context.Context, start uint64, limit int) ([]core.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, aggregate_id, version, topic, state from events where id >= ? order by id limit ?`, start, limit)
	if err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "select notifications"))
	}
	defer rows.Close()

	var notifications []core.Notification
	for rows.Next() {
		var n core.Notification
		if err := rows.Scan(&n.ID, &n.AggregateID, &n.Version, &n.Topic, &n.State); err != nil {
			return nil, core.Classify(core.ErrIntegrity, errors.Wrap(err, "scan notification"))
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Classify(core.ErrPersistence, err)
	}
	return notifications, nil
}

// MaxNotificationID returns the id of the last committed notification
func (s *SQLite) MaxNotificationID(ctx context.Context) (uint64, error) {
	var max uint64
	err := s.db.QueryRowContext(ctx, `select coalesce(max(id), 0) from events`).Scan(&max)
	if err != nil {
		return 0, core.Classify(core.ErrPersistence, errors.Wrap(err, "max notification id"))
	}
	return max, nil
}

// InsertSnapshot stores a snapshot, replacing an earlier one at the same version
func (s *SQLite) InsertSnapshot(ctx context.Context, snapshot core.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `insert or replace into snapshots (aggregate_id, version, topic, state) values (?, ?, ?, ?)`,
		snapshot.AggregateID, snapshot.Version, snapshot.Topic, snapshot.State)
	if err != nil {
		return core.Classify(core.ErrPersistence, errors.Wrap(err, "insert snapshot"))
	}
	return nil
}

// SelectSnapshot returns the latest snapshot with version <= lte, or the
// latest overall when lte is zero
func (s *SQLite) SelectSnapshot(ctx context.Context, aggregateID string, lte core.Version) (core.Snapshot, error) {
	var query strings.Builder
	query.WriteString(`select aggregate_id, version, topic, state from snapshots where aggregate_id = ?`)
	args := []interface{}{aggregateID}
	if lte > 0 {
		query.WriteString(` and version <= ?`)
		args = append(args, lte)
	}
	query.WriteString(` order by version desc limit 1`)

	var snap core.Snapshot
	err := s.db.QueryRowContext(ctx, query.String(), args...).Scan(&snap.AggregateID, &snap.Version, &snap.Topic, &snap.State)
	if err == sql.ErrNoRows {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	if err != nil {
		return core.Snapshot{}, core.Classify(core.ErrPersistence, errors.Wrap(err, "select snapshot"))
	}
	return snap, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

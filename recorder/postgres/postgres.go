// Package postgres provides a recorder on a PostgreSQL database via lib/pq.
//
// Notification id density: every InsertEvents transaction takes
// pg_advisory_xact_lock on a store wide key before reading max(id) and
// assigning ids from it. The lock is released at commit, so id assignment
// order equals commit visibility order and readers polling by id never see a
// gap that later fills in.
package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/gregbrowndev/eventsourcing/core"
)

// advisoryLockKey serializes writers of one event store within the database
const advisoryLockKey = 0x657673 // "evs"

const uniqueViolation = "23505"

// Postgres is a recorder on a database/sql handle opened with the postgres driver
type Postgres struct {
	db *sql.DB
}

// Open returns a Postgres recorder on the given database handle
func Open(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close the underlying database
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate creates the events and snapshots tables
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`create table if not exists events (
			id bigint primary key,
			aggregate_id uuid not null,
			version bigint not null,
			topic text not null,
			state bytea not null,
			unique (aggregate_id, version)
		)`,
		`create table if not exists snapshots (
			aggregate_id uuid not null,
			version bigint not null,
			topic text not null,
			state bytea not null,
			primary key (aggregate_id, version)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return core.Classify(core.ErrPersistence, errors.Wrap(err, "migrate"))
		}
	}
	return nil
}

// InsertEvents appends the batch in one transaction and returns the assigned
// notification ids
func (p *Postgres) InsertEvents(ctx context.Context, events []core.StoredEvent) ([]uint64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "begin"))
	}
	defer tx.Rollback()

	// single writer critical section, released at commit or rollback
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "advisory lock"))
	}

	heads := make(map[string]core.Version)
	for _, event := range events {
		if _, ok := heads[event.AggregateID]; ok {
			continue
		}
		var head uint64
		err := tx.QueryRowContext(ctx, `select coalesce(max(version), 0) from events where aggregate_id = $1`, event.AggregateID).Scan(&head)
		if err != nil {
			return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "read aggregate head"))
		}
		heads[event.AggregateID] = core.Version(head)
	}
	if err := core.ValidateEvents(events, heads); err != nil {
		return nil, err
	}

	var maxID uint64
	if err := tx.QueryRowContext(ctx, `select coalesce(max(id), 0) from events`).Scan(&maxID); err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "max notification id"))
	}

	ids := make([]uint64, len(events))
	for i, event := range events {
		ids[i] = maxID + uint64(i) + 1
		_, err := tx.ExecContext(ctx, `insert into events (id, aggregate_id, version, topic, state) values ($1, $2, $3, $4, $5)`,
			ids[i], event.AggregateID, event.Version, event.Topic, event.State)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, core.Classify(core.ErrConcurrency, err)
			}
			return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "insert event"))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, core.Classify(core.ErrPersistence, errors.Wrap(err, "commit"))
	}
	return ids, nil
}

// SelectEvents returns the aggregate's events ordered by version
func (p *Postgres) SelectEvents(ctx context.Context, aggregateID string, opts ...core.SelectOption) ([]core.StoredEvent, error) {
	o := core.NewSelectOptions(opts...)

	var query strings.Builder
	query.WriteString(`select aggregate_id, version, topic, state from events where aggregate_id = $1`)
	args := []interface{}{aggregateID}
	if o.Gt > 0 {
		args = append(args, o.Gt)
		query.WriteString(` and version > $` + strconv.Itoa(len(args)))
	}
	if o.Lte > 0 {
		args = append(args, o.Lte)
		query.WriteString(` and version <= $` + strconv.Itoa(len(args)))
	}
	query.WriteString(` order by version`)
	if o.Desc {
		query.WriteString(` desc`)
	}
	if o.Limit > 0 {
		args = append(args, o.Limit)
		query.WriteString(` limit $` + strconv.Itoa(len(args)))
	}

	rows, err := p.db.QueryContext(ctx, query.String(), args...)
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
func (p *Postgres) SelectNotifications(ctx context.Context, start uint64, limit int) ([]core.Notification, error) {
	rows, err := p.db.QueryContext(ctx,
		`select id, aggregate_id, version, topic, state from events where id >= $1 order by id limit $2`, start, limit)
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
func (p *Postgres) MaxNotificationID(ctx context.Context) (uint64, error) {
	var max uint64
	err := p.db.QueryRowContext(ctx, `select coalesce(max(id), 0) from events`).Scan(&max)
	if err != nil {
		return 0, core.Classify(core.ErrPersistence, errors.Wrap(err, "max notification id"))
	}
	return max, nil
}

// InsertSnapshot stores a snapshot, replacing an earlier one at the same version
func (p *Postgres) InsertSnapshot(ctx context.Context, snapshot core.Snapshot) error {
	_, err := p.db.ExecContext(ctx, `insert into snapshots (aggregate_id, version, topic, state) values ($1, $2, $3, $4)
		on conflict (aggregate_id, version) do update set topic = excluded.topic, state = excluded.state`,
		snapshot.AggregateID, snapshot.Version, snapshot.Topic, snapshot.State)
	if err != nil {
		return core.Classify(core.ErrPersistence, errors.Wrap(err, "insert snapshot"))
	}
	return nil
}

// SelectSnapshot returns the latest snapshot with version <= lte, or the
// latest overall when lte is zero
func (p *Postgres) SelectSnapshot(ctx context.Context, aggregateID string, lte core.Version) (core.Snapshot, error) {
	var query strings.Builder
	query.WriteString(`select aggregate_id, version, topic, state from snapshots where aggregate_id = $1`)
	args := []interface{}{aggregateID}
	if lte > 0 {
		args = append(args, lte)
		query.WriteString(` and version <= $` + strconv.Itoa(len(args)))
	}
	query.WriteString(` order by version desc limit 1`)

	var snap core.Snapshot
	err := p.db.QueryRowContext(ctx, query.String(), args...).Scan(&snap.AggregateID, &snap.Version, &snap.Topic, &snap.State)
	if err == sql.ErrNoRows {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	if err != nil {
		return core.Snapshot{}, core.Classify(core.ErrPersistence, errors.Wrap(err, "select snapshot"))
	}
	return snap, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

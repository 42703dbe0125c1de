package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gregbrowndev/eventsourcing/core"
)

// DefaultSectionSize is the number of notifications in a full section
const DefaultSectionSize = 10

var errCaughtUp = errors.New("caught up")

// Section is a contiguous page of the notification log. Trailing sections are
// partial when fewer notifications exist than the range asks for.
type Section struct {
	// ID is the section identifier on the form "start,end" covering the
	// items actually present
	ID string
	// Items holds the notifications of the section in increasing id order
	Items []core.Notification
	// Next identifies the section after this one, empty when this section
	// is not full
	Next string
}

// NotificationLog exposes paged access to the gapless global order of all
// appended events across aggregates.
type NotificationLog struct {
	recorder    core.Recorder
	sectionSize int
}

// NewNotificationLog returns a NotificationLog with the default section size
func NewNotificationLog(recorder core.Recorder) *NotificationLog {
	return &NotificationLog{
		recorder:    recorder,
		sectionSize: DefaultSectionSize,
	}
}

// Section resolves a section identifier "start,end" (inclusive, 1-based) to
// the notifications it covers
func (l *NotificationLog) Section(ctx context.Context, id string) (Section, error) {
	start, end, err := parseSectionID(id)
	if err != nil {
		return Section{}, core.Classify(core.ErrProgramming, err)
	}

	items, err := l.recorder.SelectNotifications(ctx, start, int(end-start+1))
	if err != nil {
		return Section{}, err
	}
	if len(items) == 0 {
		return Section{ID: id}, nil
	}

	section := Section{
		ID:    fmt.Sprintf("%d,%d", items[0].ID, items[len(items)-1].ID),
		Items: items,
	}
	if uint64(len(items)) == end-start+1 {
		section.Next = fmt.Sprintf("%d,%d", end+1, end+uint64(l.sectionSize))
	}
	return section, nil
}

func parseSectionID(id string) (start, end uint64, err error) {
	first, second, found := strings.Cut(id, ",")
	if !found {
		return 0, 0, fmt.Errorf("malformed section id %q", id)
	}
	start, err = strconv.ParseUint(first, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed section id %q", id)
	}
	end, err = strconv.ParseUint(second, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed section id %q", id)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("section id %q out of range", id)
	}
	return start, end, nil
}

// ReaderOption modifies a NotificationLogReader
type ReaderOption func(*NotificationLogReader)

// WithPageSize sets how many notifications the reader fetches per page
func WithPageSize(n int) ReaderOption {
	return func(r *NotificationLogReader) { r.pageSize = n }
}

// WithPolling makes Read wait for new notifications instead of returning when
// caught up. The wait backs off exponentially up to the given interval and the
// read ends when the context is cancelled.
func WithPolling(maxInterval time.Duration) ReaderOption {
	return func(r *NotificationLogReader) {
		r.poll = true
		r.maxPollInterval = maxInterval
	}
}

// NotificationLogReader yields notifications from a start position in
// increasing id order, fetching pages on demand. A reader is restartable:
// every Read call starts over from the position it is given.
type NotificationLogReader struct {
	log             *NotificationLog
	pageSize        int
	poll            bool
	maxPollInterval time.Duration
}

// NewNotificationLogReader returns a reader over the given log
func NewNotificationLogReader(log *NotificationLog, opts ...ReaderOption) *NotificationLogReader {
	r := &NotificationLogReader{
		log:      log,
		pageSize: DefaultSectionSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read calls f for every notification with id >= start in increasing order.
// Without polling it returns nil once caught up; with polling it keeps waiting
// for new notifications until the context is cancelled. An error from f stops
// the read and is returned as is.
func (r *NotificationLogReader) Read(ctx context.Context, start uint64, f func(core.Notification) error) error {
	if start < 1 {
		return core.Classify(core.ErrProgramming, fmt.Errorf("read start must be positive, got %d", start))
	}

	next := start
	for {
		section, err := r.log.Section(ctx, fmt.Sprintf("%d,%d", next, next+uint64(r.pageSize)-1))
		if err != nil {
			return err
		}
		for _, n := range section.Items {
			if err := f(n); err != nil {
				return err
			}
			next = n.ID + 1
		}
		if section.Next != "" {
			continue
		}
		if !r.poll {
			return nil
		}
		if err := r.wait(ctx, next); err != nil {
			return err
		}
	}
}

// wait blocks until a notification with id >= next is committed
func (r *NotificationLogReader) wait(ctx context.Context, next uint64) error {
	operation := func() (uint64, error) {
		max, err := r.log.recorder.MaxNotificationID(ctx)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		if max < next {
			return 0, errCaughtUp
		}
		return max, nil
	}

	bo := backoff.NewExponentialBackOff()
	if r.maxPollInterval > 0 {
		bo.MaxInterval = r.maxPollInterval
	}
	// no elapsed time cap: only the context ends a polling wait
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	return err
}

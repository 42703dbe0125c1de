package eventsourcing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gregbrowndev/eventsourcing"
	"github.com/gregbrowndev/eventsourcing/core"
)

func TestSectionIdentifiers(t *testing.T) {
	app := newApplication()
	earth(t, app)
	ctx := context.Background()

	section, err := app.Log().Section(ctx, "1,2")
	if err != nil {
		t.Fatal(err)
	}
	if len(section.Items) != 2 {
		t.Fatal("expected a full section of 2, got", len(section.Items))
	}
	if section.ID != "1,2" {
		t.Fatal("wrong section id", section.ID)
	}
	if section.Next != "3,12" {
		t.Fatal("a full section points at the next one, got", section.Next)
	}

	// a trailing section is partial without error
	section, err = app.Log().Section(ctx, "3,10")
	if err != nil {
		t.Fatal(err)
	}
	if len(section.Items) != 2 {
		t.Fatal("expected partial section of 2, got", len(section.Items))
	}
	if section.ID != "3,4" {
		t.Fatal("the section id covers the items present, got", section.ID)
	}
	if section.Next != "" {
		t.Fatal("a partial section is the last one, got", section.Next)
	}

	// past the end of the log
	section, err = app.Log().Section(ctx, "100,110")
	if err != nil {
		t.Fatal(err)
	}
	if len(section.Items) != 0 {
		t.Fatal("expected empty section, got", len(section.Items))
	}
}

func TestMalformedSectionIdentifiers(t *testing.T) {
	app := newApplication()
	for _, id := range []string{"", "1", "a,b", "0,5", "5,1", "-1,4"} {
		_, err := app.Log().Section(context.Background(), id)
		if !errors.Is(err, core.ErrProgramming) {
			t.Fatalf("section id %q must be rejected, got %v", id, err)
		}
	}
}

func TestReaderStartMustBePositive(t *testing.T) {
	app := newApplication()
	err := app.Reader().Read(context.Background(), 0, func(core.Notification) error { return nil })
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatal("start zero must be rejected, got", err)
	}
}

func TestReaderStopsOnCallbackError(t *testing.T) {
	app := newApplication()
	earth(t, app)

	boom := errors.New("boom")
	count := 0
	err := app.Reader().Read(context.Background(), 1, func(core.Notification) error {
		count++
		if count == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatal("the callback error must surface, got", err)
	}
	if count != 2 {
		t.Fatal("the read must stop at the failing callback, got", count)
	}
}

func TestPollingReaderSeesNewNotifications(t *testing.T) {
	app := newApplication()
	world := earth(t, app)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var read []uint64
	done := make(chan error, 1)
	go func() {
		done <- app.Reader(eventsourcing.WithPolling(10 * time.Millisecond)).Read(ctx, 1, func(n core.Notification) error {
			mu.Lock()
			read = append(read, n.ID)
			mu.Unlock()
			return nil
		})
	}()

	// wait for the reader to catch up with the first four
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(read)
		mu.Unlock()
		if n == 4 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	world.MakeItSo("fusion")
	if err := app.Save(context.Background(), world); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(read)
		mu.Unlock()
		if n == 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err == nil {
		t.Fatal("polling read should end when the context is cancelled")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(read) != 5 {
		t.Fatal("expected the poller to pick up the fifth notification, got", read)
	}
	for i, id := range read {
		if id != uint64(i+1) {
			t.Fatal("expected ids in order, got", read)
		}
	}
}

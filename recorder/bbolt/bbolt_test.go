package bbolt_test

import (
	"path/filepath"
	"testing"

	"github.com/gregbrowndev/eventsourcing/core/testsuite"
	"github.com/gregbrowndev/eventsourcing/recorder/bbolt"
)

func TestSuite(t *testing.T) {
	f := func() (testsuite.Recorder, func(), error) {
		r := bbolt.MustOpenBBolt(filepath.Join(t.TempDir(), "events.db"))
		return r, func() { r.Close() }, nil
	}
	testsuite.Test(t, f)
}

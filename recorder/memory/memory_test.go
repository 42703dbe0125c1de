package memory_test

import (
	"testing"

	"github.com/gregbrowndev/eventsourcing/core/testsuite"
	"github.com/gregbrowndev/eventsourcing/recorder/memory"
)

func TestSuite(t *testing.T) {
	f := func() (testsuite.Recorder, func(), error) {
		r := memory.Create()
		return r, func() { r.Close() }, nil
	}
	testsuite.Test(t, f)
}

package scheduler

import (
	"testing"

	"github.com/jordigilh/ocpaggregator/internal/config"
)

func TestStartWithEmptyScheduleIsNoOp(t *testing.T) {
	s := New(nil, config.RunIdentity{SourceUUID: "src-1"})
	if err := s.Start(""); err != nil {
		t.Fatalf("Start(\"\") error = %v, want nil", err)
	}
}

func TestStartRejectsInvalidCronExpression(t *testing.T) {
	s := New(nil, config.RunIdentity{SourceUUID: "src-1"})
	if err := s.Start("not a cron expression"); err == nil {
		t.Fatalf("Start() should reject an invalid cron expression")
	}
}

func TestStartAcceptsStandardFiveFieldCron(t *testing.T) {
	s := New(nil, config.RunIdentity{SourceUUID: "src-1"})
	if err := s.Start("0 2 * * *"); err != nil {
		t.Fatalf("Start() error = %v, want nil for a valid 5-field expression", err)
	}
	s.Stop()
}

// TestFireSkipsWhenAPreviousRunIsStillInFlight locks the running mutex
// directly (as an in-flight fire() would hold it) and confirms a concurrent
// fire() returns immediately without touching orch — if it did, this would
// nil-pointer-dereference since orch is nil here.
func TestFireSkipsWhenAPreviousRunIsStillInFlight(t *testing.T) {
	s := New(nil, config.RunIdentity{SourceUUID: "src-1"})
	s.running.Lock()
	defer s.running.Unlock()

	s.fire()
}

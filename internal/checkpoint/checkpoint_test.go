package checkpoint

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLastReturnsFalseWhenNoRecordExists(t *testing.T) {
	s := openTestStore(t)
	_, found := s.Last("src-1", "2026", "03")
	if found {
		t.Fatalf("Last() found = true, want false for an empty store")
	}
}

func TestSaveThenLastRoundTrips(t *testing.T) {
	s := openTestStore(t)
	rec := Record{
		SourceUUID: "src-1",
		Year:       "2026",
		Month:      "03",
		StartedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndedAt:    time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
		OutputRows: 42,
		Success:    true,
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, found := s.Last("src-1", "2026", "03")
	if !found {
		t.Fatalf("Last() found = false, want true")
	}
	if got.OutputRows != 42 || !got.Success {
		t.Fatalf("Last() = %+v, want OutputRows=42 Success=true", got)
	}
}

func TestSaveOverwritesPreviousRecordForSameIdentity(t *testing.T) {
	s := openTestStore(t)
	first := Record{SourceUUID: "src-1", Year: "2026", Month: "03", OutputRows: 1, Success: false, Error: "boom"}
	second := Record{SourceUUID: "src-1", Year: "2026", Month: "03", OutputRows: 2, Success: true}

	if err := s.Save(first); err != nil {
		t.Fatalf("Save(first) error = %v", err)
	}
	if err := s.Save(second); err != nil {
		t.Fatalf("Save(second) error = %v", err)
	}

	got, found := s.Last("src-1", "2026", "03")
	if !found || got.OutputRows != 2 || !got.Success || got.Error != "" {
		t.Fatalf("Last() = %+v, want the second record to have overwritten the first", got)
	}
}

func TestRecordsAreScopedByIdentityTuple(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save(Record{SourceUUID: "src-1", Year: "2026", Month: "03", OutputRows: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	_, found := s.Last("src-1", "2026", "04")
	if found {
		t.Fatalf("Last() for a different month should not find the other month's record")
	}
}

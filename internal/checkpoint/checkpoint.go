// Package checkpoint records run outcomes in a local embedded key-value
// store so an operator can see what already ran without querying the
// target database. It never gates correctness: the orchestrator always
// proceeds regardless of what it finds here.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/rs/zerolog/log"
)

var runsBucket = []byte("runs")

// Record is one run's outcome, keyed by its identity tuple.
type Record struct {
	SourceUUID string    `json:"source_uuid"`
	Year       string    `json:"year"`
	Month      string    `json:"month"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	OutputRows int       `json:"output_rows"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

func (r Record) key() string {
	return fmt.Sprintf("%s/%s/%s", r.SourceUUID, r.Year, r.Month)
}

// Store wraps a bbolt database holding run Records.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the checkpoint database at path:
// ensure the parent directory exists, open with owner-only permissions,
// create the bucket if missing.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "/var/lib/ocpaggregator/checkpoint.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint bucket: %w", err)
	}

	log.Info().Str("path", path).Msg("checkpoint store initialized")
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Last returns the most recent Record for (sourceUUID, year, month), or
// (Record{}, false) if none is recorded.
func (s *Store) Last(sourceUUID, year, month string) (Record, bool) {
	key := Record{SourceUUID: sourceUUID, Year: year, Month: month}.key()
	var rec Record
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(runsBucket)
		v := bkt.Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return rec, found
}

// Save persists rec, overwriting any previous record for the same
// identity tuple.
func (s *Store) Save(rec Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(runsBucket)
		return bkt.Put([]byte(rec.key()), encoded)
	})
}

package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

var ErrRunNotFound = errors.New("run not found")

// Outcome classifies how a sync run ended.
type Outcome string

const (
	OutcomeSynced Outcome = "synced"
	OutcomeEmpty  Outcome = "empty"
	OutcomeFailed Outcome = "failed"
)

// Run is one recorded sync run.
type Run struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Branch        string    `json:"branch"`
	PatchesBranch string    `json:"patches_branch"`
	BaseRef       string    `json:"base_ref"`
	Skip          int       `json:"skip"`
	StartCommit   string    `json:"start_commit,omitempty"`
	Exported      []string  `json:"exported,omitempty"`
	Archived      []string  `json:"archived,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Error         string    `json:"error,omitempty"`
}

// Store keeps run records and archived patch bodies in a badger database
// under the repository's .git directory. Archived bodies are compressed
// with zstd when large enough to be worth it.
type Store struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

const compressMin = 1024

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &Store{db: db, enc: enc, dec: dec}, nil
}

// OpenInMemory opens a throwaway journal, used by tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return &Store{db: db, enc: enc, dec: dec}, nil
}

func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte("run:" + id)
}

func archiveKey(runID, name string) []byte {
	return []byte(fmt.Sprintf("archive:%s:%s", runID, name))
}

// Record stores or replaces a run record.
func (s *Store) Record(run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
}

// Get retrieves a run by its full ID.
func (s *Store) Get(id string) (*Run, error) {
	var run Run

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns all recorded runs, newest first.
func (s *Store) List() ([]*Run, error) {
	var runs []*Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("run:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var run Run
				if err := json.Unmarshal(val, &run); err != nil {
					return err
				}
				runs = append(runs, &run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// ArchivePatch stores the body of a patch file that is about to be removed
// from the tree, so it can be inspected after the sync.
func (s *Store) ArchivePatch(runID, name string, content []byte) error {
	data := content
	if len(content) >= compressMin {
		data = s.enc.EncodeAll(content, nil)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(archiveKey(runID, name), data)
	})
}

// Patch retrieves an archived patch body.
func (s *Store) Patch(runID, name string) ([]byte, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(runID, name))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("no archived patch %s for run %s", name, runID)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(data) > 4 && bytes.Equal(data[:4], zstdMagic) {
		return s.dec.DecodeAll(data, nil)
	}
	return data, nil
}

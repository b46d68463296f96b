package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"poweronbot/internal/config"
	logx "poweronbot/pkg/logx"
)

// ErrPersist marks a failed write of the subscriber document. The in-memory
// state stays authoritative until the next successful save.
var ErrPersist = errors.New("subscriber store persist failed")

// Backend is the durable side of the store: one load at startup, a full
// rewrite on every save.
type Backend interface {
	Load() (map[int64]*Record, error)
	Save(map[int64]*Record) error
	Close() error
}

// Store holds every subscriber record. All mutation is expected to happen on
// the global serialization queue; the internal mutex only protects the map
// against concurrent readers (status snapshots, the poll sweep).
type Store struct {
	log     logx.Logger
	backend Backend

	mu   sync.Mutex
	recs map[int64]*Record
}

// Open builds the configured backend, loads the persisted document and
// returns a ready store. A missing or corrupt document degrades to an empty
// store rather than failing startup.
func Open(cfg config.StorageConfig, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		backend Backend
		err     error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		backend, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		backend, err = openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	recs, err := backend.Load()
	if err != nil {
		log.Warn("subscriber document unreadable; starting empty", logx.Err(err))
		recs = map[int64]*Record{}
	}
	for id, r := range recs {
		if r == nil {
			delete(recs, id)
			continue
		}
		r.ChatID = id
		r.sanitize()
	}
	log.Info("subscriber store loaded", logx.Int("records", len(recs)), logx.String("driver", cfg.Driver))

	return &Store{log: log, backend: backend, recs: recs}, nil
}

// GetOrCreate returns a copy of the chat's record, creating the default
// record on first contact. The returned copy is safe to inspect without
// holding any lock; use Mutate to change state.
func (s *Store) GetOrCreate(chatID int64) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recs[chatID]
	if r == nil {
		r = &Record{ChatID: chatID}
		s.recs[chatID] = r
	}
	return r.Clone()
}

// Get returns a copy of the chat's record, or nil when the chat has never
// interacted.
func (s *Store) Get(chatID int64) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[chatID].Clone()
}

// Mutate applies fn to the chat's record (creating it if needed) and saves
// the full document. The mutated record stays committed in memory even when
// the save fails; the error is reported as ErrPersist for the caller to
// record.
func (s *Store) Mutate(chatID int64, fn func(*Record)) error {
	s.mu.Lock()
	r := s.recs[chatID]
	if r == nil {
		r = &Record{ChatID: chatID}
		s.recs[chatID] = r
	}
	fn(r)
	r.ChatID = chatID
	snapshot := s.cloneAllLocked()
	s.mu.Unlock()

	if err := s.backend.Save(snapshot); err != nil {
		s.log.Error("subscriber store save failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Watching lists chats with background watching enabled, in stable order.
func (s *Store) Watching() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, r := range s.recs {
		if r.WatchEnabled {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of known chats.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// Save persists the current document without mutating anything.
func (s *Store) Save() error {
	s.mu.Lock()
	snapshot := s.cloneAllLocked()
	s.mu.Unlock()
	if err := s.backend.Save(snapshot); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) cloneAllLocked() map[int64]*Record {
	out := make(map[int64]*Record, len(s.recs))
	for id, r := range s.recs {
		out[id] = r.Clone()
	}
	return out
}

package mint

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store durably records in-flight mint contexts.
type Store interface {
	Put(ctx MintRequestContext) error
	Delete(callID string) error
	LoadAll() ([]MintRequestContext, error)
	Close() error
}

// --- In-memory store (for testing) ---

type MemStore struct {
	mu   sync.RWMutex
	data map[string]MintRequestContext
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]MintRequestContext)}
}

func (s *MemStore) Put(ctx MintRequestContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ctx.CallID] = ctx
	return nil
}

func (s *MemStore) Delete(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, callID)
	return nil
}

func (s *MemStore) LoadAll() ([]MintRequestContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MintRequestContext, 0, len(s.data))
	for _, c := range s.data {
		out = append(out, c)
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

// --- LevelDB store ---

var pendingPrefix = []byte("pending/")

// LevelDBStore keeps contexts in LevelDB. Writes are synced so a context is on
// disk before its mint call leaves the process.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore creates or opens the store at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open pending store %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// NewLevelDBStore wraps an already opened database.
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func pendingKey(callID string) []byte {
	return append(append([]byte{}, pendingPrefix...), callID...)
}

func (s *LevelDBStore) Put(ctx MintRequestContext) error {
	value, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("encode context %s: %w", ctx.CallID, err)
	}
	return s.db.Put(pendingKey(ctx.CallID), value, &opt.WriteOptions{Sync: true})
}

func (s *LevelDBStore) Delete(callID string) error {
	return s.db.Delete(pendingKey(callID), &opt.WriteOptions{Sync: true})
}

func (s *LevelDBStore) LoadAll() ([]MintRequestContext, error) {
	iter := s.db.NewIterator(util.BytesPrefix(pendingPrefix), nil)
	defer iter.Release()

	var out []MintRequestContext
	for iter.Next() {
		var c MintRequestContext
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
)

// ownWriteGrace is how long watcher events are ignored after our own flush.
const ownWriteGrace = 500 * time.Millisecond

// FileStore keeps the whole document in memory and rewrites the JSON file
// after every mutation.
type FileStore struct {
	path string

	mu               sync.RWMutex
	doc              *document
	ignoreWatchUntil time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by path. Call Load before use.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		doc:  newDocument(),
	}
}

// Open creates and loads a FileStore.
func Open(path string) *FileStore {
	s := NewFileStore(path)
	s.Load()
	return s
}

// Path returns the store file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the JSON file. A missing, unreadable or corrupt file is never
// fatal: the store starts empty.
func (s *FileStore) Load() {
	doc, err := s.read()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if os.IsNotExist(err) {
			L_info("store: file not found, starting empty", "path", s.path)
		} else {
			L_warn("store: failed to load, starting empty", "path", s.path, "error", err)
		}
		s.doc = newDocument()
		return
	}

	s.doc = doc
	L_info("store: loaded", "path", s.path, "members", len(doc.Members), "subscribers", len(doc.Subscribers))
}

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	doc.normalize()
	return doc, nil
}

// Flush writes the whole document.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	s.ignoreWatchUntil = time.Now().Add(ownWriteGrace)
	if err := atomicWrite(s.path, data, 0644); err != nil {
		return fmt.Errorf("store flush: %w", err)
	}
	L_trace("store: flushed", "path", s.path, "bytes", len(data))
	return nil
}

// Member returns the member record for id.
func (s *FileStore) Member(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.doc.Members[id]
	return m, ok
}

// AddMember inserts id if it is not yet a member and flushes.
func (s *FileStore) AddMember(id string, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.doc.Members[id]; exists {
		return len(s.doc.Members), false, nil
	}
	s.doc.Members[id] = Member{ID: id, FirstSeen: at.UTC()}
	count := len(s.doc.Members)

	return count, true, s.saveLocked()
}

// MemberCount returns the number of registered members.
func (s *FileStore) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Members)
}

// Subscribe opts id into broadcasts.
func (s *FileStore) Subscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Subscribers[id] = true
	return s.saveLocked()
}

// Unsubscribe removes id from the subscriber set.
func (s *FileStore) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Subscribers, id)
	return s.saveLocked()
}

// IsSubscribed reports whether id receives broadcasts.
func (s *FileStore) IsSubscribed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Subscribers[id]
}

// Subscribers returns a sorted copy of the subscriber set.
func (s *FileStore) Subscribers() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.doc.Subscribers))
	for id := range s.doc.Subscribers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// SubscriberCount returns the size of the subscriber set.
func (s *FileStore) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Subscribers)
}

// Thread returns the stored metadata for a conversation.
func (s *FileStore) Thread(id string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.doc.Threads[id]
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(meta))
	copy(out, meta)
	return out, true
}

// PutThread stores opaque metadata for a conversation.
func (s *FileStore) PutThread(id string, meta json.RawMessage) error {
	if !json.Valid(meta) {
		return fmt.Errorf("thread %s: metadata is not valid JSON", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Threads[id] = append(json.RawMessage(nil), meta...)
	return s.saveLocked()
}

package keychain

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a Store operation, for fault injection.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpSearch Op = "search"
	OpDelete Op = "delete"
)

// FaultFunc is consulted before every MemoryStore operation. A non-nil error
// is returned to the caller and the operation is not applied.
type FaultFunc func(op Op, q Query) error

type memItem struct {
	attrs    Query
	data     []byte
	ref      []byte
	created  time.Time
	modified time.Time
}

// MemoryStore is an in-memory implementation of Store with Keychain matching
// semantics. Items are unique on their class's primary key.
type MemoryStore struct {
	mu       sync.RWMutex
	items    []*memItem
	fault    FaultFunc
	hardware bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetFault installs (or with nil, clears) a fault hook.
func (s *MemoryStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetSecureHardware controls what SupportsSecureHardware reports.
func (s *MemoryStore) SetSecureHardware(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardware = ok
}

func (s *MemoryStore) SupportsSecureHardware() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardware
}

// Len returns the number of items across every namespace.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Add(item Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpAdd, item); err != nil {
		return err
	}
	for _, it := range s.items {
		if samePrimaryKey(it.attrs, item) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateItem, item.Class, item.Account)
		}
	}

	now := time.Now().UTC()
	ref := uuid.New()
	attrs := item
	attrs.Data = nil
	attrs.PersistentRef = nil
	s.items = append(s.items, &memItem{
		attrs:    attrs,
		data:     bytes.Clone(item.Data),
		ref:      ref[:],
		created:  now,
		modified: now,
	})
	return nil
}

func (s *MemoryStore) Update(match Query, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdate, match); err != nil {
		return err
	}
	found := false
	now := time.Now().UTC()
	for _, it := range s.items {
		if matches(it, match) {
			it.data = bytes.Clone(data)
			it.modified = now
			found = true
		}
	}
	if !found {
		return ErrItemNotFound
	}
	return nil
}

func (s *MemoryStore) Search(q Query) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpSearch, q); err != nil {
		return nil, err
	}
	var results []Result
	for _, it := range s.items {
		if !matches(it, q) {
			continue
		}
		results = append(results, shape(it, q))
		if q.MatchLimit != MatchLimitAll {
			break
		}
	}
	if len(results) == 0 {
		return nil, ErrItemNotFound
	}
	return results, nil
}

func (s *MemoryStore) Delete(q Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDelete, q); err != nil {
		return err
	}
	kept := s.items[:0]
	removed := 0
	for _, it := range s.items {
		if matches(it, q) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = nil
	}
	s.items = kept
	if removed == 0 {
		return ErrItemNotFound
	}
	return nil
}

// check runs the fault hook and rejects class-less predicates.
// Caller must hold s.mu.
func (s *MemoryStore) check(op Op, q Query) error {
	if s.fault != nil {
		if err := s.fault(op, q); err != nil {
			return err
		}
	}
	if q.Class == "" {
		return fmt.Errorf("%w: %s without class", ErrUnsupported, op)
	}
	return nil
}

func matches(it *memItem, q Query) bool {
	a := it.attrs
	switch {
	case q.Class != a.Class:
		return false
	case q.Service != "" && q.Service != a.Service:
		return false
	case q.Account != "" && q.Account != a.Account:
		return false
	case q.AccessGroup != "" && q.AccessGroup != a.AccessGroup:
		return false
	case q.Label != "" && q.Label != a.Label:
		return false
	case q.Accessible != "" && q.Accessible != a.Accessible:
		return false
	case q.Server != "" && q.Server != a.Server:
		return false
	case q.Protocol != "" && q.Protocol != a.Protocol:
		return false
	case q.Port != 0 && q.Port != a.Port:
		return false
	case q.Path != "" && q.Path != a.Path:
		return false
	case q.AuthenticationType != "" && q.AuthenticationType != a.AuthenticationType:
		return false
	case q.PersistentRef == nil && q.Synchronizable != a.Synchronizable:
		return false
	case q.PersistentRef != nil && !bytes.Equal(q.PersistentRef, it.ref):
		return false
	}
	return true
}

func shape(it *memItem, q Query) Result {
	var r Result
	if q.ReturnAttributes {
		r = Result{
			Class:          it.attrs.Class,
			Service:        it.attrs.Service,
			Account:        it.attrs.Account,
			AccessGroup:    it.attrs.AccessGroup,
			Label:          it.attrs.Label,
			Accessible:     it.attrs.Accessible,
			Synchronizable: it.attrs.Synchronizable,
			Created:        it.created,
			Modified:       it.modified,

			Server:             it.attrs.Server,
			Protocol:           it.attrs.Protocol,
			Port:               it.attrs.Port,
			Path:               it.attrs.Path,
			AuthenticationType: it.attrs.AuthenticationType,
		}
	}
	if q.ReturnData {
		r.Data = bytes.Clone(it.data)
	}
	if q.ReturnPersistentRef {
		r.PersistentRef = bytes.Clone(it.ref)
	}
	return r
}

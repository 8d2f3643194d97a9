// Package store implements a simple additive key-value store.
package store

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrKeyExists      = errors.New("store: key already exists")
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Keys() []string
	Len() int
}

// MemStore is a Store that never overwrites a key once it is set.
type MemStore struct {
	lock  sync.Mutex
	store map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		store: make(map[string]string),
	}
}

// Set is used to set a value to a key. Setting a key twice returns ErrKeyExists
// and leaves the first value in place.
func (m *MemStore) Set(key, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; ok {
		return ErrKeyExists
	}
	m.store[key] = value
	return nil
}

// Get is used to get a value from a key.
func (m *MemStore) Get(key string) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	v, ok := m.store[key]
	if !ok {
		return "", ErrKeyDoesntExist
	}
	return v, nil
}

// Keys returns every key in lexical order.
func (m *MemStore) Keys() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	keys := make([]string, 0, len(m.store))
	for k := range m.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemStore) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.store)
}

// Package store provides the in-memory implementation of the
// custody.KVStore interface. It is backed by a btree and is safe for
// concurrent use, which makes it the default backend for tests and for
// single-process deployments where durability is delegated to the ledger.
package store

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/safeseed/custody"
)

// degree is the branching factor of the backing btree.
const degree = 2

// MemStore returns a simple in-memory store. There is no persistence here.
func MemStore() custody.KVStore {
	return &memStore{
		bt: btree.New(degree),
	}
}

type memStore struct {
	mu sync.RWMutex
	bt *btree.BTree
}

var _ custody.KVStore = (*memStore)(nil)

// item is a key-value pair ordered by key bytes.
type item struct {
	key   []byte
	value []byte
}

func (i item) Less(other btree.Item) bool {
	return bytes.Compare(i.key, other.(item).key) < 0
}

func (m *memStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := m.bt.Get(item{key: key})
	if res == nil {
		return nil, nil
	}
	return res.(item).value, nil
}

func (m *memStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bt.Has(item{key: key}), nil
}

func (m *memStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bt.ReplaceOrInsert(item{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (m *memStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bt.Delete(item{key: key})
	return nil
}

// Iterator walks keys within [start, end) in ascending order. The result
// is a snapshot: mutations made after this call are not observed.
func (m *memStore) Iterator(start, end []byte) (custody.Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []item
	collect := func(i btree.Item) bool {
		items = append(items, i.(item))
		return true
	}
	switch {
	case start == nil && end == nil:
		m.bt.Ascend(collect)
	case end == nil:
		m.bt.AscendGreaterOrEqual(item{key: start}, collect)
	case start == nil:
		m.bt.AscendLessThan(item{key: end}, collect)
	default:
		m.bt.AscendRange(item{key: start}, item{key: end}, collect)
	}
	return &sliceIterator{items: items, pos: -1}, nil
}

type sliceIterator struct {
	items []item
	pos   int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *sliceIterator) Key() []byte   { return it.items[it.pos].key }
func (it *sliceIterator) Value() []byte { return it.items[it.pos].value }
func (it *sliceIterator) Release()      { it.items = nil }

// PrefixRange turns a key prefix into the [start, end) range that covers
// every key starting with it.
func PrefixRange(prefix []byte) (start, end []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}
	end = make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return prefix, end[:i+1]
		}
	}
	// Prefix is all 0xff, so there is no upper bound.
	return prefix, nil
}

package custody

// KVStore is the interface every backing store must implement. The core
// treats persistence as an injected collaborator and only ever talks to
// this interface. All values are opaque documents; the buckets of the x/*
// packages own the encoding.
type KVStore interface {
	// Get returns the value stored under given key, or nil if the key
	// does not exist.
	Get(key []byte) ([]byte, error)

	// Has checks the existence of a key.
	Has(key []byte) (bool, error)

	// Set persists the value under given key, overwriting any previous
	// value.
	Set(key, value []byte) error

	// Delete removes the key. Deleting a non existing key is a noop.
	Delete(key []byte) error

	// Iterator walks keys within [start, end) in ascending order. A nil
	// end iterates to the last key of the store.
	//
	// No writes may happen within the iterated domain while an iterator
	// exists over it.
	Iterator(start, end []byte) (Iterator, error)
}

// Iterator provides ordered access to a range of keys.
//
//	it, err := db.Iterator(start, end)
//	...
//	defer it.Release()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
type Iterator interface {
	// Next moves to the next entry and returns false when exhausted.
	Next() bool

	// Key returns the key of the cursor. Only valid after Next returned
	// true. The returned slice is read only.
	Key() []byte

	// Value returns the value of the cursor. Only valid after Next
	// returned true. The returned slice is read only.
	Value() []byte

	// Release frees the iterator.
	Release()
}

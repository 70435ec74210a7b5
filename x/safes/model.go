package safes

import (
	"encoding/json"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// bucketPrefix namespaces all safe records in the store.
const bucketPrefix = "safe:"

// Safe is a shared wallet controlled jointly by a set of owner addresses
// under a signing threshold.
type Safe struct {
	Address   custody.Address    `json:"address"`
	Owners    custody.AddressSet `json:"owners"`
	Threshold uint32             `json:"threshold"`
	ChainID   int64              `json:"chain_id"`
	CreatedBy custody.Address    `json:"created_by"`
	CreatedAt custody.UnixTime   `json:"created_at"`

	// NextNonce is the nonce assigned to the next proposed transaction.
	NextNonce uint64 `json:"next_nonce"`
	// LedgerNonce is the nonce the ledger expects to finalize next. Only
	// the transaction carrying this nonce may be executed.
	LedgerNonce uint64 `json:"ledger_nonce"`

	// Version is incremented on every persisted mutation.
	Version uint32 `json:"version"`
}

// Validate ensures the safe is valid.
func (s *Safe) Validate() error {
	var err error
	err = errors.Append(err, errors.Wrap(s.Address.Validate(), "address"))
	err = errors.Append(err, errors.Wrap(s.Owners.Validate(), "owners"))
	err = errors.Append(err, errors.Wrap(s.CreatedBy.Validate(), "created by"))
	if len(s.Owners) == 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "no owners"))
	} else if !s.Owners.Unique() {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "duplicate owners"))
	}
	if s.Threshold < 1 || int(s.Threshold) > len(s.Owners) {
		err = errors.Append(err, errors.Wrapf(errors.ErrInput,
			"threshold must be within [1, %d]", len(s.Owners)))
	}
	if s.ChainID <= 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "chain id"))
	}
	return err
}

// IsOwner returns true if the given address belongs to the owner set.
func (s *Safe) IsOwner(a custody.Address) bool {
	return s.Owners.Contains(a)
}

// Copy returns a deep copy of this safe.
func (s *Safe) Copy() *Safe {
	cpy := *s
	cpy.Address = append(custody.Address(nil), s.Address...)
	cpy.Owners = s.Owners.Clone()
	cpy.CreatedBy = append(custody.Address(nil), s.CreatedBy...)
	return &cpy
}

// Bucket provides typed access to the safe records of a store.
type Bucket struct{}

// NewBucket returns a bucket for accessing safe records.
func NewBucket() Bucket {
	return Bucket{}
}

func (Bucket) key(addr custody.Address) []byte {
	return append([]byte(bucketPrefix), addr...)
}

// Get loads the safe registered under given address. It returns
// ErrNotFound when no registration exists.
func (b Bucket) Get(db custody.KVStore, addr custody.Address) (*Safe, error) {
	raw, err := db.Get(b.key(addr))
	if err != nil {
		return nil, errors.Wrap(err, "bucket lookup")
	}
	if raw == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "safe %s", addr)
	}
	var safe Safe
	if err := json.Unmarshal(raw, &safe); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return &safe, nil
}

// Has checks if a safe is registered under given address.
func (b Bucket) Has(db custody.KVStore, addr custody.Address) (bool, error) {
	ok, err := db.Has(b.key(addr))
	return ok, errors.Wrap(err, "bucket lookup")
}

// Save validates the safe, bumps its version and persists it.
func (b Bucket) Save(db custody.KVStore, safe *Safe) error {
	if err := safe.Validate(); err != nil {
		return errors.Wrap(err, "invalid safe")
	}
	safe.Version++
	raw, err := json.Marshal(safe)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	return errors.Wrap(db.Set(b.key(safe.Address), raw), "bucket save")
}

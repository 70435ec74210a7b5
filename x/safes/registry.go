/*
Package safes implements the safe registry: the identity of each shared
custody wallet, its owner set and its signing threshold.

Owners and threshold are immutable through this package's public surface.
The only mutation is TransferControl, the capability handed to the
guardian package to conclude a social recovery.
*/
package safes

import (
	"encoding/json"
	"time"

	"github.com/ChainSafe/log15"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// Registry owns safe identities. All collaborators are injected; the
// registry never owns their lifecycle.
type Registry struct {
	bucket   Bucket
	locks    *custody.SafeLocks
	notifier custody.Notifier
	log      log15.Logger

	// now is the time source, replaceable in tests.
	now func() custody.UnixTime
}

// NewRegistry returns a registry using the given per-safe locks and
// notifier.
func NewRegistry(locks *custody.SafeLocks, notifier custody.Notifier, log log15.Logger) *Registry {
	return &Registry{
		bucket:   NewBucket(),
		locks:    locks,
		notifier: notifier,
		log:      log,
		now:      func() custody.UnixTime { return custody.AsUnixTime(time.Now()) },
	}
}

// Register persists a new safe with a zero nonce. It fails with ErrInput
// when the threshold is outside [1, len(owners)] or the owner set contains
// duplicates, and with ErrDuplicate when the address is already taken.
func (r *Registry) Register(db custody.KVStore, address custody.Address, owners []custody.Address, threshold uint32, chainID int64, createdBy custody.Address) (*Safe, error) {
	safe := &Safe{
		Address:   address,
		Owners:    custody.AddressSet(owners).Clone(),
		Threshold: threshold,
		ChainID:   chainID,
		CreatedBy: createdBy,
		CreatedAt: r.now(),
	}
	if err := safe.Validate(); err != nil {
		return nil, err
	}

	r.locks.Lock(address)
	defer r.locks.Unlock(address)

	switch exists, err := r.bucket.Has(db, address); {
	case err != nil:
		return nil, err
	case exists:
		return nil, errors.Wrapf(errors.ErrDuplicate, "safe %s", address)
	}
	if err := r.bucket.Save(db, safe); err != nil {
		return nil, err
	}

	r.log.Info("safe registered", "safe", address, "owners", len(owners), "threshold", threshold)
	r.publish(safe.Address, custody.EventSafeRegistered, safe)
	return safe.Copy(), nil
}

// Get returns the safe registered under given address or ErrNotFound.
func (r *Registry) Get(db custody.KVStore, address custody.Address) (*Safe, error) {
	safe, err := r.bucket.Get(db, address)
	if err != nil {
		return nil, err
	}
	return safe.Copy(), nil
}

// IsRegistered checks the existence of a registration without loading it.
func (r *Registry) IsRegistered(db custody.KVStore, address custody.Address) (bool, error) {
	return r.bucket.Has(db, address)
}

// ReserveNonce assigns the next proposal nonce of the safe and advances
// the counter. The caller must hold the safe's lock.
func (r *Registry) ReserveNonce(db custody.KVStore, address custody.Address) (uint64, error) {
	safe, err := r.bucket.Get(db, address)
	if err != nil {
		return 0, err
	}
	nonce := safe.NextNonce
	safe.NextNonce++
	if err := r.bucket.Save(db, safe); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetLedgerNonce moves the nonce the ledger expects next. Used by the
// transaction coordinator when a transaction reaches a terminal state.
// The caller must hold the safe's lock.
func (r *Registry) SetLedgerNonce(db custody.KVStore, address custody.Address, nonce uint64) error {
	safe, err := r.bucket.Get(db, address)
	if err != nil {
		return err
	}
	if nonce < safe.LedgerNonce {
		return errors.Wrapf(errors.ErrState, "ledger nonce cannot move back from %d to %d",
			safe.LedgerNonce, nonce)
	}
	safe.LedgerNonce = nonce
	return r.bucket.Save(db, safe)
}

// TransferControl replaces the owner set of the safe with the single new
// controller under a threshold of one. This capability exists for the
// guardian package to conclude a finalized recovery. The caller must hold
// the safe's lock.
func (r *Registry) TransferControl(db custody.KVStore, address custody.Address, newController custody.Address) error {
	safe, err := r.bucket.Get(db, address)
	if err != nil {
		return err
	}
	safe.Owners = custody.AddressSet{append(custody.Address(nil), newController...)}
	safe.Threshold = 1
	if err := r.bucket.Save(db, safe); err != nil {
		return err
	}
	r.log.Info("safe control transferred", "safe", address, "controller", newController)
	return nil
}

func (r *Registry) publish(safe custody.Address, kind custody.EventKind, doc interface{}) {
	if r.notifier == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		r.log.Error("cannot encode event payload", "safe", safe, "kind", kind, "err", err)
		return
	}
	r.notifier.Publish(safe, kind, raw)
}

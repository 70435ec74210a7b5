/*
Package limits implements per-asset, per-period spending limits enforced
independently of owner confirmations.

A limit is a safety net, not an accounting system: it caps the value the
coordinator may move within one period and knows nothing about
confirmations or thresholds. An asset without a configured limit is
unrestricted.
*/
package limits

import (
	"encoding/json"
	"math"
	"time"

	"github.com/ChainSafe/log15"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
	"github.com/safeseed/custody/x/safes"
)

// SafeStore is the subset of the safe registry the enforcer needs to
// authorize limit changes.
type SafeStore interface {
	Get(db custody.KVStore, address custody.Address) (*safes.Safe, error)
}

// Enforcer tracks withdrawal allowances per safe and asset.
type Enforcer struct {
	bucket   Bucket
	registry SafeStore
	locks    *custody.SafeLocks
	notifier custody.Notifier
	log      log15.Logger

	// now is the time source, replaceable in tests.
	now func() custody.UnixTime
}

// NewEnforcer returns an enforcer bound to the given registry and locks.
func NewEnforcer(registry SafeStore, locks *custody.SafeLocks, notifier custody.Notifier, log log15.Logger) *Enforcer {
	return &Enforcer{
		bucket:   NewBucket(),
		registry: registry,
		locks:    locks,
		notifier: notifier,
		log:      log,
		now:      func() custody.UnixTime { return custody.AsUnixTime(time.Now()) },
	}
}

// SetLimit configures the allowance for (safe, asset), overwriting any
// previous limit and resetting the current period. Only an owner of the
// safe may change its limits.
func (e *Enforcer) SetLimit(db custody.KVStore, safe, asset custody.Address, allowance int64, period custody.UnixDuration, caller custody.Address) error {
	reg, err := e.registry.Get(db, safe)
	if err != nil {
		return err
	}
	if !reg.IsOwner(caller) {
		return errors.Wrapf(errors.ErrUnauthorized, "%s is not an owner", caller)
	}

	e.locks.Lock(safe)
	defer e.locks.Unlock(safe)

	limit := &Limit{
		SafeAddress: safe,
		Asset:       asset,
		Allowance:   allowance,
		Period:      period,
		Spent:       0,
		PeriodStart: e.now(),
	}
	// Keep the version history when overwriting.
	if prev, err := e.bucket.Get(db, safe, asset); err != nil {
		return err
	} else if prev != nil {
		limit.Version = prev.Version
	}
	if err := e.bucket.Save(db, limit); err != nil {
		return err
	}

	e.log.Info("spending limit set", "safe", safe, "asset", asset,
		"allowance", allowance, "period", period)
	e.publish(safe, custody.EventLimitSet, limit)
	return nil
}

// GetLimit returns the configured limit for (safe, asset) with the period
// lazily rolled forward, or ErrNotFound when no limit is configured.
func (e *Enforcer) GetLimit(db custody.KVStore, safe, asset custody.Address) (*Limit, error) {
	limit, err := e.bucket.Get(db, safe, asset)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "no limit for safe %s asset %s", safe, asset)
	}
	limit.rollover(e.now())
	return limit.Copy(), nil
}

// CheckAndDebit rolls the period forward if elapsed, then debits the
// amount if it fits within the allowance. It returns false without
// debiting when the amount would overrun the current period. An asset
// without a configured limit is unrestricted and always passes.
//
// The caller must hold the safe's lock so that the check and the debit
// are atomic with respect to concurrent executions.
func (e *Enforcer) CheckAndDebit(db custody.KVStore, safe, asset custody.Address, amount int64) (bool, error) {
	if amount < 0 {
		return false, errors.Wrap(errors.ErrInput, "negative amount")
	}
	limit, err := e.bucket.Get(db, safe, asset)
	if err != nil {
		return false, err
	}
	if limit == nil {
		// No limit configured means no enforcement.
		return true, nil
	}

	limit.rollover(e.now())
	if amount > math.MaxInt64-limit.Spent {
		return false, errors.Wrap(errors.ErrOverflow, "debit amount")
	}
	if limit.Spent+amount > limit.Allowance {
		return false, nil
	}
	limit.Spent += amount
	return true, e.bucket.Save(db, limit)
}

// Refund returns a previously debited amount to the current period. Used
// by the coordinator to roll back a reservation when the ledger rejects a
// submission or the caller cancels it.
//
// The caller must hold the safe's lock.
func (e *Enforcer) Refund(db custody.KVStore, safe, asset custody.Address, amount int64) error {
	if amount < 0 {
		return errors.Wrap(errors.ErrInput, "negative amount")
	}
	limit, err := e.bucket.Get(db, safe, asset)
	if err != nil {
		return err
	}
	if limit == nil {
		return nil
	}
	// If the period rolled over since the debit there is nothing to
	// return; the fresh period starts unspent anyway.
	limit.rollover(e.now())
	limit.Spent -= amount
	if limit.Spent < 0 {
		limit.Spent = 0
	}
	return e.bucket.Save(db, limit)
}

func (e *Enforcer) publish(safe custody.Address, kind custody.EventKind, doc interface{}) {
	if e.notifier == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		e.log.Error("cannot encode event payload", "safe", safe, "kind", kind, "err", err)
		return
	}
	e.notifier.Publish(safe, kind, raw)
}

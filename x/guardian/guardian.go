/*
Package guardian implements the custody safety layer: emergency freeze
and time-locked social recovery, driven by emergency contacts that need
not be owners of the safe.

The guardian operates on a timeline independent of owner confirmations.
Freezing a safe suspends every pending and future execution until it is
explicitly unfrozen. A recovery transfers control of the safe to a new
controller after a mandatory waiting period and a majority of contact
approvals, without any owner signature.
*/
package guardian

import (
	"encoding/json"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/google/uuid"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// ControlTransferrer is the capability the guardian uses to conclude a
// finalized recovery. The safe registry implements it.
type ControlTransferrer interface {
	TransferControl(db custody.KVStore, safe, newController custody.Address) error
}

// Guardian tracks freeze state and recovery requests per safe.
type Guardian struct {
	bucket   Bucket
	registry ControlTransferrer
	locks    *custody.SafeLocks
	notifier custody.Notifier
	log      log15.Logger

	// now is the time source, replaceable in tests.
	now func() custody.UnixTime
}

// NewGuardian returns a guardian bound to the given control transfer
// capability and per-safe locks.
func NewGuardian(registry ControlTransferrer, locks *custody.SafeLocks, notifier custody.Notifier, log log15.Logger) *Guardian {
	return &Guardian{
		bucket:   NewBucket(),
		registry: registry,
		locks:    locks,
		notifier: notifier,
		log:      log,
		now:      func() custody.UnixTime { return custody.AsUnixTime(time.Now()) },
	}
}

// Register places a safe under guardianship. The caller, typically the
// integrating process, is recorded as an authorized caller. A safe cannot
// be registered twice and the contact set must not be empty.
func (g *Guardian) Register(db custody.KVStore, safe custody.Address, timeLock custody.UnixDuration, contacts []custody.Address, caller custody.Address) error {
	rec := &Record{
		SafeAddress:       safe,
		Contacts:          custody.AddressSet(contacts).Clone(),
		TimeLock:          timeLock,
		AuthorizedCallers: custody.AddressSet{append(custody.Address(nil), caller...)},
	}
	if len(contacts) == 0 {
		return errors.Wrap(errors.ErrEmpty, "emergency contacts")
	}
	if timeLock <= 0 {
		return errors.Wrap(errors.ErrInput, "time lock must be positive")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	switch exists, err := g.bucket.Has(db, safe); {
	case err != nil:
		return err
	case exists:
		return errors.Wrapf(errors.ErrDuplicate, "custody for safe %s", safe)
	}
	if err := g.bucket.Save(db, rec); err != nil {
		return err
	}

	g.log.Info("custody registered", "safe", safe,
		"contacts", len(contacts), "timelock", timeLock)
	g.publish(safe, custody.EventCustodyRegistered, rec)
	return nil
}

// Freeze suspends all executions of the safe. Only an emergency contact
// may freeze, and freezing an already frozen safe fails.
func (g *Guardian) Freeze(db custody.KVStore, safe, caller custody.Address) error {
	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	rec, err := g.authorize(db, safe, caller)
	if err != nil {
		return err
	}
	if rec.Frozen {
		return errors.Wrapf(errors.ErrState, "safe %s already frozen", safe)
	}
	rec.Frozen = true
	if err := g.bucket.Save(db, rec); err != nil {
		return err
	}

	g.log.Warn("safe frozen", "safe", safe, "by", caller)
	g.publish(safe, custody.EventSafeFrozen, rec)
	return nil
}

// Unfreeze lifts a freeze. Only an emergency contact may unfreeze, and
// unfreezing an unfrozen safe fails.
func (g *Guardian) Unfreeze(db custody.KVStore, safe, caller custody.Address) error {
	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	rec, err := g.authorize(db, safe, caller)
	if err != nil {
		return err
	}
	if !rec.Frozen {
		return errors.Wrapf(errors.ErrState, "safe %s is not frozen", safe)
	}
	rec.Frozen = false
	if err := g.bucket.Save(db, rec); err != nil {
		return err
	}

	g.log.Info("safe unfrozen", "safe", safe, "by", caller)
	g.publish(safe, custody.EventSafeUnfrozen, rec)
	return nil
}

// IsFrozen reports the freeze state of a safe. A safe without a custody
// record was never placed under guardianship and is not frozen.
func (g *Guardian) IsFrozen(db custody.KVStore, safe custody.Address) (bool, error) {
	rec, err := g.bucket.Get(db, safe)
	if err != nil {
		if errors.ErrNotFound.Is(err) {
			return false, nil
		}
		return false, err
	}
	return rec.Frozen, nil
}

// IsAuthorizedCaller reports whether the given address may drive guardian
// operations on behalf of the safe.
func (g *Guardian) IsAuthorizedCaller(db custody.KVStore, safe, caller custody.Address) (bool, error) {
	rec, err := g.bucket.Get(db, safe)
	if err != nil {
		return false, err
	}
	return rec.AuthorizedCallers.Contains(caller), nil
}

// InitiateRecovery opens a new recovery request proposing a transfer of
// control to newController. The initiating contact approves implicitly.
// Initiating does not freeze the safe; callers wanting safety should
// freeze first.
func (g *Guardian) InitiateRecovery(db custody.KVStore, safe, newController, caller custody.Address) (string, error) {
	if err := newController.Validate(); err != nil {
		return "", errors.Wrap(err, "new controller")
	}

	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	rec, err := g.authorize(db, safe, caller)
	if err != nil {
		return "", err
	}
	if active := rec.Active(); active != nil {
		return "", errors.Wrapf(errors.ErrState, "recovery %s already active", active.ID)
	}

	recovery := &Recovery{
		ID:            uuid.NewString(),
		NewController: append(custody.Address(nil), newController...),
		Initiator:     append(custody.Address(nil), caller...),
		InitiatedAt:   g.now(),
		Approvals:     custody.AddressSet{append(custody.Address(nil), caller...)},
		Status:        RecoveryInitiated,
	}
	rec.Recoveries = append(rec.Recoveries, recovery)
	if err := g.bucket.Save(db, rec); err != nil {
		return "", err
	}

	g.log.Warn("recovery initiated", "safe", safe, "request", recovery.ID,
		"controller", newController, "by", caller)
	g.publish(safe, custody.EventRecoveryInitiated, recovery)
	return recovery.ID, nil
}

// ApproveRecovery adds the caller's approval to the active recovery. Each
// contact may approve once.
func (g *Guardian) ApproveRecovery(db custody.KVStore, safe, caller custody.Address) error {
	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	rec, active, err := g.activeRecovery(db, safe, caller)
	if err != nil {
		return err
	}
	if active.Approvals.Contains(caller) {
		return errors.Wrapf(errors.ErrDuplicate, "%s already approved", caller)
	}
	active.Approvals = append(active.Approvals, append(custody.Address(nil), caller...))
	if len(active.Approvals) >= rec.Quorum() {
		active.Status = RecoveryApproved
	}
	if err := g.bucket.Save(db, rec); err != nil {
		return err
	}

	g.log.Info("recovery approved", "safe", safe, "request", active.ID,
		"by", caller, "approvals", len(active.Approvals), "quorum", rec.Quorum())
	g.publish(safe, custody.EventRecoveryApproved, active)
	return nil
}

// FinalizeRecovery concludes the active recovery once the time lock
// elapsed and a majority of contacts approved, transferring control of
// the safe to the proposed controller. The freeze state of the safe is
// not changed.
func (g *Guardian) FinalizeRecovery(db custody.KVStore, safe, caller custody.Address) error {
	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	rec, err := g.bucket.Get(db, safe)
	if err != nil {
		return err
	}
	active := rec.Active()
	if active == nil {
		return errors.Wrapf(errors.ErrState, "no active recovery for safe %s", safe)
	}

	deadline := active.InitiatedAt.Add(rec.TimeLock.Duration())
	if now := g.now(); now < deadline {
		return errors.Wrapf(errors.ErrTimeLock, "finalize not before %s", deadline)
	}
	if len(active.Approvals) < rec.Quorum() {
		return errors.Wrapf(errors.ErrQuorum, "%d of %d contact approvals",
			len(active.Approvals), rec.Quorum())
	}

	if err := g.registry.TransferControl(db, safe, active.NewController); err != nil {
		return errors.Wrap(err, "transfer control")
	}
	active.Status = RecoveryFinalized
	if err := g.bucket.Save(db, rec); err != nil {
		return err
	}

	g.log.Warn("recovery finalized", "safe", safe, "request", active.ID,
		"controller", active.NewController, "by", caller)
	g.publish(safe, custody.EventRecoveryFinalized, active)
	return nil
}

// CancelRecovery cancels the active recovery. Any emergency contact may
// cancel, allowing a fresh initiation afterwards.
func (g *Guardian) CancelRecovery(db custody.KVStore, safe, caller custody.Address) error {
	g.locks.Lock(safe)
	defer g.locks.Unlock(safe)

	rec, active, err := g.activeRecovery(db, safe, caller)
	if err != nil {
		return err
	}
	active.Status = RecoveryCancelled
	if err := g.bucket.Save(db, rec); err != nil {
		return err
	}

	g.log.Info("recovery cancelled", "safe", safe, "request", active.ID, "by", caller)
	g.publish(safe, custody.EventRecoveryCancelled, active)
	return nil
}

// Record returns a copy of the custody record of given safe.
func (g *Guardian) Record(db custody.KVStore, safe custody.Address) (*Record, error) {
	rec, err := g.bucket.Get(db, safe)
	if err != nil {
		return nil, err
	}
	return rec.Copy(), nil
}

// authorize loads the record and ensures the caller is an emergency
// contact.
func (g *Guardian) authorize(db custody.KVStore, safe, caller custody.Address) (*Record, error) {
	rec, err := g.bucket.Get(db, safe)
	if err != nil {
		return nil, err
	}
	if !rec.IsContact(caller) {
		return nil, errors.Wrapf(errors.ErrUnauthorized, "%s is not an emergency contact", caller)
	}
	return rec, nil
}

// activeRecovery loads the record, ensures a non-terminal recovery
// exists and that the caller is an emergency contact. A missing
// recovery is reported before the caller's standing so callers learn
// there is nothing to act on regardless of who asks.
func (g *Guardian) activeRecovery(db custody.KVStore, safe, caller custody.Address) (*Record, *Recovery, error) {
	rec, err := g.bucket.Get(db, safe)
	if err != nil {
		return nil, nil, err
	}
	active := rec.Active()
	if active == nil {
		return nil, nil, errors.Wrapf(errors.ErrState, "no active recovery for safe %s", safe)
	}
	if !rec.IsContact(caller) {
		return nil, nil, errors.Wrapf(errors.ErrUnauthorized, "%s is not an emergency contact", caller)
	}
	return rec, active, nil
}

func (g *Guardian) publish(safe custody.Address, kind custody.EventKind, doc interface{}) {
	if g.notifier == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		g.log.Error("cannot encode event payload", "safe", safe, "kind", kind, "err", err)
		return
	}
	g.notifier.Publish(safe, kind, raw)
}

package guardian

import (
	"encoding/json"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// bucketPrefix namespaces all custody records in the store.
const bucketPrefix = "custody:"

// RecoveryStatus is the lifecycle state of a recovery request.
type RecoveryStatus string

const (
	RecoveryInitiated RecoveryStatus = "initiated"
	RecoveryApproved  RecoveryStatus = "approved"
	RecoveryFinalized RecoveryStatus = "finalized"
	RecoveryCancelled RecoveryStatus = "cancelled"
)

// Terminal returns true when no further transition is possible.
func (s RecoveryStatus) Terminal() bool {
	return s == RecoveryFinalized || s == RecoveryCancelled
}

// Recovery is a single time-locked request to transfer control of a safe
// to a new controller. At most one non-terminal recovery exists per safe.
type Recovery struct {
	ID            string             `json:"id"`
	NewController custody.Address    `json:"new_controller"`
	Initiator     custody.Address    `json:"initiator"`
	InitiatedAt   custody.UnixTime   `json:"initiated_at"`
	Approvals     custody.AddressSet `json:"approvals"`
	Status        RecoveryStatus     `json:"status"`
}

// Record tracks the guardian state of one safe: its freeze flag, the
// emergency contacts, the recovery time lock and the recovery history.
// Records are never destroyed.
type Record struct {
	SafeAddress custody.Address      `json:"safe_address"`
	Frozen      bool                 `json:"frozen"`
	Contacts    custody.AddressSet   `json:"contacts"`
	TimeLock    custody.UnixDuration `json:"time_lock"`

	// AuthorizedCallers are addresses permitted to drive guardian
	// operations on behalf of the safe, typically the integrating
	// coordinator process.
	AuthorizedCallers custody.AddressSet `json:"authorized_callers"`

	// Recoveries is the request history, most recent last. Only the last
	// entry may be non-terminal.
	Recoveries []*Recovery `json:"recoveries"`

	Version uint32 `json:"version"`
}

// Validate ensures the record is valid.
func (r *Record) Validate() error {
	var err error
	err = errors.Append(err, errors.Wrap(r.SafeAddress.Validate(), "safe address"))
	err = errors.Append(err, errors.Wrap(r.Contacts.Validate(), "contacts"))
	err = errors.Append(err, errors.Wrap(r.AuthorizedCallers.Validate(), "authorized callers"))
	if len(r.Contacts) == 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrEmpty, "contacts"))
	}
	if r.TimeLock <= 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "time lock must be positive"))
	}
	for i, rec := range r.Recoveries {
		if rec.Status.Terminal() {
			continue
		}
		if i != len(r.Recoveries)-1 {
			err = errors.Append(err, errors.Wrap(errors.ErrState,
				"only the last recovery may be active"))
		}
	}
	return err
}

// IsContact returns true if the given address is an emergency contact.
func (r *Record) IsContact(a custody.Address) bool {
	return r.Contacts.Contains(a)
}

// Active returns the current non-terminal recovery request, or nil.
func (r *Record) Active() *Recovery {
	if len(r.Recoveries) == 0 {
		return nil
	}
	last := r.Recoveries[len(r.Recoveries)-1]
	if last.Status.Terminal() {
		return nil
	}
	return last
}

// Quorum is the number of contact approvals a recovery needs: a strict
// majority of the emergency contact set.
func (r *Record) Quorum() int {
	return len(r.Contacts)/2 + 1
}

// Copy returns a deep copy of this record.
func (r *Record) Copy() *Record {
	cpy := *r
	cpy.SafeAddress = append(custody.Address(nil), r.SafeAddress...)
	cpy.Contacts = r.Contacts.Clone()
	cpy.AuthorizedCallers = r.AuthorizedCallers.Clone()
	cpy.Recoveries = make([]*Recovery, len(r.Recoveries))
	for i, rec := range r.Recoveries {
		rcpy := *rec
		rcpy.NewController = append(custody.Address(nil), rec.NewController...)
		rcpy.Initiator = append(custody.Address(nil), rec.Initiator...)
		rcpy.Approvals = rec.Approvals.Clone()
		cpy.Recoveries[i] = &rcpy
	}
	return &cpy
}

// Bucket provides typed access to the custody records of a store.
type Bucket struct{}

// NewBucket returns a bucket for accessing custody records.
func NewBucket() Bucket {
	return Bucket{}
}

func (Bucket) key(safe custody.Address) []byte {
	return append([]byte(bucketPrefix), safe...)
}

// Get loads the custody record of given safe. It returns ErrNotFound when
// the safe was never registered with the guardian.
func (b Bucket) Get(db custody.KVStore, safe custody.Address) (*Record, error) {
	raw, err := db.Get(b.key(safe))
	if err != nil {
		return nil, errors.Wrap(err, "bucket lookup")
	}
	if raw == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "custody for safe %s", safe)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return &rec, nil
}

// Has checks if a custody record exists for given safe.
func (b Bucket) Has(db custody.KVStore, safe custody.Address) (bool, error) {
	ok, err := db.Has(b.key(safe))
	return ok, errors.Wrap(err, "bucket lookup")
}

// Save validates the record, bumps its version and persists it.
func (b Bucket) Save(db custody.KVStore, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, "invalid custody record")
	}
	rec.Version++
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	return errors.Wrap(db.Set(b.key(rec.SafeAddress), raw), "bucket save")
}

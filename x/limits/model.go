package limits

import (
	"encoding/json"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// bucketPrefix namespaces all spending limit records in the store.
const bucketPrefix = "limit:"

// Limit caps the value moved out of a safe for one asset within a rolling
// period. Spent never exceeds Allowance; the period rolls forward lazily
// on the first check after it elapsed.
type Limit struct {
	SafeAddress custody.Address      `json:"safe_address"`
	Asset       custody.Address      `json:"asset"`
	Allowance   int64                `json:"allowance"`
	Period      custody.UnixDuration `json:"period"`
	Spent       int64                `json:"spent"`
	PeriodStart custody.UnixTime     `json:"period_start"`
	Version     uint32               `json:"version"`
}

// Validate ensures the limit is valid.
func (l *Limit) Validate() error {
	var err error
	err = errors.Append(err, errors.Wrap(l.SafeAddress.Validate(), "safe address"))
	err = errors.Append(err, errors.Wrap(l.Asset.Validate(), "asset"))
	if l.Allowance <= 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "allowance must be positive"))
	}
	if l.Period <= 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "period must be positive"))
	}
	if l.Spent < 0 || l.Spent > l.Allowance {
		err = errors.Append(err, errors.Wrap(errors.ErrState, "spent out of range"))
	}
	return err
}

// Copy returns a deep copy of this limit.
func (l *Limit) Copy() *Limit {
	cpy := *l
	cpy.SafeAddress = append(custody.Address(nil), l.SafeAddress...)
	cpy.Asset = append(custody.Address(nil), l.Asset...)
	return &cpy
}

// rollover resets the spending window when the period elapsed. Internal
// recovery, never surfaced to the caller.
func (l *Limit) rollover(now custody.UnixTime) {
	if now >= l.PeriodStart.Add(l.Period.Duration()) {
		l.Spent = 0
		l.PeriodStart = now
	}
}

// Bucket provides typed access to the limit records of a store.
type Bucket struct{}

// NewBucket returns a bucket for accessing spending limit records.
func NewBucket() Bucket {
	return Bucket{}
}

func (Bucket) key(safe, asset custody.Address) []byte {
	k := append([]byte(bucketPrefix), safe...)
	return append(k, asset...)
}

// Get loads the limit for (safe, asset), or nil when no limit was ever
// configured. The nil result is meaningful: it stands for unlimited.
func (b Bucket) Get(db custody.KVStore, safe, asset custody.Address) (*Limit, error) {
	raw, err := db.Get(b.key(safe, asset))
	if err != nil {
		return nil, errors.Wrap(err, "bucket lookup")
	}
	if raw == nil {
		return nil, nil
	}
	var limit Limit
	if err := json.Unmarshal(raw, &limit); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return &limit, nil
}

// Save validates the limit, bumps its version and persists it.
func (b Bucket) Save(db custody.KVStore, limit *Limit) error {
	if err := limit.Validate(); err != nil {
		return errors.Wrap(err, "invalid limit")
	}
	limit.Version++
	raw, err := json.Marshal(limit)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	return errors.Wrap(db.Set(b.key(limit.SafeAddress, limit.Asset), raw), "bucket save")
}

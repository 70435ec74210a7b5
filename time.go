package custody

import (
	"encoding/json"
	"time"

	"github.com/safeseed/custody/errors"
)

// UnixTime represents a point in time as POSIX time. Seconds precision is
// enough for every deadline this module deals with and keeps persisted
// documents language neutral.
type UnixTime int64

// Time returns a time.Time structure that represents the same moment in time.
func (t UnixTime) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// IsZero returns true if this time represents a zero value.
func (t UnixTime) IsZero() bool {
	return t == 0
}

// Add modifies this UNIX time by given duration. This is compatible with
// time.Time.Add method.
func (t UnixTime) Add(d time.Duration) UnixTime {
	return t + UnixTime(d/time.Second)
}

// AsUnixTime converts given Time structure into its UNIX time representation.
func AsUnixTime(t time.Time) UnixTime {
	return UnixTime(t.Unix())
}

// Validate returns an error if this time value is invalid.
func (t UnixTime) Validate() error {
	if t < 0 {
		return errors.Wrap(errors.ErrState, "negative time")
	}
	return nil
}

// String returns the usual string representation of this time as the
// time.Time structure would.
func (t UnixTime) String() string {
	return t.Time().UTC().String()
}

// UnixDuration represents a span of time in seconds.
type UnixDuration int32

// AsUnixDuration converts given Duration into its UnixDuration
// representation, truncating sub second precision.
func AsUnixDuration(d time.Duration) UnixDuration {
	return UnixDuration(d / time.Second)
}

// Duration returns the time.Duration representation of this value.
func (d UnixDuration) Duration() time.Duration {
	return time.Duration(d) * time.Second
}

// UnmarshalJSON supports unmarshaling both from a number (seconds) and a
// human readable duration string (ie. "2h30m").
func (d *UnixDuration) UnmarshalJSON(raw []byte) error {
	var secs int32
	if err := json.Unmarshal(raw, &secs); err == nil {
		*d = UnixDuration(secs)
		return nil
	}
	var human string
	if err := json.Unmarshal(raw, &human); err != nil {
		return errors.Wrap(errors.ErrInput, "invalid duration format")
	}
	dur, err := time.ParseDuration(human)
	if err != nil {
		return errors.Wrapf(errors.ErrInput, "invalid duration: %s", err)
	}
	*d = AsUnixDuration(dur)
	return nil
}

// Validate returns an error if this duration value is invalid.
func (d UnixDuration) Validate() error {
	if d < 0 {
		return errors.Wrap(errors.ErrState, "negative duration")
	}
	return nil
}

func (d UnixDuration) String() string {
	return d.Duration().String()
}

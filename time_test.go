package custody

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/safeseed/custody/errors"
)

func TestUnixDurationUnmarshal(t *testing.T) {
	cases := map[string]struct {
		raw     string
		wantDur UnixDuration
		wantErr *errors.Error
	}{
		"zero as number": {
			raw:     "0",
			wantDur: 0,
		},
		"seconds as number": {
			raw:     "9000",
			wantDur: 9000,
		},
		"human readable string": {
			raw:     `"2h30m"`,
			wantDur: 9000,
		},
		"string with seconds": {
			raw:     `"1m30s"`,
			wantDur: 90,
		},
		"negative number": {
			raw:     "-5",
			wantDur: -5,
		},
		"invalid string": {
			raw:     `"not a duration"`,
			wantErr: errors.ErrInput,
		},
		"invalid format": {
			raw:     "[1]",
			wantErr: errors.ErrInput,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			var got UnixDuration
			err := json.Unmarshal([]byte(tc.raw), &got)
			if !tc.wantErr.Is(err) {
				t.Fatalf("unexpected error: %s", err)
			}
			if err == nil && got != tc.wantDur {
				t.Fatalf("want %d duration, got %d", tc.wantDur, got)
			}
		})
	}
}

func TestUnixDurationValidate(t *testing.T) {
	if err := UnixDuration(-1).Validate(); !errors.ErrState.Is(err) {
		t.Fatalf("negative duration must not validate: %+v", err)
	}
	if err := UnixDuration(60).Validate(); err != nil {
		t.Fatalf("positive duration must validate: %+v", err)
	}
}

func TestUnixTimeAdd(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour + 4*time.Second)

	unow := AsUnixTime(now)
	ufuture := unow.Add(time.Hour + 4*time.Second)

	if future.Unix() != int64(ufuture) {
		t.Fatalf("want %d, got %d", future.Unix(), ufuture)
	}
}

func TestUnixTimeValidate(t *testing.T) {
	if err := UnixTime(-1).Validate(); !errors.ErrState.Is(err) {
		t.Fatalf("negative time must not validate: %+v", err)
	}
	if err := UnixTime(0).Validate(); err != nil {
		t.Fatalf("zero time must validate: %+v", err)
	}
	if !UnixTime(0).IsZero() {
		t.Fatal("zero time must report as zero")
	}
}

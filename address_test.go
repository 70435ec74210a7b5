package custody

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/safeseed/custody/errors"
)

func TestNewAddress(t *testing.T) {
	addr := NewAddress([]byte("some public key material"))
	if err := addr.Validate(); err != nil {
		t.Fatalf("derived address must validate: %+v", err)
	}
	if other := NewAddress([]byte("other key material")); addr.Equals(other) {
		t.Fatal("distinct payloads must derive distinct addresses")
	}
	if NewAddress(nil) != nil {
		t.Fatal("nil payload must derive a nil address")
	}
}

func TestAddressValidate(t *testing.T) {
	cases := map[string]struct {
		addr    Address
		wantErr *errors.Error
	}{
		"proper length": {
			addr: make(Address, AddressLength),
		},
		"nil": {
			addr:    nil,
			wantErr: errors.ErrInput,
		},
		"too short": {
			addr:    make(Address, AddressLength-1),
			wantErr: errors.ErrInput,
		},
		"too long": {
			addr:    make(Address, AddressLength+1),
			wantErr: errors.ErrInput,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			if err := tc.addr.Validate(); !tc.wantErr.Is(err) {
				t.Fatalf("unexpected validation result: %+v", err)
			}
		})
	}
}

func TestAddressJSONRoundTrip(t *testing.T) {
	addr := NewAddress([]byte("round trip"))

	raw, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("cannot marshal: %+v", err)
	}
	// The wire format is uppercase hex, not the default base64.
	if want := `"` + addr.String() + `"`; string(raw) != want {
		t.Fatalf("want %s serialized, got %s", want, raw)
	}

	var got Address
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("cannot unmarshal: %+v", err)
	}
	if !got.Equals(addr) {
		t.Fatalf("want %s, got %s", addr, got)
	}

	var empty Address
	if err := json.Unmarshal([]byte(`""`), &empty); err != nil {
		t.Fatalf("cannot unmarshal empty: %+v", err)
	}
	if empty != nil {
		t.Fatalf("empty string must decode to a nil address, got %s", empty)
	}
}

func TestParseAddress(t *testing.T) {
	addr := NewAddress([]byte("parse me"))

	got, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("cannot parse: %+v", err)
	}
	if !got.Equals(addr) {
		t.Fatalf("want %s, got %s", addr, got)
	}

	if _, err := ParseAddress("not hex at all"); err == nil {
		t.Fatal("garbage input must not parse")
	}
	if _, err := ParseAddress("abcd"); !errors.ErrInput.Is(err) {
		t.Fatalf("short input must fail validation: %+v", err)
	}
}

func TestAddressSet(t *testing.T) {
	a := NewAddress([]byte("a"))
	b := NewAddress([]byte("b"))
	c := NewAddress([]byte("c"))

	set := AddressSet{a, b}
	if !set.Contains(a) || !set.Contains(b) {
		t.Fatal("set must contain its members")
	}
	if set.Contains(c) {
		t.Fatal("set must not contain a stranger")
	}
	if !set.Unique() {
		t.Fatal("set without repetition must be unique")
	}
	if (AddressSet{a, b, a}).Unique() {
		t.Fatal("set with repetition must not be unique")
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("valid members must validate: %+v", err)
	}
	if err := (AddressSet{a, Address{0x01}}).Validate(); !errors.ErrInput.Is(err) {
		t.Fatalf("malformed member must fail validation: %+v", err)
	}

	cpy := set.Clone()
	cpy[0][0] ^= 0xff
	if !bytes.Equal(set[0], a) {
		t.Fatal("mutating a clone must not affect the original")
	}
}

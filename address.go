package custody

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/safeseed/custody/errors"
)

// AddressLength is the length of all addresses. It must not change during
// the lifetime of a store as persisted keys depend on it.
const AddressLength = 20

// Address identifies a party in the system: a safe, an owner, an emergency
// contact or an asset contract. It is a collision-free, one-way digest of
// some public identity (ie. a public key).
type Address []byte

// NewAddress hashes the given payload and returns an address of the
// canonical length. Nil input returns a nil address.
func NewAddress(payload []byte) Address {
	if payload == nil {
		return nil
	}
	hash := sha256.Sum256(payload)
	return Address(hash[:AddressLength])
}

// ParseAddress decodes a hex representation as created by String.
func ParseAddress(enc string) (Address, error) {
	raw, err := hex.DecodeString(enc)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode hex")
	}
	addr := Address(raw)
	return addr, addr.Validate()
}

// Equals checks if two addresses are the same.
func (a Address) Equals(b Address) bool {
	return bytes.Equal(a, b)
}

// Validate returns an error if the address is not the proper size.
func (a Address) Validate() error {
	if len(a) != AddressLength {
		return errors.Wrapf(errors.ErrInput, "address length %d", len(a))
	}
	return nil
}

func (a Address) String() string {
	if len(a) == 0 {
		return "(nil)"
	}
	return strings.ToUpper(hex.EncodeToString(a))
}

// MarshalJSON provides a hex representation for JSON, to override the
// standard base64 []byte encoding.
func (a Address) MarshalJSON() ([]byte, error) {
	var enc string
	if a != nil {
		enc = strings.ToUpper(hex.EncodeToString(a))
	}
	return json.Marshal(enc)
}

func (a *Address) UnmarshalJSON(raw []byte) error {
	var enc string
	if err := json.Unmarshal(raw, &enc); err != nil {
		return errors.Wrap(err, "cannot decode json")
	}
	if len(enc) == 0 {
		*a = nil
		return nil
	}
	val, err := hex.DecodeString(enc)
	if err != nil {
		return errors.Wrap(err, "cannot decode hex")
	}
	*a = val
	return nil
}

// AddressSet answers membership questions about a group of addresses.
type AddressSet []Address

// Contains returns true if the given address is part of the set.
func (s AddressSet) Contains(a Address) bool {
	for _, member := range s {
		if member.Equals(a) {
			return true
		}
	}
	return false
}

// Unique returns true if no address appears in the set twice.
func (s AddressSet) Unique() bool {
	seen := make(map[string]struct{}, len(s))
	for _, member := range s {
		key := string(member)
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}

// Validate returns an error if any member is not a valid address.
func (s AddressSet) Validate() error {
	for i, member := range s {
		if err := member.Validate(); err != nil {
			return errors.Wrapf(err, "address #%d", i)
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s AddressSet) Clone() AddressSet {
	if s == nil {
		return nil
	}
	cpy := make(AddressSet, len(s))
	for i, member := range s {
		cpy[i] = append(Address(nil), member...)
	}
	return cpy
}

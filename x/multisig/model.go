package multisig

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/crypto"
	"github.com/safeseed/custody/errors"
	"github.com/safeseed/custody/store"
)

// bucketPrefix namespaces all transaction records in the store.
const bucketPrefix = "tx:"

// NativeAsset is the asset address used for the chain's native currency.
var NativeAsset = make(custody.Address, custody.AddressLength)

// Status describes where a transaction is in its lifecycle.
type Status string

const (
	// StatusPending collects confirmations.
	StatusPending Status = "pending"
	// StatusReady has enough confirmations and awaits execution.
	StatusReady Status = "ready"
	// StatusExecuted was finalized by the ledger. Terminal.
	StatusExecuted Status = "executed"
	// StatusFailed was rejected by the ledger. Terminal.
	StatusFailed Status = "failed"
	// StatusExpired timed out before execution. Terminal.
	StatusExpired Status = "expired"
)

// Terminal returns true if no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusExecuted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Confirmation is an owner's attestation approving a transaction. PubKey
// is optional. When present the signature was verified against the
// transaction digest, otherwise it is stored as an opaque blob.
type Confirmation struct {
	Signer    custody.Address  `json:"signer"`
	PubKey    crypto.PublicKey `json:"pub_key,omitempty"`
	Signature []byte           `json:"signature"`
	CreatedAt custody.UnixTime `json:"created_at"`
}

// Validate ensures the confirmation is valid.
func (c *Confirmation) Validate() error {
	var err error
	err = errors.Append(err, errors.Wrap(c.Signer.Validate(), "signer"))
	if len(c.Signature) == 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrEmpty, "signature"))
	}
	if len(c.PubKey) != 0 {
		err = errors.Append(err, errors.Wrap(c.PubKey.Validate(), "pub key"))
	}
	return err
}

// Transaction is a value transfer proposed against a safe, identified by
// the safe address and a per-safe nonce.
type Transaction struct {
	SafeAddress custody.Address `json:"safe_address"`
	Nonce       uint64          `json:"nonce"`
	Destination custody.Address `json:"destination"`
	// Asset is the token moved by this transaction. The all-zero address
	// denotes the chain's native asset.
	Asset    custody.Address `json:"asset"`
	Value    int64           `json:"value"`
	Payload  []byte          `json:"payload,omitempty"`
	Digest   []byte          `json:"digest"`
	Proposer custody.Address `json:"proposer"`
	Status   Status          `json:"status"`

	Confirmations []Confirmation   `json:"confirmations"`
	Receipt       *custody.Receipt `json:"receipt,omitempty"`
	CreatedAt     custody.UnixTime `json:"created_at"`

	// Version is incremented on every persisted mutation.
	Version uint32 `json:"version"`
}

// Validate ensures the transaction is valid.
func (t *Transaction) Validate() error {
	var err error
	err = errors.Append(err, errors.Wrap(t.SafeAddress.Validate(), "safe address"))
	err = errors.Append(err, errors.Wrap(t.Destination.Validate(), "destination"))
	err = errors.Append(err, errors.Wrap(t.Asset.Validate(), "asset"))
	err = errors.Append(err, errors.Wrap(t.Proposer.Validate(), "proposer"))
	if t.Value < 0 {
		err = errors.Append(err, errors.Wrap(errors.ErrInput, "negative value"))
	}
	if !t.Status.valid() {
		err = errors.Append(err, errors.Wrapf(errors.ErrModel, "status %q", t.Status))
	}
	seen := make(map[string]struct{}, len(t.Confirmations))
	for i := range t.Confirmations {
		c := &t.Confirmations[i]
		err = errors.Append(err, errors.Wrapf(c.Validate(), "confirmation #%d", i))
		if _, ok := seen[string(c.Signer)]; ok {
			err = errors.Append(err, errors.Wrapf(errors.ErrDuplicate,
				"confirmation #%d signer", i))
		}
		seen[string(c.Signer)] = struct{}{}
	}
	return err
}

// HasConfirmed returns true if the given address already confirmed this
// transaction.
func (t *Transaction) HasConfirmed(a custody.Address) bool {
	for i := range t.Confirmations {
		if t.Confirmations[i].Signer.Equals(a) {
			return true
		}
	}
	return false
}

// Signatures returns the aggregated signature set, ordered by arrival.
func (t *Transaction) Signatures() [][]byte {
	sigs := make([][]byte, 0, len(t.Confirmations))
	for i := range t.Confirmations {
		sigs = append(sigs, t.Confirmations[i].Signature)
	}
	return sigs
}

// Copy returns a deep copy of this transaction.
func (t *Transaction) Copy() *Transaction {
	cpy := *t
	cpy.SafeAddress = append(custody.Address(nil), t.SafeAddress...)
	cpy.Destination = append(custody.Address(nil), t.Destination...)
	cpy.Asset = append(custody.Address(nil), t.Asset...)
	cpy.Payload = append([]byte(nil), t.Payload...)
	cpy.Digest = append([]byte(nil), t.Digest...)
	cpy.Proposer = append(custody.Address(nil), t.Proposer...)
	cpy.Confirmations = make([]Confirmation, len(t.Confirmations))
	copy(cpy.Confirmations, t.Confirmations)
	if t.Receipt != nil {
		r := *t.Receipt
		cpy.Receipt = &r
	}
	return &cpy
}

// ComputeDigest returns the authorization digest signed by confirming
// owners. It commits to every field that determines the effect of the
// transaction.
func ComputeDigest(safe custody.Address, nonce uint64, destination, asset custody.Address, value int64, payload []byte) []byte {
	h := sha256.New()
	h.Write(safe)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	h.Write(destination)
	h.Write(asset)
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	h.Write(buf[:])
	h.Write(payload)
	return h.Sum(nil)
}

// TxKey returns the store key of the transaction with given safe address
// and nonce. The nonce is encoded big endian so that keys iterate in
// nonce order.
func TxKey(safe custody.Address, nonce uint64) []byte {
	key := make([]byte, 0, len(bucketPrefix)+len(safe)+8)
	key = append(key, bucketPrefix...)
	key = append(key, safe...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return append(key, buf[:]...)
}

// Bucket provides typed access to the transaction records of a store.
type Bucket struct{}

// NewBucket returns a bucket for accessing transaction records.
func NewBucket() Bucket {
	return Bucket{}
}

// Get loads the transaction stored under given safe address and nonce.
// It returns ErrNotFound when no such transaction exists.
func (b Bucket) Get(db custody.KVStore, safe custody.Address, nonce uint64) (*Transaction, error) {
	raw, err := db.Get(TxKey(safe, nonce))
	if err != nil {
		return nil, errors.Wrap(err, "bucket lookup")
	}
	if raw == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "transaction %s:%d", safe, nonce)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return &tx, nil
}

// List loads every transaction of the given safe, in nonce order. An
// unknown safe yields an empty list, not an error.
func (b Bucket) List(db custody.KVStore, safe custody.Address) ([]*Transaction, error) {
	prefix := make([]byte, 0, len(bucketPrefix)+len(safe))
	prefix = append(prefix, bucketPrefix...)
	prefix = append(prefix, safe...)
	start, end := store.PrefixRange(prefix)
	itr, err := db.Iterator(start, end)
	if err != nil {
		return nil, errors.Wrap(err, "bucket iterator")
	}
	defer itr.Release()

	var txs []*Transaction
	for itr.Next() {
		var tx Transaction
		if err := json.Unmarshal(itr.Value(), &tx); err != nil {
			return nil, errors.Wrap(errors.ErrModel, err.Error())
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}

// Save validates the transaction, bumps its version and persists it.
func (b Bucket) Save(db custody.KVStore, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return errors.Wrap(err, "invalid transaction")
	}
	tx.Version++
	raw, err := json.Marshal(tx)
	if err != nil {
		return errors.Wrap(errors.ErrModel, err.Error())
	}
	return errors.Wrap(db.Set(TxKey(tx.SafeAddress, tx.Nonce), raw), "bucket save")
}

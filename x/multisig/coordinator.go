/*
Package multisig implements the transaction coordinator: the state machine
that drives a proposed transaction through owner confirmation to ledger
execution.

A transaction starts pending, flips to ready once the confirmation count
reaches the safe's threshold, and ends executed, failed or expired. The
decision to submit a ready transaction (unfrozen safe, matching ledger
nonce, spending limit debit) is taken atomically under the per-safe lock,
while the ledger call itself runs outside the lock so a slow ledger never
blocks other work on the same safe.
*/
package multisig

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ChainSafe/log15"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
	"github.com/safeseed/custody/x/safes"
)

// SafeKeeper is the registry capability the coordinator depends on.
type SafeKeeper interface {
	Get(db custody.KVStore, address custody.Address) (*safes.Safe, error)
	// ReserveNonce and SetLedgerNonce must be called with the safe's
	// lock held.
	ReserveNonce(db custody.KVStore, address custody.Address) (uint64, error)
	SetLedgerNonce(db custody.KVStore, address custody.Address, nonce uint64) error
}

// FreezeChecker reports the guardian's freeze verdict for a safe.
type FreezeChecker interface {
	IsFrozen(db custody.KVStore, safe custody.Address) (bool, error)
}

// LimitKeeper is the spending limit capability the coordinator depends
// on. Both methods must be called with the safe's lock held.
type LimitKeeper interface {
	CheckAndDebit(db custody.KVStore, safe, asset custody.Address, amount int64) (bool, error)
	Refund(db custody.KVStore, safe, asset custody.Address, amount int64) error
}

// Coordinator drives transactions from proposal to execution. All
// collaborators are injected; the coordinator never owns their lifecycle.
type Coordinator struct {
	bucket   Bucket
	registry SafeKeeper
	guardian FreezeChecker
	limits   LimitKeeper
	ledger   custody.Ledger
	locks    *custody.SafeLocks
	notifier custody.Notifier
	log      log15.Logger

	// ttl expires pending and ready transactions that were not executed
	// in time. Zero means transactions never expire.
	ttl custody.UnixDuration

	// inflight guards against concurrent execution of the same
	// transaction while its ledger submission runs outside the lock.
	mu       sync.Mutex
	inflight map[string]struct{}

	// now is the time source, replaceable in tests.
	now func() custody.UnixTime
}

// NewCoordinator returns a coordinator wired to the given collaborators.
func NewCoordinator(registry SafeKeeper, guardian FreezeChecker, limits LimitKeeper, ledger custody.Ledger, locks *custody.SafeLocks, notifier custody.Notifier, log log15.Logger) *Coordinator {
	return &Coordinator{
		bucket:   NewBucket(),
		registry: registry,
		guardian: guardian,
		limits:   limits,
		ledger:   ledger,
		locks:    locks,
		notifier: notifier,
		log:      log,
		inflight: make(map[string]struct{}),
		now:      func() custody.UnixTime { return custody.AsUnixTime(time.Now()) },
	}
}

// SetProposalTTL configures how long a transaction may wait for execution
// before it expires. Expiry is applied lazily on the next access. A zero
// duration disables expiry.
func (c *Coordinator) SetProposalTTL(ttl custody.UnixDuration) {
	c.ttl = ttl
}

// Propose creates a new pending transaction against the safe, assigning
// it the safe's next nonce. It fails with ErrNotFound when the safe is
// unknown, ErrUnauthorized when the proposer is not an owner and ErrState
// when the safe is frozen.
func (c *Coordinator) Propose(db custody.KVStore, safe, destination, asset custody.Address, value int64, payload []byte, proposer custody.Address) (*Transaction, error) {
	c.locks.Lock(safe)
	defer c.locks.Unlock(safe)

	reg, err := c.registry.Get(db, safe)
	if err != nil {
		return nil, err
	}
	if !reg.IsOwner(proposer) {
		return nil, errors.Wrapf(errors.ErrUnauthorized, "proposer %s is not an owner", proposer)
	}
	switch frozen, err := c.guardian.IsFrozen(db, safe); {
	case err != nil:
		return nil, err
	case frozen:
		return nil, errors.Wrapf(errors.ErrState, "safe %s is frozen", safe)
	}

	nonce, err := c.registry.ReserveNonce(db, safe)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		SafeAddress: safe,
		Nonce:       nonce,
		Destination: destination,
		Asset:       asset,
		Value:       value,
		Payload:     payload,
		Digest:      ComputeDigest(safe, nonce, destination, asset, value, payload),
		Proposer:    proposer,
		Status:      StatusPending,
		CreatedAt:   c.now(),
	}
	if err := c.bucket.Save(db, tx); err != nil {
		return nil, err
	}

	c.log.Info("transaction proposed", "safe", safe, "nonce", nonce, "proposer", proposer, "value", value)
	c.publish(safe, custody.EventTxProposed, tx)
	return tx.Copy(), nil
}

// Confirm records an owner's attestation on a pending transaction and
// flips it to ready once the confirmation count reaches the safe's
// threshold. Confirmations on a transaction that already left the pending
// state fail with ErrState so a late signature can never race an ongoing
// submission. When a public key is supplied, the signature must verify
// against the transaction digest and the signer must be the key's
// address.
func (c *Coordinator) Confirm(db custody.KVStore, safe custody.Address, nonce uint64, conf Confirmation) error {
	c.locks.Lock(safe)
	defer c.locks.Unlock(safe)

	tx, err := c.loadFresh(db, safe, nonce)
	if err != nil {
		return err
	}
	if tx.Status != StatusPending {
		if tx.Status == StatusExpired {
			return errors.Wrapf(errors.ErrExpired, "transaction %s:%d", safe, nonce)
		}
		return errors.Wrapf(errors.ErrState, "transaction %s:%d is %s", safe, nonce, tx.Status)
	}

	reg, err := c.registry.Get(db, safe)
	if err != nil {
		return err
	}
	if !reg.IsOwner(conf.Signer) {
		return errors.Wrapf(errors.ErrUnauthorized, "signer %s is not an owner", conf.Signer)
	}
	if tx.HasConfirmed(conf.Signer) {
		return errors.Wrapf(errors.ErrDuplicate, "signer %s already confirmed", conf.Signer)
	}
	if len(conf.PubKey) != 0 {
		if !conf.PubKey.Address().Equals(conf.Signer) {
			return errors.Wrapf(errors.ErrUnauthorized, "public key does not belong to %s", conf.Signer)
		}
		if !conf.PubKey.Verify(tx.Digest, conf.Signature) {
			return errors.Wrap(errors.ErrUnauthorized, "invalid signature")
		}
	}

	conf.CreatedAt = c.now()
	tx.Confirmations = append(tx.Confirmations, conf)
	ready := len(tx.Confirmations) >= int(reg.Threshold)
	if ready {
		tx.Status = StatusReady
	}
	if err := c.bucket.Save(db, tx); err != nil {
		return err
	}

	c.log.Info("transaction confirmed", "safe", safe, "nonce", nonce,
		"signer", conf.Signer, "confirmations", len(tx.Confirmations), "threshold", reg.Threshold)
	c.publish(safe, custody.EventTxConfirmed, tx)
	if ready {
		c.publish(safe, custody.EventTxReady, tx)
	}
	return nil
}

// Execute submits a ready transaction to the ledger. The safe must be
// unfrozen at execution time, the transaction's nonce must match the
// safe's ledger nonce and the spending limit debit must succeed; failing
// any one blocks the submission. The ledger verdict is awaited outside
// the per-safe lock. A ledger acceptance commits the transaction as
// executed with its receipt; a rejection marks it failed and refunds the
// debit. Cancelling the context before a verdict refunds the debit and
// leaves the transaction ready for a later retry.
func (c *Coordinator) Execute(ctx context.Context, db custody.KVStore, safe custody.Address, nonce uint64) (*custody.Receipt, error) {
	c.locks.Lock(safe)

	payload, err := c.reserve(db, safe, nonce)
	if err != nil {
		c.locks.Unlock(safe)
		return nil, err
	}
	c.locks.Unlock(safe)

	receipt, submitErr := c.ledger.Submit(ctx, payload)

	c.locks.Lock(safe)
	defer c.locks.Unlock(safe)
	defer c.clearInflight(safe, nonce)

	tx, err := c.bucket.Get(db, safe, nonce)
	if err != nil {
		return nil, err
	}

	switch {
	case submitErr == nil:
		tx.Status = StatusExecuted
		tx.Receipt = receipt
		if err := c.bucket.Save(db, tx); err != nil {
			return nil, err
		}
		if err := c.advanceLedgerNonce(db, safe, nonce); err != nil {
			return nil, err
		}
		c.log.Info("transaction executed", "safe", safe, "nonce", nonce, "block", receipt.BlockHeight)
		c.publish(safe, custody.EventTxExecuted, tx)
		return receipt, nil

	case ctx.Err() != nil:
		// No verdict from the ledger. Undo the debit and keep the
		// transaction ready so the caller can retry or abandon it.
		if err := c.limits.Refund(db, safe, tx.Asset, tx.Value); err != nil {
			return nil, err
		}
		c.log.Warn("transaction submission cancelled", "safe", safe, "nonce", nonce, "err", ctx.Err())
		return nil, errors.Wrap(ctx.Err(), "ledger submission")

	default:
		tx.Status = StatusFailed
		if err := c.bucket.Save(db, tx); err != nil {
			return nil, err
		}
		if err := c.limits.Refund(db, safe, tx.Asset, tx.Value); err != nil {
			return nil, err
		}
		if err := c.advanceLedgerNonce(db, safe, nonce); err != nil {
			return nil, err
		}
		c.log.Error("transaction rejected by ledger", "safe", safe, "nonce", nonce, "err", submitErr)
		c.publish(safe, custody.EventTxFailed, tx)
		return nil, errors.Wrapf(errors.ErrLedger, "%v", submitErr)
	}
}

// reserve takes the decision to submit: ready status, unfrozen safe,
// matching ledger nonce and a successful spending limit debit. It marks
// the transaction in flight and returns the payload to submit. The caller
// must hold the safe's lock.
func (c *Coordinator) reserve(db custody.KVStore, safe custody.Address, nonce uint64) (*custody.SignedPayload, error) {
	tx, err := c.loadFresh(db, safe, nonce)
	if err != nil {
		return nil, err
	}
	switch tx.Status {
	case StatusReady:
	case StatusExpired:
		return nil, errors.Wrapf(errors.ErrExpired, "transaction %s:%d", safe, nonce)
	default:
		return nil, errors.Wrapf(errors.ErrState, "transaction %s:%d is %s", safe, nonce, tx.Status)
	}
	if c.isInflight(safe, nonce) {
		return nil, errors.Wrapf(errors.ErrState, "transaction %s:%d is being executed", safe, nonce)
	}

	switch frozen, err := c.guardian.IsFrozen(db, safe); {
	case err != nil:
		return nil, err
	case frozen:
		return nil, errors.Wrapf(errors.ErrState, "safe %s is frozen", safe)
	}

	reg, err := c.registry.Get(db, safe)
	if err != nil {
		return nil, err
	}
	if nonce != reg.LedgerNonce {
		return nil, errors.Wrapf(errors.ErrNonce, "transaction nonce %d, ledger expects %d",
			nonce, reg.LedgerNonce)
	}

	switch ok, err := c.limits.CheckAndDebit(db, safe, tx.Asset, tx.Value); {
	case err != nil:
		return nil, err
	case !ok:
		return nil, errors.Wrapf(errors.ErrLimit, "value %d overruns the period allowance", tx.Value)
	}

	c.setInflight(safe, nonce)
	return &custody.SignedPayload{
		Safe:        tx.SafeAddress,
		Nonce:       tx.Nonce,
		Destination: tx.Destination,
		Value:       tx.Value,
		Data:        tx.Payload,
		SafeTxHash:  tx.Digest,
		Signatures:  tx.Signatures(),
	}, nil
}

// Get returns the transaction stored under given safe address and nonce,
// applying lazy expiry first.
func (c *Coordinator) Get(db custody.KVStore, safe custody.Address, nonce uint64) (*Transaction, error) {
	c.locks.Lock(safe)
	defer c.locks.Unlock(safe)

	tx, err := c.loadFresh(db, safe, nonce)
	if err != nil {
		return nil, err
	}
	return tx.Copy(), nil
}

// ListTransactions returns the full transaction history of a safe, in
// nonce order, applying lazy expiry first. An unknown safe yields an
// empty history.
func (c *Coordinator) ListTransactions(db custody.KVStore, safe custody.Address) ([]*Transaction, error) {
	c.locks.Lock(safe)
	defer c.locks.Unlock(safe)

	txs, err := c.bucket.List(db, safe)
	if err != nil {
		return nil, err
	}
	history := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := c.freshen(db, tx); err != nil {
			return nil, err
		}
		history = append(history, tx.Copy())
	}
	return history, nil
}

// loadFresh loads a transaction and applies lazy expiry. The caller must
// hold the safe's lock.
func (c *Coordinator) loadFresh(db custody.KVStore, safe custody.Address, nonce uint64) (*Transaction, error) {
	tx, err := c.bucket.Get(db, safe, nonce)
	if err != nil {
		return nil, err
	}
	if err := c.freshen(db, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// freshen applies lazy expiry to a loaded transaction: a non-terminal
// transaction older than the proposal TTL is persisted as expired.
// In-flight transactions are never expired. The caller must hold the
// safe's lock.
func (c *Coordinator) freshen(db custody.KVStore, tx *Transaction) error {
	safe, nonce := tx.SafeAddress, tx.Nonce
	if c.ttl == 0 || tx.Status.Terminal() || c.isInflight(safe, nonce) {
		return nil
	}
	if c.now() < tx.CreatedAt.Add(c.ttl.Duration()) {
		return nil
	}

	tx.Status = StatusExpired
	if err := c.bucket.Save(db, tx); err != nil {
		return err
	}
	reg, err := c.registry.Get(db, safe)
	if err != nil {
		return err
	}
	if nonce == reg.LedgerNonce {
		if err := c.advanceLedgerNonce(db, safe, nonce); err != nil {
			return err
		}
	}
	c.log.Info("transaction expired", "safe", safe, "nonce", nonce)
	c.publish(safe, custody.EventTxExpired, tx)
	return nil
}

// advanceLedgerNonce moves the safe's ledger nonce past the transaction
// that just reached a terminal state, skipping any directly following
// transactions that are already terminal. The caller must hold the safe's
// lock.
func (c *Coordinator) advanceLedgerNonce(db custody.KVStore, safe custody.Address, nonce uint64) error {
	next := nonce + 1
	for {
		tx, err := c.bucket.Get(db, safe, next)
		if err != nil {
			if errors.ErrNotFound.Is(err) {
				break
			}
			return err
		}
		if !tx.Status.Terminal() {
			break
		}
		next++
	}
	return c.registry.SetLedgerNonce(db, safe, next)
}

func (c *Coordinator) isInflight(safe custody.Address, nonce uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[string(TxKey(safe, nonce))]
	return ok
}

func (c *Coordinator) setInflight(safe custody.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[string(TxKey(safe, nonce))] = struct{}{}
}

func (c *Coordinator) clearInflight(safe custody.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, string(TxKey(safe, nonce)))
}

func (c *Coordinator) publish(safe custody.Address, kind custody.EventKind, doc interface{}) {
	if c.notifier == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		c.log.Error("cannot encode event payload", "safe", safe, "kind", kind, "err", err)
		return
	}
	c.notifier.Publish(safe, kind, raw)
}

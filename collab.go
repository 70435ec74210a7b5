package custody

import "context"

// SignedPayload is a fully authorized transaction handed over to the
// ledger for finalization. It carries the aggregated attestations of all
// confirming owners.
type SignedPayload struct {
	Safe        Address  `json:"safe"`
	Nonce       uint64   `json:"nonce"`
	Destination Address  `json:"destination"`
	Value       int64    `json:"value"`
	Data        []byte   `json:"data"`
	SafeTxHash  []byte   `json:"safe_tx_hash"`
	Signatures  [][]byte `json:"signatures"`
}

// Receipt is the finality proof returned by the ledger for an accepted
// payload.
type Receipt struct {
	TxHash      []byte   `json:"tx_hash"`
	BlockHeight int64    `json:"block_height"`
	FinalizedAt UnixTime `json:"finalized_at"`
}

// Ledger finalizes authorized transactions. Implementations talk to an
// external chain and may be slow; callers control timeouts through the
// context. A rejection is returned as an error wrapping errors.ErrLedger
// and is terminal for the submitted transaction. The core never retries.
type Ledger interface {
	Submit(ctx context.Context, payload *SignedPayload) (*Receipt, error)
}

// EventKind names a state transition published to the Notifier.
type EventKind string

const (
	EventSafeRegistered    EventKind = "safe.registered"
	EventTxProposed        EventKind = "tx.proposed"
	EventTxConfirmed       EventKind = "tx.confirmed"
	EventTxReady           EventKind = "tx.ready"
	EventTxExecuted        EventKind = "tx.executed"
	EventTxFailed          EventKind = "tx.failed"
	EventTxExpired         EventKind = "tx.expired"
	EventCustodyRegistered EventKind = "custody.registered"
	EventSafeFrozen        EventKind = "custody.frozen"
	EventSafeUnfrozen      EventKind = "custody.unfrozen"
	EventRecoveryInitiated EventKind = "recovery.initiated"
	EventRecoveryApproved  EventKind = "recovery.approved"
	EventRecoveryFinalized EventKind = "recovery.finalized"
	EventRecoveryCancelled EventKind = "recovery.cancelled"
	EventLimitSet          EventKind = "limit.set"
)

// Notifier publishes state transitions to interested parties. Publishing
// is fire and forget: a failure to notify must never fail the operation
// that triggered the event.
type Notifier interface {
	Publish(safe Address, kind EventKind, payload []byte)
}

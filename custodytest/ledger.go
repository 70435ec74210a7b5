package custodytest

import (
	"context"
	"sync"

	"github.com/safeseed/custody"
)

// Ledger is a mock implementing the custody.Ledger interface.
//
// Submissions are recorded and answered with the configured receipt or
// error. The zero value accepts every payload with a generic receipt.
type Ledger struct {
	mu sync.Mutex

	// Receipt is returned on success. When nil, a receipt with the
	// payload's safe tx hash is fabricated.
	Receipt *custody.Receipt

	// Err is returned instead of a receipt when set.
	Err error

	// Block makes Submit wait for the context to be done, simulating a
	// slow ledger. The context error is returned.
	Block bool

	submitted []*custody.SignedPayload
}

var _ custody.Ledger = (*Ledger)(nil)

func (l *Ledger) Submit(ctx context.Context, payload *custody.SignedPayload) (*custody.Receipt, error) {
	l.mu.Lock()
	l.submitted = append(l.submitted, payload)
	block, err, receipt := l.Block, l.Err, l.Receipt
	l.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		return receipt, nil
	}
	return &custody.Receipt{TxHash: payload.SafeTxHash}, nil
}

// SubmitCount returns the number of payloads submitted so far.
func (l *Ledger) SubmitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.submitted)
}

// LastSubmitted returns the most recently submitted payload, or nil.
func (l *Ledger) LastSubmitted() *custody.SignedPayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.submitted) == 0 {
		return nil
	}
	return l.submitted[len(l.submitted)-1]
}

package safes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/custodytest"
	"github.com/safeseed/custody/errors"
	"github.com/safeseed/custody/store"
)

func newRegistry() *Registry {
	return NewRegistry(custody.NewSafeLocks(), &custodytest.Notifier{}, custodytest.Logger())
}

func TestRegister(t *testing.T) {
	a := custodytest.RandomAddr(t)
	b := custodytest.RandomAddr(t)
	c := custodytest.RandomAddr(t)
	creator := custodytest.RandomAddr(t)

	cases := map[string]struct {
		owners    []custody.Address
		threshold uint32
		chainID   int64
		wantErr   *errors.Error
	}{
		"valid 2 of 3": {
			owners:    []custody.Address{a, b, c},
			threshold: 2,
			chainID:   1,
		},
		"valid 1 of 1": {
			owners:    []custody.Address{a},
			threshold: 1,
			chainID:   11155111,
		},
		"threshold zero": {
			owners:    []custody.Address{a, b},
			threshold: 0,
			chainID:   1,
			wantErr:   errors.ErrInput,
		},
		"threshold above owner count": {
			owners:    []custody.Address{a, b},
			threshold: 3,
			chainID:   1,
			wantErr:   errors.ErrInput,
		},
		"duplicate owners": {
			owners:    []custody.Address{a, b, a},
			threshold: 2,
			chainID:   1,
			wantErr:   errors.ErrInput,
		},
		"no owners": {
			owners:    nil,
			threshold: 1,
			chainID:   1,
			wantErr:   errors.ErrInput,
		},
		"missing chain id": {
			owners:    []custody.Address{a},
			threshold: 1,
			wantErr:   errors.ErrInput,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			db := store.MemStore()
			r := newRegistry()
			addr := custodytest.RandomAddr(t)

			safe, err := r.Register(db, addr, tc.owners, tc.threshold, tc.chainID, creator)
			if tc.wantErr != nil {
				require.Error(t, err)
				require.True(t, tc.wantErr.Is(err), "unexpected error: %+v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.threshold, safe.Threshold)
			require.Equal(t, uint64(0), safe.NextNonce)
			require.Equal(t, uint64(0), safe.LedgerNonce)

			got, err := r.Get(db, addr)
			require.NoError(t, err)
			require.Equal(t, safe, got)
		})
	}
}

func TestRegisterTwice(t *testing.T) {
	db := store.MemStore()
	r := newRegistry()
	addr := custodytest.RandomAddr(t)
	owner := custodytest.RandomAddr(t)

	_, err := r.Register(db, addr, []custody.Address{owner}, 1, 1, owner)
	require.NoError(t, err)

	_, err = r.Register(db, addr, []custody.Address{owner}, 1, 1, owner)
	require.True(t, errors.ErrDuplicate.Is(err), "unexpected error: %+v", err)
}

func TestGetMissing(t *testing.T) {
	db := store.MemStore()
	r := newRegistry()

	_, err := r.Get(db, custodytest.RandomAddr(t))
	require.True(t, errors.ErrNotFound.Is(err), "unexpected error: %+v", err)

	ok, err := r.IsRegistered(db, custodytest.RandomAddr(t))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReserveNonce(t *testing.T) {
	db := store.MemStore()
	r := newRegistry()
	addr := custodytest.RandomAddr(t)
	owner := custodytest.RandomAddr(t)

	_, err := r.Register(db, addr, []custody.Address{owner}, 1, 1, owner)
	require.NoError(t, err)

	for want := uint64(0); want < 3; want++ {
		nonce, err := r.ReserveNonce(db, addr)
		require.NoError(t, err)
		require.Equal(t, want, nonce)
	}

	safe, err := r.Get(db, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), safe.NextNonce)
	require.Equal(t, uint64(0), safe.LedgerNonce)
}

func TestSetLedgerNonce(t *testing.T) {
	db := store.MemStore()
	r := newRegistry()
	addr := custodytest.RandomAddr(t)
	owner := custodytest.RandomAddr(t)

	_, err := r.Register(db, addr, []custody.Address{owner}, 1, 1, owner)
	require.NoError(t, err)

	require.NoError(t, r.SetLedgerNonce(db, addr, 2))

	err = r.SetLedgerNonce(db, addr, 1)
	require.True(t, errors.ErrState.Is(err), "ledger nonce moved back: %+v", err)
}

func TestTransferControl(t *testing.T) {
	db := store.MemStore()
	r := newRegistry()
	addr := custodytest.RandomAddr(t)
	a := custodytest.RandomAddr(t)
	b := custodytest.RandomAddr(t)
	controller := custodytest.RandomAddr(t)

	_, err := r.Register(db, addr, []custody.Address{a, b}, 2, 1, a)
	require.NoError(t, err)

	require.NoError(t, r.TransferControl(db, addr, controller))

	safe, err := r.Get(db, addr)
	require.NoError(t, err)
	require.Equal(t, custody.AddressSet{controller}, safe.Owners)
	require.Equal(t, uint32(1), safe.Threshold)
	require.False(t, safe.IsOwner(a))
	require.True(t, safe.IsOwner(controller))
}

func TestRegisterPublishesEvent(t *testing.T) {
	db := store.MemStore()
	notifier := &custodytest.Notifier{}
	r := NewRegistry(custody.NewSafeLocks(), notifier, custodytest.Logger())
	addr := custodytest.RandomAddr(t)
	owner := custodytest.RandomAddr(t)

	_, err := r.Register(db, addr, []custody.Address{owner}, 1, 1, owner)
	require.NoError(t, err)

	kinds := notifier.Kinds()
	require.Len(t, kinds, 1)
	require.Equal(t, custody.EventSafeRegistered, kinds[0])
}

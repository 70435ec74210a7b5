package limits

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/custodytest"
	"github.com/safeseed/custody/errors"
	"github.com/safeseed/custody/store"
	"github.com/safeseed/custody/x/safes"
)

type fixture struct {
	db       custody.KVStore
	enforcer *Enforcer
	safe     custody.Address
	owner    custody.Address
	asset    custody.Address
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now custody.UnixTime
}

func (c *fakeClock) Now() custody.UnixTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.MemStore()
	locks := custody.NewSafeLocks()
	registry := safes.NewRegistry(locks, nil, custodytest.Logger())

	owner := custodytest.RandomAddr(t)
	safeAddr := custodytest.RandomAddr(t)
	_, err := registry.Register(db, safeAddr, []custody.Address{owner}, 1, 1, owner)
	require.NoError(t, err)

	clock := &fakeClock{now: custody.AsUnixTime(time.Now())}
	enforcer := NewEnforcer(registry, locks, &custodytest.Notifier{}, custodytest.Logger())
	enforcer.now = clock.Now

	return &fixture{
		db:       db,
		enforcer: enforcer,
		safe:     safeAddr,
		owner:    owner,
		asset:    custodytest.RandomAddr(t),
		clock:    clock,
	}
}

func TestSetLimitAuthorization(t *testing.T) {
	f := newFixture(t)

	err := f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), custodytest.RandomAddr(t))
	require.True(t, errors.ErrUnauthorized.Is(err), "unexpected error: %+v", err)

	require.NoError(t, f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), f.owner))

	limit, err := f.enforcer.GetLimit(f.db, f.safe, f.asset)
	require.NoError(t, err)
	require.Equal(t, int64(100), limit.Allowance)
	require.Equal(t, int64(0), limit.Spent)
}

func TestSetLimitValidation(t *testing.T) {
	f := newFixture(t)

	err := f.enforcer.SetLimit(f.db, f.safe, f.asset, 0, custody.AsUnixDuration(time.Hour), f.owner)
	require.True(t, errors.ErrInput.Is(err), "zero allowance: %+v", err)

	err = f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, 0, f.owner)
	require.True(t, errors.ErrInput.Is(err), "zero period: %+v", err)
}

func TestGetLimitMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.enforcer.GetLimit(f.db, f.safe, f.asset)
	require.True(t, errors.ErrNotFound.Is(err), "unexpected error: %+v", err)
}

func TestCheckAndDebitUnlimitedByDefault(t *testing.T) {
	f := newFixture(t)

	// No limit was ever configured for this asset.
	ok, err := f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 1<<60)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckAndDebitWithinPeriod(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), f.owner))

	ok, err := f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 60)
	require.NoError(t, err)
	require.True(t, ok)

	// 60 + 41 > 100, no debit happens.
	ok, err = f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 41)
	require.NoError(t, err)
	require.False(t, ok)

	// The failed attempt must not have consumed anything.
	ok, err = f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 40)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckAndDebitOverrunByOne(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), f.owner))

	ok, err := f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 101)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPeriodRollsOverExactlyOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), f.owner))

	// Exhaust the full allowance of the first period.
	ok, err := f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 100)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 1)
	require.NoError(t, err)
	require.False(t, ok)

	// After the period elapsed the full allowance is available again.
	f.clock.Advance(time.Hour)
	ok, err = f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 100)
	require.NoError(t, err)
	require.True(t, ok)

	// But only once per elapsed period.
	ok, err = f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), f.owner))

	ok, err := f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 80)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.enforcer.Refund(f.db, f.safe, f.asset, 80))

	limit, err := f.enforcer.GetLimit(f.db, f.safe, f.asset)
	require.NoError(t, err)
	require.Equal(t, int64(0), limit.Spent)

	// Refunding an unlimited asset is a noop.
	require.NoError(t, f.enforcer.Refund(f.db, f.safe, custodytest.RandomAddr(t), 10))
}

func TestConcurrentDebitsNeverOverrun(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.enforcer.SetLimit(f.db, f.safe, f.asset, 100, custody.AsUnixDuration(time.Hour), f.owner))

	locks := custody.NewSafeLocks()
	var granted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock(f.safe)
			defer locks.Unlock(f.safe)
			ok, err := f.enforcer.CheckAndDebit(f.db, f.safe, f.asset, 10)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				granted += 10
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(100), granted, "exactly the allowance must be granted")
}

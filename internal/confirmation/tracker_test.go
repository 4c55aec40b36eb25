package confirmation

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	"github.com/vietddude/w3bpay/internal/infra/ledger/ledgertest"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

func submit(t *testing.T, fake *ledgertest.Fake) string {
	t.Helper()
	hash, err := fake.SubmitTransaction(context.Background(), ledger.TxRequest{From: alice, To: bob, Value: big.NewInt(1)})
	require.NoError(t, err)
	return hash
}

func TestConfirmationsOf(t *testing.T) {
	fake := ledgertest.New()
	tracker := NewTracker(fake, time.Millisecond)
	ctx := context.Background()

	hash := submit(t, fake)

	// Pending.
	n, err := tracker.ConfirmationsOf(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	// Included at H: one confirmation.
	fake.Include(hash)
	n, err = tracker.ConfirmationsOf(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	// Height H+5: six confirmations.
	fake.Mine(5)
	n, err = tracker.ConfirmationsOf(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	// Unknown hash.
	n, err = tracker.ConfirmationsOf(ctx, "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

// laggingNode reports a height below the inclusion block, as a node behind
// its peers can.
type laggingNode struct {
	*ledgertest.Fake
	height uint64
}

func (l laggingNode) GetBlockHeight(ctx context.Context) (uint64, error) {
	return l.height, nil
}

func TestConfirmationsOf_NeverNegative(t *testing.T) {
	fake := ledgertest.New()
	hash := submit(t, fake)
	fake.Include(hash)

	tracker := NewTracker(laggingNode{Fake: fake, height: 50}, time.Millisecond)
	n, err := tracker.ConfirmationsOf(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestConfirmationsOf_NodeDown(t *testing.T) {
	fake := ledgertest.New()
	fake.Down = true
	tracker := NewTracker(fake, time.Millisecond)

	_, err := tracker.ConfirmationsOf(context.Background(), "0x1")
	assert.ErrorIs(t, err, domain.ErrNodeUnavailable)
}

func TestIsConfirmed(t *testing.T) {
	fake := ledgertest.New()
	tracker := NewTracker(fake, time.Millisecond)
	ctx := context.Background()

	hash := submit(t, fake)
	ok, err := tracker.IsConfirmed(ctx, hash, 0)
	require.NoError(t, err)
	assert.False(t, ok, "pending is never confirmed")

	fake.Include(hash)
	ok, err = tracker.IsConfirmed(ctx, hash, 0)
	require.NoError(t, err)
	assert.True(t, ok, "default requirement is one confirmation")

	ok, err = tracker.IsConfirmed(ctx, hash, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	fake.Mine(2)
	ok, err = tracker.IsConfirmed(ctx, hash, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForConfirmations(t *testing.T) {
	fake := ledgertest.New()
	tracker := NewTracker(fake, time.Millisecond)
	hash := submit(t, fake)
	fake.Include(hash)

	go func() {
		for i := 0; i < 4; i++ {
			time.Sleep(2 * time.Millisecond)
			fake.Mine(1)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := tracker.WaitForConfirmations(ctx, hash, 5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, uint64(5))
}

func TestWaitForConfirmations_ContextEnds(t *testing.T) {
	fake := ledgertest.New()
	tracker := NewTracker(fake, time.Millisecond)
	hash := submit(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := tracker.WaitForConfirmations(ctx, hash, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(0), n)
}

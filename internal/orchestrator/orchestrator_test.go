package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/w3bpay/internal/core/domain"
	"github.com/vietddude/w3bpay/internal/infra/ledger"
	"github.com/vietddude/w3bpay/internal/infra/ledger/ledgertest"
)

const (
	alice    = "0x1111111111111111111111111111111111111111"
	bob      = "0x2222222222222222222222222222222222222222"
	carol    = "0x3333333333333333333333333333333333333333"
	contract = "0x9999999999999999999999999999999999999999"
)

func fastConfig() Config {
	return Config{
		InclusionTimeout: time.Second,
		PollInterval:     time.Millisecond,
		TransferGasLimit: 21000,
		ContractGasLimit: 200000,
	}
}

func TestSubmitTransfer_Included(t *testing.T) {
	fake := ledgertest.New()
	fake.InclusionPolls = 2
	o := New(fake, nil, fastConfig())

	var hooked string
	outcome, err := o.SubmitTransfer(context.Background(), alice, bob, big.NewInt(500),
		WithSubmittedHook(func(ctx context.Context, hash string) error {
			hooked = hash
			return nil
		}))
	require.NoError(t, err)

	assert.True(t, outcome.Submitted)
	assert.True(t, outcome.Included())
	assert.Equal(t, uint64(101), outcome.BlockNumber)
	assert.Equal(t, outcome.TransactionID, hooked)

	sent := fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(500), sent[0].Value.Int64())
	assert.Equal(t, uint64(21000), sent[0].Gas)
	assert.NotNil(t, sent[0].GasPrice)
}

func TestSubmitTransfer_InclusionTimeout(t *testing.T) {
	fake := ledgertest.New()
	fake.NeverInclude = true
	cfg := fastConfig()
	cfg.InclusionTimeout = 20 * time.Millisecond
	o := New(fake, nil, cfg)

	outcome, err := o.SubmitTransfer(context.Background(), alice, bob, big.NewInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.ErrorIs(t, err, domain.ErrInclusionTimeout)
	assert.Equal(t, domain.KindSubmissionError, domain.KindOf(err))

	// The transaction exists on the node; the outcome must say so.
	assert.True(t, outcome.Submitted)
	assert.NotEmpty(t, outcome.TransactionID)
	assert.False(t, outcome.Included())
	assert.Len(t, fake.Sent(), 1, "never resubmitted")
}

func TestSubmitTransfer_CancelledWhileWaiting(t *testing.T) {
	fake := ledgertest.New()
	fake.NeverInclude = true
	o := New(fake, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	outcome, err := o.SubmitTransfer(ctx, alice, bob, big.NewInt(1),
		WithSubmittedHook(func(context.Context, string) error {
			cancel()
			return nil
		}))
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.Equal(t, domain.KindSubmissionError, domain.KindOf(err))
	assert.True(t, outcome.Submitted)

	deadline, cancelDeadline := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelDeadline()
	_, err = o.SubmitTransfer(deadline, alice, bob, big.NewInt(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.KindSubmissionError, domain.KindOf(err))
}

func TestSubmitTransfer_Rejected(t *testing.T) {
	fake := ledgertest.New()
	fake.SubmitErr = fmt.Errorf("%w: insufficient funds", domain.ErrSubmission)
	o := New(fake, nil, fastConfig())

	outcome, err := o.SubmitTransfer(context.Background(), alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.False(t, outcome.Submitted)
	assert.Empty(t, outcome.TransactionID)
}

func TestSubmitTransfer_NodeDown(t *testing.T) {
	fake := ledgertest.New()
	fake.Down = true
	o := New(fake, nil, fastConfig())

	_, err := o.SubmitTransfer(context.Background(), alice, bob, big.NewInt(1))
	assert.Equal(t, domain.KindNodeUnavailable, domain.KindOf(err))
}

func TestSubmitTransfer_Reverted(t *testing.T) {
	fake := ledgertest.New()
	fake.Revert = true
	o := New(fake, nil, fastConfig())

	outcome, err := o.SubmitTransfer(context.Background(), alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrReverted)
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.True(t, outcome.Submitted)
	assert.NotZero(t, outcome.BlockNumber)
	assert.False(t, outcome.Included())
}

func TestSubmitTransfer_ValidatesBeforeLedger(t *testing.T) {
	fake := ledgertest.New()
	o := New(fake, nil, fastConfig())
	ctx := context.Background()

	_, err := o.SubmitTransfer(ctx, "0x1234", bob, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = o.SubmitTransfer(ctx, alice, bob, big.NewInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = o.SubmitContractCall(ctx, ContractCall{Contract: contract, Method: ledger.MethodMint, Args: []any{"bad", big.NewInt(1)}, Signer: alice})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Empty(t, fake.Sent())
}

func TestSubmitContractCall(t *testing.T) {
	fake := ledgertest.New()
	o := New(fake, nil, fastConfig())

	outcome, err := o.SubmitContractCall(context.Background(), ContractCall{
		Contract: contract,
		Method:   ledger.MethodMint,
		Args:     []any{bob, big.NewInt(7)},
		Signer:   alice,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Included())

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, uint64(200000), fake.Calls[0].Gas)
	assert.Equal(t, contract, fake.Sent()[0].To)
}

func TestSubmit_OneInFlightPerAddress(t *testing.T) {
	fake := ledgertest.New()
	fake.InclusionPolls = 3
	o := New(fake, nil, fastConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, from := range []string{alice, carol} {
			wg.Add(1)
			go func(from string) {
				defer wg.Done()
				_, err := o.SubmitTransfer(context.Background(), from, bob, big.NewInt(1))
				assert.NoError(t, err)
			}(from)
		}
	}
	wg.Wait()

	assert.Len(t, fake.Sent(), 16)
	assert.Equal(t, 1, fake.MaxInFlight(alice))
	assert.Equal(t, 1, fake.MaxInFlight(carol))
}

func TestSubmit_CancelledWhileQueued(t *testing.T) {
	fake := ledgertest.New()
	fake.NeverInclude = true
	cfg := fastConfig()
	cfg.InclusionTimeout = time.Minute
	o := New(fake, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.SubmitTransfer(ctx, alice, bob, big.NewInt(1))
	}()

	// Wait until the first submission holds the address.
	require.Eventually(t, func() bool { return len(fake.Sent()) == 1 }, time.Second, time.Millisecond)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err := o.SubmitTransfer(short, alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, fake.Sent(), 1)

	cancel()
	<-done
}

type recordingSequencer struct {
	name string
	log  *[]string
	err  error
}

func (s recordingSequencer) Acquire(ctx context.Context, address string) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	*s.log = append(*s.log, "acquire "+s.name)
	return func() { *s.log = append(*s.log, "release "+s.name) }, nil
}

func TestChainedSequencer(t *testing.T) {
	var log []string
	seq := ChainedSequencer{
		recordingSequencer{name: "local", log: &log},
		recordingSequencer{name: "redis", log: &log},
	}

	release, err := seq.Acquire(context.Background(), alice)
	require.NoError(t, err)
	release()

	assert.Equal(t, []string{"acquire local", "acquire redis", "release redis", "release local"}, log)
}

func TestChainedSequencer_PartialFailureReleases(t *testing.T) {
	var log []string
	boom := errors.New("redis down")
	seq := ChainedSequencer{
		recordingSequencer{name: "local", log: &log},
		recordingSequencer{name: "redis", log: &log, err: boom},
	}

	_, err := seq.Acquire(context.Background(), alice)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"acquire local", "release local"}, log)
}

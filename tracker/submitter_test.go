package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorenbridge/gateway/gatewaytest"
	"gorenbridge/types"
)

func TestSubmitterNilTxIsInert(t *testing.T) {
	s := NewSubmitter(nil, 0)
	assert.NoError(t, s.Submit(context.Background()))
	s.SetAutoSubmit(func() bool { return true })
	assert.False(t, s.ShouldAutoSubmit())
	assert.Equal(t, SubmitterState{}, s.State())
}

func TestSubmitterSecondSubmitWhileSubmittingIsNoop(t *testing.T) {
	tx := gatewaytest.NewChainTx(types.StageIn, types.Ethereum, "0xabc")
	release := tx.Block()
	s := NewSubmitter(tx, time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Submit(context.Background()))
	}()
	require.Eventually(t, func() bool { return s.State().Submitting }, time.Second, time.Millisecond)

	assert.NoError(t, s.Submit(context.Background()))
	release()
	wg.Wait()

	assert.Equal(t, 1, tx.SubmitCalls())
	st := s.State()
	assert.False(t, st.Submitting)
	assert.True(t, st.SubmittingDone)
	assert.True(t, st.Waiting)
	assert.False(t, st.Done)

	// after success further submits stay no-ops
	assert.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, 1, tx.SubmitCalls())
}

func TestSubmitterErrorAndReset(t *testing.T) {
	tx := gatewaytest.NewChainTx(types.StageIn, types.Ethereum, "0xabc")
	tx.SetSubmitErr(errors.New("user rejected the request"))
	s := NewSubmitter(tx, time.Second)

	err := s.Submit(context.Background())
	require.Error(t, err)
	st := s.State()
	assert.EqualError(t, st.ErrorSubmitting, "user rejected the request")
	assert.False(t, st.SubmittingDone)

	s.Reset()
	assert.NoError(t, s.State().ErrorSubmitting)

	tx.SetSubmitErr(nil)
	require.NoError(t, s.Submit(context.Background()))
	assert.True(t, s.State().SubmittingDone)
	assert.Equal(t, 2, tx.SubmitCalls())

	// reset never undoes a successful submission
	s.Reset()
	assert.True(t, s.State().SubmittingDone)
}

func TestSubmitterTimeout(t *testing.T) {
	tx := gatewaytest.NewChainTx(types.StageIn, types.Ethereum, "0xabc")
	release := tx.Block()
	defer release()
	s := NewSubmitter(tx, 10*time.Millisecond)

	err := s.Submit(context.Background())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Error(t, s.State().ErrorSubmitting)
}

func TestSubmitterAlreadyBroadcast(t *testing.T) {
	tx := gatewaytest.NewChainTx(types.StageOut, types.Bitcoin, "")
	tx.SetBroadcastByNetwork(true)
	s := NewSubmitter(tx, time.Second)

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, 0, tx.SubmitCalls())
	assert.True(t, s.State().SubmittingDone)
}

func TestSubmitterAutoSubmit(t *testing.T) {
	tx := gatewaytest.NewChainTx(types.StageNetwork, "", "")
	s := NewSubmitter(tx, time.Second)
	assert.False(t, s.ShouldAutoSubmit())

	lockDone := false
	s.SetAutoSubmit(func() bool { return lockDone })
	assert.False(t, s.ShouldAutoSubmit())

	lockDone = true
	assert.True(t, s.ShouldAutoSubmit())

	require.NoError(t, s.Submit(context.Background()))
	assert.False(t, s.ShouldAutoSubmit())
}

func TestSubmitterAutoSubmitWaitsForReset(t *testing.T) {
	tx := gatewaytest.NewChainTx(types.StageNetwork, "", "")
	tx.SetSubmitErr(errors.New("network rejected"))
	s := NewSubmitter(tx, time.Second)
	s.SetAutoSubmit(func() bool { return true })

	require.Error(t, s.Submit(context.Background()))
	assert.False(t, s.ShouldAutoSubmit())
	s.Reset()
	assert.True(t, s.ShouldAutoSubmit())
}

func TestSubmitterObserve(t *testing.T) {
	s := NewSubmitter(gatewaytest.NewChainTx(types.StageIn, types.Ethereum, "0x1"), time.Second)
	s.MarkSubmitted()
	s.Observe(types.StatusConfirming)
	assert.True(t, s.State().Waiting)

	s.Observe(types.StatusDone)
	st := s.State()
	assert.False(t, st.Waiting)
	assert.True(t, st.Done)
}

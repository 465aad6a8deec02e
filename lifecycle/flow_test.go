package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorenbridge/config"
	"gorenbridge/gateway"
	"gorenbridge/gateway/gatewaytest"
	"gorenbridge/redis"
	"gorenbridge/tracker"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

const (
	poll       = 5 * time.Millisecond
	owner      = "0x52908400098527886E0F7030069857D2E4169EE7"
	btcAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
)

type write struct {
	hash string
	done bool
}

// recordingStore logs every successful write and fails the first failN calls
type recordingStore struct {
	inner Store
	mu    sync.Mutex
	failN int
	calls []write
}

func (s *recordingStore) PersistLocalTx(address string, tx redis.LocalTx, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("redis unavailable")
	}
	if s.inner != nil {
		if err := s.inner.PersistLocalTx(address, tx, done); err != nil {
			return err
		}
	}
	s.calls = append(s.calls, write{hash: tx.NetworkHash(), done: done})
	return nil
}

func (s *recordingStore) writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.calls...)
}

func btcIntent() types.TransferIntent {
	return types.TransferIntent{TransferParams: types.TransferParams{
		Asset:       types.BTC,
		From:        types.Bitcoin,
		To:          types.Ethereum,
		Amount:      "0.5",
		FromAddress: btcAddress,
		ToAddress:   owner,
	}}
}

func newStore(t *testing.T) *redis.Store {
	mr := miniredis.RunT(t)
	return redis.New(redis.NewPool(mr.Addr(), 0), nil)
}

func newSession(t *testing.T, gw *gatewaytest.Gateway) *gateway.Session {
	s := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{Gateway: gw}, btcIntent())
	require.Nil(t, s.Err())
	return s
}

func waitPhase(t *testing.T, f *Flow, phase Phase) View {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.WaitFor(ctx, func(v View) bool { return v.Phase == phase })
	require.NoError(t, err, "waiting for %s, at %s", phase, v.Phase)
	return v
}

func doneApproval() *gatewaytest.ChainTx {
	tx := gatewaytest.NewChainTx(types.StageApproval, types.Ethereum, "")
	tx.MarkSubmitted("0xapprove")
	tx.SetProgress(gateway.Progress{Status: types.StatusDone, Confirmations: 30, Target: 30})
	return tx
}

func TestFlowMintScenario(t *testing.T) {
	params := btcIntent().TransferParams
	gw := gatewaytest.NewGateway(params, "nethash")
	gw.ApprovalTx = doneApproval()
	gw.NetworkTx.Amount = "0.4985"

	store := newStore(t)
	rec := &recordingStore{inner: store}
	f := New(newSession(t, gw), Options{Owner: owner, Store: rec, PollInterval: poll, SubmitTimeout: time.Second})
	defer f.Close()

	// approval done, lock unsubmitted
	v := waitPhase(t, f, PhaseAwaitingLock)
	in, ok := v.Stage(types.StageIn)
	require.True(t, ok)
	assert.Equal(t, types.NotSubmitted, in.Record.SubmissionStatus)
	assert.NotNil(t, in.Request)
	assert.Empty(t, v.NetworkHash)
	assert.Empty(t, rec.writes())

	// lock submitted, still confirming
	gw.InTx.SetProgress(gateway.Progress{Status: types.StatusConfirming, Confirmations: 1, Target: 6})
	require.NoError(t, f.Submit(context.Background(), types.StageIn))

	require.Eventually(t, func() bool {
		data, err := store.FindLocalTx(owner, "nethash")
		return err == nil && !data.Done
	}, 2*time.Second, poll)
	v = f.View()
	assert.Equal(t, PhaseAwaitingLock, v.Phase)
	assert.Equal(t, "nethash", v.NetworkHash)
	assert.Equal(t, 0, gw.NetworkTx.SubmitCalls())

	// lock reaches its target, the network stage submits itself and attests
	gw.NetworkTx.SetProgress(gateway.Progress{Status: types.StatusDone, Confirmations: 1, Target: 1, Payload: json.RawMessage(`{}`)})
	gw.InTx.SetProgress(gateway.Progress{Status: types.StatusDone, Confirmations: 6, Target: 6})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.WaitFor(ctx, func(v View) bool { return v.Phase == PhaseAwaitingMint && v.MintAmount != nil })
	require.NoError(t, err)
	assert.Equal(t, "0.4985", *v.MintAmount)
	assert.Equal(t, 1, gw.NetworkTx.SubmitCalls())

	// mint
	gw.OutTx.SetProgress(gateway.Progress{Status: types.StatusConfirming, Target: 30, ExplorerURL: "https://etherscan.io/tx/out-nethash"})
	require.NoError(t, f.Submit(context.Background(), types.StageOut))
	v = waitPhase(t, f, PhaseCompleted)
	out, ok := v.Stage(types.StageOut)
	require.True(t, ok)
	assert.Equal(t, "https://etherscan.io/tx/out-nethash", out.Record.ExplorerURL)
	assert.Equal(t, types.Submitted, out.Record.SubmissionStatus)

	require.Eventually(t, func() bool {
		data, err := store.FindLocalTx(owner, "nethash")
		return err == nil && data.Done
	}, 2*time.Second, poll)
	assert.Equal(t, []write{{"nethash", false}, {"nethash", true}}, rec.writes())

	data, err := store.FindLocalTx(owner, "nethash")
	require.NoError(t, err)
	assert.Equal(t, params, data.Params)
	assert.Equal(t, "in-nethash", data.InHash)
}

func TestFlowPhaseNeverMovesBackward(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	f := &Flow{
		session: newSession(t, gw),
		stages:  map[types.Stage]*stageState{},
		logger:  log.WithField("test", t.Name()),
	}
	status := func(s types.ConfirmationStatus) *types.ConfirmationStatus { return &s }
	url := "u"

	f.stages[types.StageApproval] = &stageState{meta: tracker.Meta{Status: status(types.StatusPending)}}
	f.advance()
	assert.Equal(t, PhaseAwaitingApproval, f.phase)

	f.stages[types.StageApproval].meta.Status = status(types.StatusDone)
	f.advance()
	assert.Equal(t, PhaseAwaitingLock, f.phase)

	f.stages[types.StageNetwork] = &stageState{meta: tracker.Meta{Status: status(types.StatusPending)}}
	f.stages[types.StageOut] = &stageState{meta: tracker.Meta{TxURL: &url}}
	f.advance()
	assert.Equal(t, PhaseCompleted, f.phase)

	updates := []func(){
		func() { f.stages[types.StageOut].meta = tracker.Meta{} },
		func() { f.stages[types.StageNetwork].meta = tracker.Meta{} },
		func() { f.stages[types.StageApproval].meta.Status = status(types.StatusConfirming) },
		func() { delete(f.stages, types.StageNetwork) },
	}
	for _, update := range updates {
		update()
		f.advance()
		assert.Equal(t, PhaseCompleted, f.phase)
	}
}

func TestFlowWithoutApprovalStartsAwaitingLock(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	f := New(newSession(t, gw), Options{Owner: owner, PollInterval: poll})
	defer f.Close()

	assert.Equal(t, PhaseAwaitingLock, f.View().Phase)
	_, ok := f.View().Stage(types.StageApproval)
	assert.False(t, ok)
}

func TestFlowPendingApprovalBlocks(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.ApprovalTx = gatewaytest.NewChainTx(types.StageApproval, types.Ethereum, "0xapprove")
	f := New(newSession(t, gw), Options{Owner: owner, PollInterval: poll})
	defer f.Close()

	assert.Equal(t, PhaseAwaitingApproval, f.View().Phase)

	gw.ApprovalTx.SetProgress(gateway.Progress{Status: types.StatusDone, Confirmations: 1, Target: 1})
	require.NoError(t, f.Submit(context.Background(), types.StageApproval))
	waitPhase(t, f, PhaseAwaitingLock)
}

func TestFlowSubmissionErrorIsScopedAndResettable(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.ApprovalTx = doneApproval()
	gw.InTx.SetSubmitErr(errors.New("insufficient funds"))

	f := New(newSession(t, gw), Options{Owner: owner, PollInterval: poll})
	defer f.Close()
	waitPhase(t, f, PhaseAwaitingLock)

	err := f.Submit(context.Background(), types.StageIn)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindSubmission, fe.Kind)
	assert.Equal(t, types.StageIn, fe.Stage)
	assert.True(t, fe.Retryable)

	v, err := f.WaitFor(context.Background(), func(v View) bool {
		in, _ := v.Stage(types.StageIn)
		return in.Error != nil
	})
	require.NoError(t, err)
	in, _ := v.Stage(types.StageIn)
	assert.Equal(t, types.SubmitFailed, in.Record.SubmissionStatus)
	assert.Contains(t, in.Error.Message, "insufficient funds")
	approval, _ := v.Stage(types.StageApproval)
	assert.Nil(t, approval.Error)
	assert.True(t, approval.Done)
	assert.Equal(t, PhaseAwaitingLock, v.Phase)

	require.NoError(t, f.Reset(context.Background(), types.StageIn))
	v, err = f.WaitFor(context.Background(), func(v View) bool {
		in, _ := v.Stage(types.StageIn)
		return in.Error == nil
	})
	require.NoError(t, err)

	gw.InTx.SetSubmitErr(nil)
	require.NoError(t, f.Submit(context.Background(), types.StageIn))
	assert.Equal(t, 2, gw.InTx.SubmitCalls())
}

func TestFlowUnknownStage(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	f := New(newSession(t, gw), Options{Owner: owner, PollInterval: poll})
	defer f.Close()

	err := f.Submit(context.Background(), types.StageOut)
	assert.True(t, errors.Is(err, tracker.ErrNotSubmittable))
	assert.True(t, errors.Is(f.Reset(context.Background(), types.StageApproval), tracker.ErrNotSubmittable))
}

func TestFlowFatalSessionHalts(t *testing.T) {
	intent := btcIntent()
	intent.To = types.Bitcoin
	session := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{}, intent)
	rec := &recordingStore{}

	f := New(session, Options{Owner: owner, Store: rec, PollInterval: poll})
	defer f.Close()

	v := f.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, types.KindValidation, v.Error.Kind)
	assert.Equal(t, PhaseAwaitingApproval, v.Phase)
	assert.Empty(t, v.Stages)

	err := f.Submit(context.Background(), types.StageIn)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.True(t, fe.Fatal())
	assert.Empty(t, rec.writes())
}

func TestFlowPersistRetriesInOrder(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.InTx.MarkSubmitted("in-nethash")
	gw.InTx.SetProgress(gateway.Progress{Status: types.StatusDone, Confirmations: 6, Target: 6})
	gw.NetworkTx.SetProgress(gateway.Progress{Status: types.StatusDone, Target: 1, Payload: json.RawMessage(`{}`)})
	gw.NetworkTx.Amount = "0.49"
	gw.OutTx.MarkSubmitted("out-nethash")
	gw.OutTx.SetProgress(gateway.Progress{Status: types.StatusDone, ExplorerURL: "https://etherscan.io/tx/out-nethash"})

	rec := &recordingStore{failN: 3}
	f := New(newSession(t, gw), Options{Owner: owner, Store: rec, PollInterval: poll})
	defer f.Close()

	waitPhase(t, f, PhaseCompleted)
	require.Eventually(t, func() bool { return len(rec.writes()) == 2 }, 2*time.Second, poll)
	assert.Equal(t, []write{{"nethash", false}, {"nethash", true}}, rec.writes())
}

func TestFlowRecoverTracksWithoutSubmitting(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.ApprovalTx = gatewaytest.NewChainTx(types.StageApproval, types.Ethereum, "")
	gw.InTx.SetProgress(gateway.Progress{Status: types.StatusConfirming, Confirmations: 2, Target: 6})
	gw.NetworkTx.MarkSubmitted("")
	gw.NetworkTx.SetProgress(gateway.Progress{Status: types.StatusConfirming, Target: 1})

	rec := &recordingStore{}
	f := New(newSession(t, gw), Options{Store: rec, PollInterval: poll})
	defer f.Close()
	assert.Equal(t, PhaseAwaitingApproval, f.View().Phase)

	stored := types.LocalTxData{Version: types.LocalTxVersion, Params: btcIntent().TransferParams, InHash: "in-stored"}
	require.NoError(t, f.Recover(context.Background(), owner, "stored-hash", stored))

	v := waitPhase(t, f, PhaseAwaitingMint)
	assert.True(t, v.Recovering)
	assert.Equal(t, "stored-hash", v.NetworkHash)
	in, ok := v.Stage(types.StageIn)
	require.True(t, ok)
	assert.Equal(t, types.Submitted, in.Record.SubmissionStatus)
	assert.Equal(t, "in-stored", in.Record.Hash)

	require.NotEmpty(t, v.Notes)
	assert.Equal(t, "success", v.Notes[len(v.Notes)-1].Level)

	assert.Equal(t, 0, gw.InTx.SubmitCalls())
	assert.Equal(t, 0, gw.NetworkTx.SubmitCalls())
	assert.Equal(t, 0, gw.ApprovalTx.SubmitCalls())

	// the stored record is not rewritten
	time.Sleep(5 * poll)
	assert.Empty(t, rec.writes())

	// recovering twice is a no-op
	require.NoError(t, f.Recover(context.Background(), owner, "stored-hash", stored))
}

func TestFlowRecoverFailureNotifies(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.SetRecoverErr(errors.New("network unreachable"))
	f := New(newSession(t, gw), Options{Owner: owner, PollInterval: poll})
	defer f.Close()

	err := f.Recover(context.Background(), owner, "h", types.LocalTxData{})
	require.Error(t, err)

	v, err := f.WaitFor(context.Background(), func(v View) bool { return len(v.Notes) > 0 })
	require.NoError(t, err)
	assert.Equal(t, "error", v.Notes[0].Level)
	assert.False(t, v.Recovering)
	assert.Nil(t, v.Error)
	require.NotNil(t, v.RecoverError)
	assert.Equal(t, types.KindRecovery, v.RecoverError.Kind)

	// a later attempt succeeds and clears the failure
	gw.SetRecoverErr(nil)
	require.NoError(t, f.Recover(context.Background(), owner, "h", types.LocalTxData{}))
	v, err = f.WaitFor(context.Background(), func(v View) bool { return v.Recovering })
	require.NoError(t, err)
	assert.Nil(t, v.RecoverError)
}

func TestFlowWalletSwitchGate(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.InTx.MarkSubmitted("in-nethash")
	gw.InTx.SetProgress(gateway.Progress{Status: types.StatusDone, Confirmations: 6, Target: 6})
	gw.NetworkTx.SetProgress(gateway.Progress{Status: types.StatusConfirming, Target: 1})

	wallets := wallet.NewStore(types.Bitcoin)
	f := New(newSession(t, gw), Options{Owner: owner, Wallet: wallets, PollInterval: poll})
	defer f.Close()

	v := waitPhase(t, f, PhaseAwaitingMint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.WaitFor(ctx, func(v View) bool { return v.SwitchWallet })
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingMint, v.Phase)

	wallets.Dispatch(wallet.Connect{Chain: types.Ethereum, Address: owner})
	wallets.RequestChainSwitch(types.Ethereum)
	v, err = f.WaitFor(ctx, func(v View) bool { return !v.SwitchWallet })
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingMint, v.Phase)
}

func TestFlowCloseKeepsStore(t *testing.T) {
	gw := gatewaytest.NewGateway(btcIntent().TransferParams, "nethash")
	gw.InTx.MarkSubmitted("in-nethash")

	store := newStore(t)
	f := New(newSession(t, gw), Options{Owner: owner, Store: store, PollInterval: poll})
	require.Eventually(t, func() bool {
		_, err := store.FindLocalTx(owner, "nethash")
		return err == nil
	}, 2*time.Second, poll)

	ch, cancel := f.Subscribe()
	defer cancel()
	f.Close()
	f.Close()

	require.Eventually(t, func() bool {
		select {
		case v := <-ch:
			return v.Closed
		default:
			return false
		}
	}, time.Second, poll)
	assert.True(t, gw.Closed())

	_, err := store.FindLocalTx(owner, "nethash")
	assert.NoError(t, err)
	assert.True(t, errors.Is(f.Submit(context.Background(), types.StageIn), ErrClosed))
}

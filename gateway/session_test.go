package gateway_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorenbridge/config"
	"gorenbridge/gateway"
	"gorenbridge/gateway/gatewaytest"
	"gorenbridge/types"
)

const (
	btcAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	ethAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

func btcToEth() types.TransferIntent {
	return types.TransferIntent{TransferParams: types.TransferParams{
		Asset:       types.BTC,
		From:        types.Bitcoin,
		To:          types.Ethereum,
		Amount:      "0.5",
		FromAddress: btcAddress,
		ToAddress:   ethAddress,
	}}
}

func TestSessionSameChainIsValidationError(t *testing.T) {
	intent := btcToEth()
	intent.To = types.Bitcoin
	sdk := &gatewaytest.SDK{Gateway: gatewaytest.NewGateway(intent.TransferParams, "h")}

	s := gateway.NewSession(context.Background(), config.Defaults(), sdk, intent)
	require.NotNil(t, s.Err())
	assert.Equal(t, types.KindValidation, s.Err().Kind)
	assert.True(t, s.Err().Fatal())
	assert.False(t, s.Err().Retryable)
	assert.Equal(t, 0, sdk.Opened())
	assert.Empty(t, s.Records())
}

func TestSessionMalformedIntent(t *testing.T) {
	cases := map[string]func(i *types.TransferIntent){
		"zero amount":     func(i *types.TransferIntent) { i.Amount = "0" },
		"bad amount":      func(i *types.TransferIntent) { i.Amount = "half" },
		"bad to address":  func(i *types.TransferIntent) { i.ToAddress = "0x1234" },
		"bad btc address": func(i *types.TransferIntent) { i.FromAddress = "not-an-address" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			intent := btcToEth()
			mutate(&intent)
			s := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{}, intent)
			require.NotNil(t, s.Err())
			assert.Equal(t, types.KindValidation, s.Err().Kind)
		})
	}
}

func TestSessionUnsupportedPair(t *testing.T) {
	intent := btcToEth()
	intent.To = types.Zcash
	intent.ToAddress = "t1ZcashAddress"
	s := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{}, intent)
	require.NotNil(t, s.Err())
	assert.Equal(t, types.KindSession, s.Err().Kind)
	assert.False(t, s.Err().Retryable)
	assert.True(t, errors.Is(s.Err(), gateway.ErrUnsupportedPair))
}

func TestSessionUnreachableIsRetryable(t *testing.T) {
	sdk := &gatewaytest.SDK{Err: errors.Wrap(gateway.ErrUnreachable, "Bitcoin")}
	s := gateway.NewSession(context.Background(), config.Defaults(), sdk, btcToEth())
	require.NotNil(t, s.Err())
	assert.Equal(t, types.KindSession, s.Err().Kind)
	assert.True(t, s.Err().Retryable)
}

func TestSessionTransactionAppearsWithInHash(t *testing.T) {
	intent := btcToEth()
	gw := gatewaytest.NewGateway(intent.TransferParams, "nethash")
	s := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{Gateway: gw}, intent)
	require.Nil(t, s.Err())
	assert.True(t, s.Meta.IsMint)

	assert.Nil(t, s.Approval())
	assert.NotNil(t, s.In())
	assert.Nil(t, s.Transaction())

	require.NoError(t, s.In().Submit(context.Background()))
	tx := s.Transaction()
	require.NotNil(t, tx)
	assert.Equal(t, "nethash", tx.NetworkHash())
	assert.Equal(t, "in-nethash", tx.SourceHash())
	assert.Equal(t, intent.TransferParams, tx.TransferParams())

	s.Close()
	assert.True(t, gw.Closed())
}

func TestSessionRecoverSeedsRecords(t *testing.T) {
	intent := btcToEth()
	gw := gatewaytest.NewGateway(intent.TransferParams, "nethash")
	s := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{Gateway: gw}, intent)
	require.Nil(t, s.Err())

	tx, err := s.Recover(context.Background(), "stored-hash", types.LocalTxData{Params: intent.TransferParams, InHash: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "stored-hash", tx.NetworkHash())
	assert.Same(t, tx, s.Transaction())

	records := s.Records()
	require.Len(t, records, 3)
	for i, stage := range []types.Stage{types.StageIn, types.StageNetwork, types.StageOut} {
		assert.Equal(t, stage, records[i].Stage)
		assert.Equal(t, types.Submitted, records[i].SubmissionStatus)
	}
}

func TestSessionRecoverFailure(t *testing.T) {
	intent := btcToEth()
	gw := gatewaytest.NewGateway(intent.TransferParams, "nethash")
	gw.SetRecoverErr(errors.New("network down"))
	s := gateway.NewSession(context.Background(), config.Defaults(), &gatewaytest.SDK{Gateway: gw}, intent)

	_, err := s.Recover(context.Background(), "h", types.LocalTxData{})
	assert.Error(t, err)
	assert.Nil(t, s.Transaction())
	assert.Empty(t, s.Records())
}

func TestUpdateRecordKeepsStageOrder(t *testing.T) {
	intent := btcToEth()
	s := gateway.NewSession(context.Background(), config.Defaults(),
		&gatewaytest.SDK{Gateway: gatewaytest.NewGateway(intent.TransferParams, "h")}, intent)

	s.UpdateRecord(types.StageOut, func(r *types.ChainTransactionRecord) { r.Hash = "out" })
	s.UpdateRecord(types.StageIn, func(r *types.ChainTransactionRecord) {
		r.SubmissionStatus = types.Submitted
		r.Confirmations = 2
	})

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, types.StageIn, records[0].Stage)
	assert.Equal(t, 2, records[0].Confirmations)
	assert.Equal(t, types.StageOut, records[1].Stage)
	assert.Equal(t, types.NotSubmitted, records[1].SubmissionStatus)
	assert.Equal(t, types.StatusPending, records[1].ConfirmationStatus)
}

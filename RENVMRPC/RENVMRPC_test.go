package RENVMRPC

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorenbridge/types"
)

const doneResponse = `{"tx":{"hash":"nethash","version":"1","selector":"BTC/toEthereum","in":{"txid":"lock-txid","txindex":"0","amount":"50000000","to":"0x00000000000000000000000000000000000000aa","nhash":"nh"},"out":{"amount":"49850000","sig":"0xsig","sighash":"0xsighash","nhash":"nh","phash":"ph"}},"txStatus":"done"}`

type received struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func network(got *[]received) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req received
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*got = append(*got, req)

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case methodSubmitTx:
			w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":{}}`))
		case methodQueryTx:
			var params struct {
				TxHash string `json:"txHash"`
			}
			json.Unmarshal(req.Params, &params)
			switch params.TxHash {
			case "nethash":
				w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":` + doneResponse + `}`))
			case "missing":
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"jsonrpc":"2.0","id":0,"error":{"code":-32602,"message":"tx not found"}}`))
			default:
				w.Write([]byte(`{"jsonrpc":"2.0","id":0,"error":{"code":-32603,"message":"internal"}}`))
			}
		}
	}))
}

func TestQueryTx(t *testing.T) {
	var got []received
	srv := network(&got)
	defer srv.Close()
	c := New(srv.URL)

	resp, raw, err := c.QueryTx(context.Background(), "nethash")
	require.NoError(t, err)
	assert.Equal(t, "lock-txid", resp.Tx.In.Txid)
	assert.Equal(t, types.StatusDone, StatusOf(resp.TxStatus))

	decoded, err := DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "49850000", decoded.Amount.String())
	assert.Equal(t, "0xsig", decoded.Sig)
	assert.Equal(t, "ph", decoded.Phash)

	_, _, err = c.QueryTx(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTxNotFound)

	_, _, err = c.QueryTx(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTxNotFound)
}

func TestSubmitTx(t *testing.T) {
	var got []received
	srv := network(&got)
	defer srv.Close()
	c := New(srv.URL)

	tx := Tx{Hash: "nethash", Version: "1", Selector: Selector(types.BTC, types.Bitcoin, types.Ethereum, false), In: TxInput{Txid: "lock-txid"}}
	require.NoError(t, c.SubmitTx(context.Background(), tx))
	require.Len(t, got, 1)
	assert.Equal(t, methodSubmitTx, got[0].Method)

	var params struct {
		Tx Tx `json:"tx"`
	}
	require.NoError(t, json.Unmarshal(got[0].Params, &params))
	assert.Equal(t, tx, params.Tx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.SubmitTx(ctx, tx), context.Canceled)
	assert.Len(t, got, 1)
}

func TestDecodeResponse(t *testing.T) {
	_, err := DecodeResponse(json.RawMessage(`{"tx":{"hash":"h"},"txStatus":"pending"}`))
	assert.Error(t, err)

	decoded, err := DecodeResponse(json.RawMessage(`{"tx":{"out":{"revert":"insufficient amount"}},"txStatus":"reverted"}`))
	require.NoError(t, err)
	assert.Equal(t, "insufficient amount", decoded.Revert)
	assert.Nil(t, decoded.Amount)

	_, err = DecodeResponse(json.RawMessage(`{"tx":{"out":{"amount":"1.5"}}}`))
	assert.Error(t, err)
}

func TestSelectorAndStatus(t *testing.T) {
	assert.Equal(t, "BTC/toEthereum", Selector(types.BTC, types.Bitcoin, types.Ethereum, false))
	assert.Equal(t, "BTC/fromPolygon", Selector(types.BTC, types.Polygon, types.Bitcoin, true))

	assert.Equal(t, types.StatusConfirming, StatusOf(TxStatusExecuting))
	assert.Equal(t, types.StatusReverted, StatusOf(TxStatusReverted))
	assert.Equal(t, types.StatusPending, StatusOf(TxStatusNil))
	assert.Equal(t, types.StatusPending, StatusOf("unknown"))
}

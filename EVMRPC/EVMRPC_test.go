package EVMRPC

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorenbridge/config"
	"gorenbridge/types"
)

type jsonrpcMessage struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
}

func receipt(t *testing.T, status uint64, block int64) json.RawMessage {
	r := &ethtypes.Receipt{
		Status:            status,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		Logs:              []*ethtypes.Log{},
		TxHash:            common.HexToHash("0x01"),
		BlockNumber:       big.NewInt(block),
	}
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	return raw
}

// node serves eth_blockNumber and eth_getTransactionReceipt from receipts
func node(receipts map[string]json.RawMessage) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := jsonrpcMessage{Version: "2.0", ID: req.ID}
		switch req.Method {
		case "eth_blockNumber":
			resp.Result = json.RawMessage(`"0x64"`)
		case "eth_getTransactionReceipt":
			var hash string
			json.Unmarshal(req.Params[0], &hash)
			if rec, ok := receipts[strings.ToLower(hash)]; ok {
				resp.Result = rec
			} else {
				resp.Result = json.RawMessage(`null`)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newClient(urls ...string) *Client {
	cfg := config.Defaults()
	eth := cfg.Chains[types.Ethereum]
	eth.RPCList = urls
	cfg.Chains[types.Ethereum] = eth
	return New(cfg)
}

func TestBlockNumberFailover(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := node(nil)
	defer up.Close()

	n, err := newClient(down.URL, up.URL).BlockNumber(context.Background(), types.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)

	_, err = newClient(down.URL).BlockNumber(context.Background(), types.Ethereum)
	assert.Error(t, err)

	_, err = newClient().BlockNumber(context.Background(), types.Ethereum)
	assert.ErrorIs(t, err, ErrNoRPCEndpoint)
}

func TestConfirmations(t *testing.T) {
	mined := common.HexToHash("0xaa").Hex()
	failed := common.HexToHash("0xbb").Hex()
	srv := node(map[string]json.RawMessage{
		strings.ToLower(mined):  receipt(t, ethtypes.ReceiptStatusSuccessful, 90),
		strings.ToLower(failed): receipt(t, ethtypes.ReceiptStatusFailed, 95),
	})
	defer srv.Close()
	c := newClient(srv.URL)

	confirmations, found, err := c.Confirmations(context.Background(), types.Ethereum, mined)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 11, confirmations)

	confirmations, found, err = c.Confirmations(context.Background(), types.Ethereum, common.HexToHash("0xcc").Hex())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, confirmations)

	_, found, err = c.Confirmations(context.Background(), types.Ethereum, failed)
	assert.ErrorIs(t, err, ErrReverted)
	assert.True(t, found)

	_, _, err = c.Confirmations(context.Background(), types.Bitcoin, mined)
	assert.ErrorIs(t, err, ErrUnknownChain)
}

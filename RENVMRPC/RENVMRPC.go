package RENVMRPC

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/ybbus/jsonrpc"

	"gorenbridge/types"
)

const (
	methodSubmitTx = "ren_submitTx"
	methodQueryTx  = "ren_queryTx"

	// the network answers unknown hashes with an invalid-params error
	rpcInvalidParams = -32602
)

// network tx statuses
const (
	TxStatusNil        = "nil"
	TxStatusConfirming = "confirming"
	TxStatusPending    = "pending"
	TxStatusExecuting  = "executing"
	TxStatusReverted   = "reverted"
	TxStatusDone       = "done"
)

var ErrTxNotFound = errors.New("network transaction not found")

type TxInput struct {
	Txid    string `json:"txid"`
	Txindex string `json:"txindex"`
	Amount  string `json:"amount"`
	Payload string `json:"payload"`
	Phash   string `json:"phash"`
	To      string `json:"to"`
	Nonce   string `json:"nonce"`
	Nhash   string `json:"nhash"`
}

type TxOutput struct {
	Amount  string `json:"amount"`
	Sig     string `json:"sig"`
	Sighash string `json:"sighash"`
	Nhash   string `json:"nhash"`
	Phash   string `json:"phash"`
	// set by releases, the native chain tx broadcast by the network
	Txid   string `json:"txid"`
	Revert string `json:"revert"`
}

type Tx struct {
	Hash     string    `json:"hash"`
	Version  string    `json:"version"`
	Selector string    `json:"selector"`
	In       TxInput   `json:"in"`
	Out      *TxOutput `json:"out,omitempty"`
}

type QueryTxResponse struct {
	Tx       Tx     `json:"tx"`
	TxStatus string `json:"txStatus"`
}

type Client struct {
	rpc jsonrpc.RPCClient
}

func New(url string) *Client {
	return &Client{
		rpc: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		}),
	}
}

// Selector names the network contract handling asset from -> to
func Selector(asset types.Asset, from, to types.Chain, release bool) string {
	if release {
		return string(asset) + "/from" + string(from)
	}
	return string(asset) + "/to" + string(to)
}

func (c *Client) SubmitTx(ctx context.Context, tx Tx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ignored json.RawMessage
	err := c.rpc.CallFor(&ignored, methodSubmitTx, map[string]interface{}{"tx": tx})
	return errors.Wrapf(err, "cannot submit %s", tx.Hash)
}

// QueryTx returns the network state of hash together with the raw response.
func (c *Client) QueryTx(ctx context.Context, hash string) (*QueryTxResponse, json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	resp, err := c.rpc.Call(methodQueryTx, map[string]interface{}{"txHash": hash})
	// the RPC error is checked first, it may come with an HTTP error status
	if resp != nil && resp.Error != nil {
		if resp.Error.Code == rpcInvalidParams || strings.Contains(strings.ToLower(resp.Error.Message), "not found") {
			return nil, nil, errors.Wrapf(ErrTxNotFound, "%s", hash)
		}
		return nil, nil, errors.Wrapf(resp.Error, "cannot query %s", hash)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot query %s", hash)
	}
	if resp == nil {
		return nil, nil, errors.Errorf("empty response to query %s", hash)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot re-encode network response")
	}
	var out QueryTxResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, errors.Wrap(err, "cannot decode network response")
	}
	return &out, raw, nil
}

// StatusOf maps a network tx status onto chain confirmation statuses
func StatusOf(txStatus string) types.ConfirmationStatus {
	switch txStatus {
	case TxStatusDone:
		return types.StatusDone
	case TxStatusReverted:
		return types.StatusReverted
	case TxStatusConfirming, TxStatusExecuting:
		return types.StatusConfirming
	default:
		return types.StatusPending
	}
}

// Decoded is the signed response of the network once a tx is done
type Decoded struct {
	Amount *big.Int // base units, after the network fee
	Sig    string
	Phash  string
	Nhash  string
	Txid   string
	Revert string
}

// DecodeResponse extracts the signed output of a raw ren_queryTx response.
func DecodeResponse(raw json.RawMessage) (*Decoded, error) {
	var resp QueryTxResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "cannot decode network response")
	}
	if resp.Tx.Out == nil {
		return nil, errors.New("network response has no output yet")
	}
	out := resp.Tx.Out
	if out.Revert != "" {
		return &Decoded{Revert: out.Revert}, nil
	}
	amount, ok := new(big.Int).SetString(out.Amount, 10)
	if !ok {
		return nil, errors.Errorf("malformed output amount %q", out.Amount)
	}
	return &Decoded{Amount: amount, Sig: out.Sig, Phash: out.Phash, Nhash: out.Nhash, Txid: out.Txid}, nil
}

package UTXORPC

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"gorenbridge/config"
	"gorenbridge/types"
)

// bitcoind RPC_INVALID_ADDRESS_OR_KEY, returned for unknown txids
const rpcNotFound = -5

var ErrUnknownChain = errors.New("chain is not configured as UTXO")

// Client talks to Bitcoin-family nodes (bitcoind, bitcoin-cash-node, zcashd, ...)
type Client struct {
	cfg        *config.Configuration
	httpClient *http.Client
}

func New(cfg *config.Configuration) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) withClient(ctx context.Context, chain types.Chain, f func(rpc jsonrpc.RPCClient) error) error {
	cc, ok := c.cfg.Chain(chain)
	if !ok || cc.Family != types.FamilyUTXO {
		return errors.Wrapf(ErrUnknownChain, "%s", chain)
	}

	headers := map[string]string{}
	if cc.RPCUser != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(cc.RPCUser + ":" + cc.RPCPassword))
		headers["Authorization"] = "Basic " + auth
	}

	err := errors.New("no RPC endpoint configured")
	for _, url := range cc.RPCList {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rpc := jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient:    c.httpClient,
			CustomHeaders: headers,
		})
		err = f(rpc)
		if err == nil || isNotFound(err) {
			return err
		}
		log.Printf("Error calling %s node %s: %s", chain, url, err.Error())
	}
	return err
}

// callFor is rpc.CallFor, except that an RPC error wins over the HTTP status
// bitcoind answers it with.
func callFor(rpc jsonrpc.RPCClient, out interface{}, method string, params ...interface{}) error {
	resp, err := rpc.Call(method, params...)
	if resp != nil && resp.Error != nil {
		return resp.Error
	}
	if err != nil {
		return err
	}
	if resp == nil {
		return errors.Errorf("empty response to %s", method)
	}
	return resp.GetObject(out)
}

func isNotFound(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == rpcNotFound
}

func (c *Client) BlockCount(ctx context.Context, chain types.Chain) (int64, error) {
	var count int64
	err := c.withClient(ctx, chain, func(rpc jsonrpc.RPCClient) error {
		return callFor(rpc, &count, "getblockcount")
	})
	return count, err
}

type rawTransaction struct {
	Txid          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	Blockhash     string `json:"blockhash"`
}

// Confirmations of txid. found is false while the node has not seen it.
func (c *Client) Confirmations(ctx context.Context, chain types.Chain, txid string) (confirmations int, found bool, err error) {
	var tx rawTransaction
	err = c.withClient(ctx, chain, func(rpc jsonrpc.RPCClient) error {
		return callFor(rpc, &tx, "getrawtransaction", txid, true)
	})
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return tx.Confirmations, true, nil
}

// SendRawTransaction broadcasts a hex-encoded signed transaction and returns its txid
func (c *Client) SendRawTransaction(ctx context.Context, chain types.Chain, rawHex string) (string, error) {
	var txid string
	err := c.withClient(ctx, chain, func(rpc jsonrpc.RPCClient) error {
		return callFor(rpc, &txid, "sendrawtransaction", rawHex)
	})
	return txid, err
}

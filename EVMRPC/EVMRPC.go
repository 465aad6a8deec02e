package EVMRPC

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/config"
	"gorenbridge/types"
)

var (
	ErrReverted      = errors.New("transaction reverted")
	ErrUnknownChain  = errors.New("chain is not configured as EVM")
	ErrNoRPCEndpoint = errors.New("no RPC endpoint configured")
)

// WithClient calls f against every RPC of the list until one succeeds.
func WithClient[T any](ctx context.Context, rpcList []string, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	err = ErrNoRPCEndpoint
	var client *ethclient.Client
	for _, url := range rpcList {
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			log.Printf("Error connecting to %s: %s", url, err.Error())
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		// not found is an answer, not an endpoint failure
		if errors.Is(err, ethereum.NotFound) {
			return
		}
		log.Printf("Error calling %s: %s", url, err.Error())
	}
	return
}

type Client struct {
	cfg *config.Configuration
}

func New(cfg *config.Configuration) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) rpcList(chain types.Chain) ([]string, error) {
	cc, ok := c.cfg.Chain(chain)
	if !ok || cc.Family != types.FamilyEVM {
		return nil, errors.Wrapf(ErrUnknownChain, "%s", chain)
	}
	return cc.RPCList, nil
}

func (c *Client) BlockNumber(ctx context.Context, chain types.Chain) (uint64, error) {
	rpcList, err := c.rpcList(chain)
	if err != nil {
		return 0, err
	}
	return WithClient(ctx, rpcList, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

// Confirmations returns how deep hash is buried. found is false while the
// transaction has no receipt yet.
func (c *Client) Confirmations(ctx context.Context, chain types.Chain, hash string) (confirmations int, found bool, err error) {
	rpcList, err := c.rpcList(chain)
	if err != nil {
		return 0, false, err
	}

	receipt, err := WithClient(ctx, rpcList, func(client *ethclient.Client) (*ethtypes.Receipt, error) {
		return client.TransactionReceipt(ctx, common.HexToHash(hash))
	})
	if errors.Is(err, ethereum.NotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return 0, true, errors.Wrapf(ErrReverted, "%s on %s", hash, chain)
	}

	latest, err := c.BlockNumber(ctx, chain)
	if err != nil {
		return 0, true, err
	}
	if receipt.BlockNumber == nil || latest < receipt.BlockNumber.Uint64() {
		return 0, true, nil
	}
	return int(latest-receipt.BlockNumber.Uint64()) + 1, true, nil
}

// SendRawTransaction broadcasts a transaction signed by the user's wallet.
func (c *Client) SendRawTransaction(ctx context.Context, chain types.Chain, raw []byte) (string, error) {
	rpcList, err := c.rpcList(chain)
	if err != nil {
		return "", err
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", errors.Wrap(err, "cannot decode signed transaction")
	}

	_, err = WithClient(ctx, rpcList, func(client *ethclient.Client) (struct{}, error) {
		return struct{}{}, client.SendTransaction(ctx, tx)
	})
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// DecodeSigned returns the recipient contract and call data of a signed transaction
func DecodeSigned(raw []byte) (to *common.Address, data []byte, err error) {
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, nil, errors.Wrap(err, "cannot decode signed transaction")
	}
	return tx.To(), tx.Data(), nil
}

package sdk

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/RENVMRPC"
	"gorenbridge/config"
	"gorenbridge/gateway"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

type EVMClient interface {
	BlockNumber(ctx context.Context, chain types.Chain) (uint64, error)
	Confirmations(ctx context.Context, chain types.Chain, hash string) (int, bool, error)
}

type UTXOClient interface {
	BlockCount(ctx context.Context, chain types.Chain) (int64, error)
	Confirmations(ctx context.Context, chain types.Chain, txid string) (int, bool, error)
}

type NetworkClient interface {
	SubmitTx(ctx context.Context, tx RENVMRPC.Tx) error
	QueryTx(ctx context.Context, hash string) (*RENVMRPC.QueryTxResponse, json.RawMessage, error)
}

// SDK opens gateways over the chain RPC clients, the bridging network and
// the wallet provider.
type SDK struct {
	cfg      *config.Configuration
	evm      EVMClient
	utxo     UTXOClient
	network  NetworkClient
	provider wallet.Provider
}

func New(cfg *config.Configuration, evm EVMClient, utxo UTXOClient, network NetworkClient, provider wallet.Provider) *SDK {
	return &SDK{cfg: cfg, evm: evm, utxo: utxo, network: network, provider: provider}
}

func (s *SDK) family(chain types.Chain) types.ChainFamily {
	cc, _ := s.cfg.Chain(chain)
	return cc.Family
}

func (s *SDK) confirmations(ctx context.Context, family types.ChainFamily, chain types.Chain, hash string) (int, bool, error) {
	switch family {
	case types.FamilyEVM:
		return s.evm.Confirmations(ctx, chain, hash)
	case types.FamilyUTXO:
		return s.utxo.Confirmations(ctx, chain, hash)
	}
	return 0, false, errors.Errorf("unknown family of chain %s", chain)
}

// ping checks that chain answers
func (s *SDK) ping(ctx context.Context, chain types.Chain) error {
	switch s.family(chain) {
	case types.FamilyEVM:
		_, err := s.evm.BlockNumber(ctx, chain)
		return err
	case types.FamilyUTXO:
		_, err := s.utxo.BlockCount(ctx, chain)
		return err
	}
	return errors.Errorf("chain %s is not configured", chain)
}

func (s *SDK) Open(ctx context.Context, intent types.TransferIntent) (gateway.Gateway, error) {
	p := intent.TransferParams
	meta, err := gateway.ResolveMeta(s.cfg, p.Asset, p.From, p.To)
	if err != nil {
		return nil, err
	}
	ac, _ := s.cfg.Asset(p.Asset)

	if err := s.ping(ctx, p.From); err != nil {
		return nil, errors.Wrapf(gateway.ErrUnreachable, "%s: %s", p.From, err.Error())
	}

	decimals, ok := s.cfg.Decimals(p.Asset, p.From)
	if !ok {
		return nil, errors.Wrapf(gateway.ErrUnsupportedPair, "no decimals for %s on %s", p.Asset, p.From)
	}
	amount, ok := types.ToBaseUnits(p.Amount, decimals)
	if !ok {
		return nil, types.NewValidationError("amount", "amount is not a decimal number")
	}

	g := &Gateway{sdk: s, params: p, meta: meta, asset: ac, amount: amount}
	if err := g.setup(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"module": "sdk", "asset": p.Asset, "from": p.From, "to": p.To, "amount": amount.String()}).Info("gateway opened")
	return g, nil
}

// Gateway builds the chain transactions of one transfer.
type Gateway struct {
	sdk    *SDK
	params types.TransferParams
	meta   gateway.Meta
	asset  config.AssetConfig
	amount *big.Int // base units on the source chain

	approval *chainTx
	in       *chainTx

	mu sync.Mutex
	tx *gateway.Transaction
}

func (g *Gateway) setup() error {
	p := g.params
	s := g.sdk
	contract := g.asset.Gateways[p.From]
	if contract == "" {
		return errors.Wrapf(gateway.ErrUnsupportedPair, "no %s gateway on %s", p.Asset, p.From)
	}

	switch s.family(p.From) {
	case types.FamilyEVM:
		token := g.asset.Tokens[p.From]
		if p.From == g.asset.LockChain && token != "" {
			g.approval = newChainTx(s, types.StageApproval, p.From, func() (*wallet.TxRequest, error) {
				data, err := approveCall(contract, g.amount)
				if err != nil {
					return nil, err
				}
				return &wallet.TxRequest{To: token, Data: data, Value: "0"}, nil
			})
		}
		g.in = newChainTx(s, types.StageIn, p.From, func() (*wallet.TxRequest, error) {
			if p.From == g.asset.LockChain {
				data, err := lockCall(p.ToAddress, string(p.To), g.amount)
				if err != nil {
					return nil, err
				}
				value := "0"
				if token == "" {
					value = g.amount.String()
				}
				return &wallet.TxRequest{To: contract, Data: data, Value: value}, nil
			}
			data, err := burnCall(p.ToAddress, g.amount)
			if err != nil {
				return nil, err
			}
			return &wallet.TxRequest{To: contract, Data: data, Value: "0"}, nil
		})
	case types.FamilyUTXO:
		// deposit to the gateway address
		g.in = newChainTx(s, types.StageIn, p.From, func() (*wallet.TxRequest, error) {
			return &wallet.TxRequest{To: contract, Value: g.amount.String()}, nil
		})
	default:
		return errors.Wrapf(gateway.ErrUnsupportedPair, "chain %s is not configured", p.From)
	}

	g.in.amount = func() string { return p.Amount }
	return nil
}

func (g *Gateway) Params() types.TransferParams { return g.params }

func (g *Gateway) Approval() gateway.ChainTx {
	if g.approval == nil {
		return nil
	}
	return g.approval
}

func (g *Gateway) In() gateway.ChainTx { return g.in }

func (g *Gateway) Transaction() *gateway.Transaction {
	inHash := g.in.Hash()
	if inHash == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tx == nil {
		g.tx, _ = g.build(NetworkHash(g.params, inHash), inHash)
	}
	return g.tx
}

func (g *Gateway) build(hash, inHash string) (*gateway.Transaction, *networkTx) {
	p := g.params
	s := g.sdk
	decimals, ok := s.cfg.Decimals(p.Asset, p.To)
	if !ok {
		decimals, _ = s.cfg.Decimals(p.Asset, g.asset.LockChain)
	}

	n := &networkTx{
		sdk:      s,
		hash:     hash,
		decimals: decimals,
		tx: RENVMRPC.Tx{
			Hash:     hash,
			Version:  "1",
			Selector: RENVMRPC.Selector(p.Asset, p.From, p.To, g.meta.IsRelease),
			In: RENVMRPC.TxInput{
				Txid:    inHash,
				Txindex: "0",
				Amount:  g.amount.String(),
				To:      p.ToAddress,
				Nhash:   hash,
			},
		},
	}

	outAmount := func() string {
		d := n.output()
		if d == nil || d.Amount == nil {
			return ""
		}
		return types.FromBaseUnits(d.Amount, decimals)
	}

	var out gateway.ChainTx
	if s.family(p.To) == types.FamilyUTXO {
		release := &releaseTx{
			chainTx: newChainTx(s, types.StageOut, p.To, func() (*wallet.TxRequest, error) {
				return nil, errors.New("releases are broadcast by the network")
			}),
			network: n,
		}
		release.amount = outAmount
		out = release
	} else {
		contract := g.asset.Gateways[p.To]
		mint := newChainTx(s, types.StageOut, p.To, func() (*wallet.TxRequest, error) {
			d := n.output()
			if d == nil {
				return nil, errors.New("network signature not available yet")
			}
			if d.Revert != "" {
				return nil, errors.Errorf("network reverted: %s", d.Revert)
			}
			data, err := mintCall(g.meta.IsRelease, d.Phash, d.Nhash, d.Amount, d.Sig)
			if err != nil {
				return nil, err
			}
			return &wallet.TxRequest{To: contract, Data: data, Value: "0"}, nil
		})
		mint.amount = outAmount
		out = mint
	}

	return &gateway.Transaction{
		Hash:    hash,
		Params:  p,
		InHash:  inHash,
		In:      g.in,
		Network: n,
		Out:     out,
	}, n
}

// Recover rebuilds the transaction of hash. The lock hash comes from the
// network, or from the stored record when the network does not know hash yet.
func (g *Gateway) Recover(ctx context.Context, hash string, stored types.LocalTxData) (*gateway.Transaction, error) {
	inHash := stored.InHash
	known := false

	resp, _, err := g.sdk.network.QueryTx(ctx, hash)
	switch {
	case err == nil:
		known = true
		if resp.Tx.In.Txid != "" {
			inHash = resp.Tx.In.Txid
		}
	case errors.Is(err, RENVMRPC.ErrTxNotFound):
	default:
		return nil, errors.Wrapf(gateway.ErrUnreachable, "network: %s", err.Error())
	}
	if inHash == "" {
		return nil, errors.Errorf("transaction %s is unknown to the network and has no lock hash", hash)
	}

	g.in.setHash(inHash)
	tx, n := g.build(hash, inHash)
	if known {
		n.markSubmitted()
	}

	g.mu.Lock()
	g.tx = tx
	g.mu.Unlock()
	return tx, nil
}

func (g *Gateway) Close() {
	log.WithFields(log.Fields{"module": "sdk", "asset": g.params.Asset, "from": g.params.From, "to": g.params.To}).Debug("gateway closed")
}

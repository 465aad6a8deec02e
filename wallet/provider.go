package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/EVMRPC"
	"gorenbridge/types"
)

var (
	ErrNotSigned = errors.New("wallet has not signed the transaction")
	ErrMismatch  = errors.New("signed transaction does not match the request")
)

// TxRequest is an unsigned transaction the user's wallet has to sign.
type TxRequest struct {
	ID     string            `json:"id"`
	Chain  types.Chain       `json:"chain"`
	Family types.ChainFamily `json:"family"`
	To     string            `json:"to"`
	Data   string            `json:"data,omitempty"` // 0x-hex call data, EVM only
	Value  string            `json:"value"`          // base units
}

// Provider signs and broadcasts a request on behalf of the user.
type Provider interface {
	SendTransaction(ctx context.Context, req *TxRequest) (string, error)
}

type EVMBroadcaster interface {
	SendRawTransaction(ctx context.Context, chain types.Chain, raw []byte) (string, error)
}

type UTXOBroadcaster interface {
	SendRawTransaction(ctx context.Context, chain types.Chain, rawHex string) (string, error)
}

type signature struct {
	raw      []byte
	rejected string
}

// RelayProvider holds no keys: the browser wallet signs the request and
// posts the raw transaction (or the user's rejection), the relay checks it
// and broadcasts it.
type RelayProvider struct {
	evm  EVMBroadcaster
	utxo UTXOBroadcaster

	mu     sync.Mutex
	signed map[string]signature
}

func NewRelayProvider(evm EVMBroadcaster, utxo UTXOBroadcaster) *RelayProvider {
	return &RelayProvider{evm: evm, utxo: utxo, signed: map[string]signature{}}
}

// Provide stores the signed raw transaction for request id
func (p *RelayProvider) Provide(id string, raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signed[id] = signature{raw: raw}
}

// Reject records that the user declined to sign request id
func (p *RelayProvider) Reject(id, reason string) {
	if reason == "" {
		reason = "user rejected the request"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signed[id] = signature{rejected: reason}
}

func (p *RelayProvider) take(id string) (signature, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sig, ok := p.signed[id]
	delete(p.signed, id)
	return sig, ok
}

func (p *RelayProvider) SendTransaction(ctx context.Context, req *TxRequest) (string, error) {
	sig, ok := p.take(req.ID)
	if !ok {
		return "", errors.Wrapf(ErrNotSigned, "request %s", req.ID)
	}
	if sig.rejected != "" {
		return "", errors.New(sig.rejected)
	}

	switch req.Family {
	case types.FamilyEVM:
		to, data, err := EVMRPC.DecodeSigned(sig.raw)
		if err != nil {
			return "", err
		}
		if to == nil || !strings.EqualFold(to.Hex(), req.To) {
			return "", errors.Wrap(ErrMismatch, "recipient differs")
		}
		if req.Data != "" && !strings.EqualFold(hexutil.Encode(data), req.Data) {
			return "", errors.Wrap(ErrMismatch, "call data differs")
		}
		hash, err := p.evm.SendRawTransaction(ctx, req.Chain, sig.raw)
		if err != nil {
			return "", err
		}
		log.WithFields(log.Fields{"module": "wallet", "chain": req.Chain, "hash": hash}).Info("broadcast signed transaction")
		return hash, nil
	case types.FamilyUTXO:
		txid, err := p.utxo.SendRawTransaction(ctx, req.Chain, hex.EncodeToString(sig.raw))
		if err != nil {
			return "", err
		}
		log.WithFields(log.Fields{"module": "wallet", "chain": req.Chain, "txid": txid}).Info("broadcast signed transaction")
		return txid, nil
	default:
		return "", errors.Errorf("unsupported chain family %q", req.Family)
	}
}

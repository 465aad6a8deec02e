package sdk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"gorenbridge/RENVMRPC"
	"gorenbridge/gateway"
	"gorenbridge/types"
)

// NetworkHash derives the network transaction hash of a transfer from its
// lock-stage hash.
func NetworkHash(p types.TransferParams, inHash string) string {
	payload := strings.Join([]string{string(p.Asset), string(p.From), string(p.To), inHash, p.ToAddress}, "|")
	return base64.RawURLEncoding.EncodeToString(crypto.Keccak256([]byte(payload)))
}

// networkTx is the attestation of the transfer by the bridging network.
type networkTx struct {
	sdk      *SDK
	hash     string
	tx       RENVMRPC.Tx
	decimals int

	mu        sync.Mutex
	submitted bool
	decoded   *RENVMRPC.Decoded
}

func (t *networkTx) ID() string         { return "network:" + t.hash }
func (t *networkTx) Stage() types.Stage { return types.StageNetwork }
func (t *networkTx) Chain() types.Chain { return "" }
func (t *networkTx) Hash() string       { return t.hash }

func (t *networkTx) Submittable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.submitted
}

func (t *networkTx) markSubmitted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted = true
}

func (t *networkTx) Submit(ctx context.Context) error {
	if err := t.sdk.network.SubmitTx(ctx, t.tx); err != nil {
		return err
	}
	t.markSubmitted()
	return nil
}

func (t *networkTx) Progress(ctx context.Context) (*gateway.Progress, error) {
	p := &gateway.Progress{
		Status:      types.StatusPending,
		Target:      1,
		Hash:        t.hash,
		ExplorerURL: t.sdk.cfg.NetworkTxURL(t.hash),
	}

	resp, raw, err := t.sdk.network.QueryTx(ctx, t.hash)
	if errors.Is(err, RENVMRPC.ErrTxNotFound) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	p.Status = RENVMRPC.StatusOf(resp.TxStatus)
	p.Payload = raw
	if p.Status == types.StatusDone {
		p.Confirmations = 1
		if decoded, err := RENVMRPC.DecodeResponse(raw); err == nil {
			t.mu.Lock()
			t.decoded = decoded
			t.mu.Unlock()
		}
	}
	return p, nil
}

// DecodeOutput returns the amount received after the network fee
func (t *networkTx) DecodeOutput(payload json.RawMessage) (string, error) {
	decoded, err := RENVMRPC.DecodeResponse(payload)
	if err != nil {
		return "", err
	}
	if decoded.Revert != "" {
		return "", errors.Errorf("network reverted: %s", decoded.Revert)
	}
	return types.FromBaseUnits(decoded.Amount, t.decimals), nil
}

func (t *networkTx) output() *RENVMRPC.Decoded {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decoded
}

package sdk

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gorenbridge/EVMRPC"
	"gorenbridge/gateway"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

// requestFunc builds the wallet request lazily, the mint call needs the
// network signature first.
type requestFunc func() (*wallet.TxRequest, error)

// chainTx is a transaction the user's wallet signs on an EVM or UTXO chain.
type chainTx struct {
	id      string
	stage   types.Stage
	chain   types.Chain
	family  types.ChainFamily
	target  int
	sdk     *SDK
	request requestFunc
	amount  func() string

	mu   sync.Mutex
	hash string
}

func newChainTx(s *SDK, stage types.Stage, chain types.Chain, request requestFunc) *chainTx {
	cc, _ := s.cfg.Chain(chain)
	return &chainTx{
		id:      uuid.NewString(),
		stage:   stage,
		chain:   chain,
		family:  cc.Family,
		target:  cc.Confirmations,
		sdk:     s,
		request: request,
	}
}

func (t *chainTx) ID() string         { return t.id }
func (t *chainTx) Stage() types.Stage { return t.stage }
func (t *chainTx) Chain() types.Chain { return t.chain }

func (t *chainTx) Hash() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hash
}

func (t *chainTx) setHash(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hash = hash
}

func (t *chainTx) Submittable() bool {
	return t.Hash() == ""
}

func (t *chainTx) Request() (*wallet.TxRequest, error) {
	req, err := t.request()
	if err != nil {
		return nil, err
	}
	req.ID = t.id
	req.Chain = t.chain
	req.Family = t.family
	return req, nil
}

func (t *chainTx) Submit(ctx context.Context) error {
	if !t.Submittable() {
		return nil
	}
	req, err := t.Request()
	if err != nil {
		return err
	}
	hash, err := t.sdk.provider.SendTransaction(ctx, req)
	if err != nil {
		return err
	}
	t.setHash(hash)
	return nil
}

func (t *chainTx) Progress(ctx context.Context) (*gateway.Progress, error) {
	p := &gateway.Progress{Status: types.StatusPending, Target: t.target}
	if t.amount != nil {
		p.Amount = t.amount()
	}
	hash := t.Hash()
	if hash == "" {
		return p, nil
	}
	p.Hash = hash
	p.ExplorerURL = t.sdk.cfg.TxURL(t.chain, hash)

	confirmations, found, err := t.sdk.confirmations(ctx, t.family, t.chain, hash)
	if errors.Is(err, EVMRPC.ErrReverted) {
		p.Status = types.StatusReverted
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.Confirmations = confirmations
	p.Status = statusOf(found, confirmations, t.target)
	return p, nil
}

func statusOf(found bool, confirmations, target int) types.ConfirmationStatus {
	switch {
	case !found || confirmations == 0:
		return types.StatusPending
	case confirmations >= target:
		return types.StatusDone
	default:
		return types.StatusConfirming
	}
}

// releaseTx is a UTXO release the network broadcasts itself. Its hash comes
// from the network response.
type releaseTx struct {
	*chainTx
	network *networkTx
}

func (t *releaseTx) BroadcastByNetwork() bool { return true }

func (t *releaseTx) Submittable() bool { return false }

func (t *releaseTx) Submit(ctx context.Context) error {
	return errors.New("releases are broadcast by the network")
}

func (t *releaseTx) Progress(ctx context.Context) (*gateway.Progress, error) {
	if t.Hash() == "" {
		if out := t.network.output(); out != nil && out.Txid != "" {
			t.setHash(out.Txid)
		}
	}
	return t.chainTx.Progress(ctx)
}

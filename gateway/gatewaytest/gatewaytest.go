// Package gatewaytest provides in-memory gateway implementations for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gorenbridge/gateway"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

// ChainTx is a scriptable gateway.ChainTx.
type ChainTx struct {
	mu          sync.Mutex
	id          string
	stage       types.Stage
	chain       types.Chain
	hash        string
	submitted   bool
	submitErr   error
	submitHash  string
	submitCalls int
	progress    gateway.Progress
	progressErr error
	broadcast   bool
	release     chan struct{}
}

func NewChainTx(stage types.Stage, chain types.Chain, submitHash string) *ChainTx {
	return &ChainTx{
		id:         uuid.NewString(),
		stage:      stage,
		chain:      chain,
		submitHash: submitHash,
		progress:   gateway.Progress{Status: types.StatusPending},
	}
}

func (t *ChainTx) ID() string               { return t.id }
func (t *ChainTx) Stage() types.Stage       { return t.stage }
func (t *ChainTx) Chain() types.Chain       { return t.chain }
func (t *ChainTx) BroadcastByNetwork() bool { return t.broadcast }

func (t *ChainTx) Hash() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hash
}

func (t *ChainTx) Submittable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.submitted && !t.broadcast
}

func (t *ChainTx) Submit(ctx context.Context) error {
	t.mu.Lock()
	t.submitCalls++
	release := t.release
	t.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitErr != nil {
		return t.submitErr
	}
	t.submitted = true
	if t.submitHash != "" {
		t.hash = t.submitHash
	}
	return nil
}

func (t *ChainTx) Progress(ctx context.Context) (*gateway.Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progressErr != nil {
		return nil, t.progressErr
	}
	p := t.progress
	if p.Hash == "" {
		p.Hash = t.hash
	}
	return &p, nil
}

func (t *ChainTx) Request() (*wallet.TxRequest, error) {
	return &wallet.TxRequest{ID: t.id, Chain: t.chain, Family: types.FamilyEVM, To: "0x0000000000000000000000000000000000000001", Value: "0"}, nil
}

// SetProgress sets what the next polls observe
func (t *ChainTx) SetProgress(p gateway.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = p
}

func (t *ChainTx) SetProgressErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressErr = err
}

func (t *ChainTx) SetSubmitErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitErr = err
}

// Block makes Submit wait until the returned func is called.
func (t *ChainTx) Block() func() {
	ch := make(chan struct{})
	t.mu.Lock()
	t.release = ch
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (t *ChainTx) SetBroadcastByNetwork(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcast = v
}

// MarkSubmitted makes the tx look already broadcast with hash
func (t *ChainTx) MarkSubmitted(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted = true
	if hash != "" {
		t.hash = hash
	}
}

func (t *ChainTx) SubmitCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitCalls
}

// NetworkTx adds payload decoding to ChainTx.
type NetworkTx struct {
	*ChainTx
	Amount    string
	DecodeErr error
}

func (n *NetworkTx) DecodeOutput(payload json.RawMessage) (string, error) {
	if n.DecodeErr != nil {
		return "", n.DecodeErr
	}
	return n.Amount, nil
}

// Gateway is an in-memory gateway.Gateway. The network hash becomes known as
// soon as the in transaction has a hash.
type Gateway struct {
	mu          sync.Mutex
	params      types.TransferParams
	ApprovalTx  *ChainTx
	InTx        *ChainTx
	NetworkTx   *NetworkTx
	OutTx       *ChainTx
	NetworkHash string
	recoverErr  error
	closed      bool
}

func NewGateway(params types.TransferParams, networkHash string) *Gateway {
	return &Gateway{
		params:      params,
		InTx:        NewChainTx(types.StageIn, params.From, "in-"+networkHash),
		NetworkTx:   &NetworkTx{ChainTx: NewChainTx(types.StageNetwork, "", "")},
		OutTx:       NewChainTx(types.StageOut, params.To, "out-"+networkHash),
		NetworkHash: networkHash,
	}
}

func (g *Gateway) Params() types.TransferParams { return g.params }

func (g *Gateway) Approval() gateway.ChainTx {
	if g.ApprovalTx == nil {
		return nil
	}
	return g.ApprovalTx
}

func (g *Gateway) In() gateway.ChainTx { return g.InTx }

func (g *Gateway) Transaction() *gateway.Transaction {
	inHash := g.InTx.Hash()
	if inHash == "" {
		return nil
	}
	return g.transaction(g.NetworkHash, inHash)
}

func (g *Gateway) transaction(hash, inHash string) *gateway.Transaction {
	return &gateway.Transaction{
		Hash:    hash,
		Params:  g.params,
		InHash:  inHash,
		In:      g.InTx,
		Network: g.NetworkTx,
		Out:     g.OutTx,
	}
}

func (g *Gateway) Recover(ctx context.Context, hash string, stored types.LocalTxData) (*gateway.Transaction, error) {
	g.mu.Lock()
	err := g.recoverErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g.InTx.MarkSubmitted(stored.InHash)
	return g.transaction(hash, stored.InHash), nil
}

// SetRecoverErr makes Recover fail with err until it is cleared with nil.
func (g *Gateway) SetRecoverErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recoverErr = err
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

func (g *Gateway) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// SDK opens Gateway for every intent, or fails with Err.
type SDK struct {
	Gateway *Gateway
	Err     error
	opened  int
}

func (s *SDK) Open(ctx context.Context, intent types.TransferIntent) (gateway.Gateway, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Gateway == nil {
		return nil, errors.New("no gateway scripted")
	}
	s.opened++
	return s.Gateway, nil
}

func (s *SDK) Opened() int { return s.opened }

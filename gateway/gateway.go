package gateway

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"gorenbridge/types"
	"gorenbridge/wallet"
)

var (
	ErrUnsupportedPair = errors.New("unsupported asset pair")
	// ErrUnreachable marks transient connectivity failures, the user may retry
	ErrUnreachable = errors.New("chain unreachable")
)

// Progress is one observation of a chain transaction.
type Progress struct {
	Status        types.ConfirmationStatus
	Confirmations int
	Target        int
	Hash          string
	ExplorerURL   string
	Amount        string
	// raw network response, only set by the network stage
	Payload json.RawMessage
}

// ChainTx is one chain-side step handed out by the bridging SDK.
type ChainTx interface {
	// ID is stable for the lifetime of the handle
	ID() string
	Stage() types.Stage
	Chain() types.Chain
	Hash() string
	// Submittable is false once nothing is left to submit
	Submittable() bool
	Submit(ctx context.Context) error
	Progress(ctx context.Context) (*Progress, error)
}

// Requester is implemented by transactions the user's wallet has to sign.
type Requester interface {
	Request() (*wallet.TxRequest, error)
}

// NetworkBroadcast is implemented by transactions the network broadcasts itself.
type NetworkBroadcast interface {
	BroadcastByNetwork() bool
}

// OutputDecoder turns a done network response into the amount received
// after the network fee.
type OutputDecoder interface {
	DecodeOutput(payload json.RawMessage) (string, error)
}

// Transaction is the network-side transfer, known once the lock stage has a hash.
type Transaction struct {
	Hash    string
	Params  types.TransferParams
	InHash  string
	In      ChainTx
	Network ChainTx
	Out     ChainTx
}

func (t *Transaction) NetworkHash() string {
	if t == nil {
		return ""
	}
	return t.Hash
}

func (t *Transaction) TransferParams() types.TransferParams { return t.Params }

func (t *Transaction) SourceHash() string { return t.InHash }

// Gateway is one opened transfer.
type Gateway interface {
	Params() types.TransferParams
	// Approval is nil when the source asset needs no allowance
	Approval() ChainTx
	In() ChainTx
	// Transaction is nil until the lock stage has a hash
	Transaction() *Transaction
	// Recover re-attaches to an existing network transaction
	Recover(ctx context.Context, hash string, stored types.LocalTxData) (*Transaction, error)
	Close()
}

type SDK interface {
	Open(ctx context.Context, intent types.TransferIntent) (Gateway, error)
}

func IsBroadcastByNetwork(tx ChainTx) bool {
	nb, ok := tx.(NetworkBroadcast)
	return ok && nb.BroadcastByNetwork()
}

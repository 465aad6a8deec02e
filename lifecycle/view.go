package lifecycle

import (
	"time"

	"gorenbridge/gateway"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

type ErrorView struct {
	Kind      types.ErrorKind `json:"kind"`
	Stage     types.Stage     `json:"stage,omitempty"`
	Field     string          `json:"field,omitempty"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
}

func errorView(fe *types.FlowError) *ErrorView {
	if fe == nil {
		return nil
	}
	return &ErrorView{
		Kind:      fe.Kind,
		Stage:     fe.Stage,
		Field:     fe.Field,
		Message:   fe.Err.Error(),
		Retryable: fe.Retryable,
	}
}

type StageView struct {
	Record         types.ChainTransactionRecord `json:"record"`
	Submitting     bool                         `json:"submitting"`
	SubmittingDone bool                         `json:"submittingDone"`
	Waiting        bool                         `json:"waiting"`
	Done           bool                         `json:"done"`
	// wallet request to sign, while the stage still needs a submission
	Request *wallet.TxRequest `json:"request,omitempty"`
	Error   *ErrorView        `json:"error,omitempty"`
}

type Notification struct {
	Level   string    `json:"level"` // success | error
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// View is an immutable snapshot of a flow published after every change.
type View struct {
	FlowID       string               `json:"flowId"`
	Phase        Phase                `json:"phase"`
	Params       types.TransferParams `json:"params"`
	Meta         gateway.Meta         `json:"meta"`
	Stages       []StageView          `json:"stages"`
	NetworkHash  string               `json:"networkHash,omitempty"`
	NetworkURL   string               `json:"networkUrl,omitempty"`
	MintAmount   *string              `json:"mintAmount,omitempty"`
	SwitchWallet bool                 `json:"switchWallet"`
	Recovering   bool                 `json:"recovering"`
	Error        *ErrorView           `json:"error,omitempty"`
	RecoverError *ErrorView           `json:"recoverError,omitempty"`
	Notes        []Notification       `json:"notifications,omitempty"`
	DeepLink     string               `json:"deepLink"`
	Closed       bool                 `json:"closed"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// Stage returns the view of stage, ok is false when the flow has no such stage yet.
func (v View) Stage(stage types.Stage) (StageView, bool) {
	for _, s := range v.Stages {
		if s.Record.Stage == stage {
			return s, true
		}
	}
	return StageView{}, false
}

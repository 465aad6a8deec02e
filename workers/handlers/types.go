package handlers

import (
	"gorenbridge/lifecycle"
	"gorenbridge/redis"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type APIStateResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Flows   int           `json:"flows"`
	Assets  []types.Asset `json:"assets"`
}

type APIFlowResponse struct {
	Status string         `json:"status"`
	Flow   lifecycle.View `json:"flow"`
}

type APIWalletResponse struct {
	Status string       `json:"status"`
	Wallet wallet.State `json:"wallet"`
}

// HistoryEntry is one stored transfer with the link that resumes it
type HistoryEntry struct {
	redis.Entry
	ResumeLink string `json:"resumeLink"`
}

type APIHistoryResponse struct {
	Status    string         `json:"status"`
	Pending   []HistoryEntry `json:"pending"`
	Completed []HistoryEntry `json:"completed"`
	Page      int            `json:"page"`
	Pages     int            `json:"pages"`
}

type CreateFlowRequest struct {
	types.TransferParams
	// deep-link query string, takes precedence over the params
	Query     string `json:"query,omitempty"`
	RenVMHash string `json:"renVMHash,omitempty"`
	Owner     string `json:"owner,omitempty"`
}

type ResumeRequest struct {
	Hash    string `json:"hash"`
	Address string `json:"address"`
}

// SignedTxRequest carries the raw transaction signed by the browser wallet,
// or the reason the user rejected it.
type SignedTxRequest struct {
	Raw    string `json:"raw"`
	Reject string `json:"reject,omitempty"`
}

type ConnectRequest struct {
	Address string `json:"address"`
}

type SwitchChainRequest struct {
	Chain types.Chain `json:"chain"`
}

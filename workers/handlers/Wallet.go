package handlers

import (
	"net/http"

	"github.com/go-chi/chi"

	"gorenbridge/types"
	"gorenbridge/wallet"
)

func (a *API) walletResponse(w http.ResponseWriter) {
	responseJSON(w, &APIWalletResponse{Status: "ok", Wallet: a.wallet.Snapshot()}, http.StatusOK)
}

// chainParam reads a configured chain from the URL
func (a *API) chainParam(w http.ResponseWriter, r *http.Request) (types.Chain, bool) {
	chain := types.Chain(chi.URLParam(r, "chain"))
	if _, ok := a.cfg.Chain(chain); !ok {
		responseError(w, "chain", "Chain not supported", http.StatusBadRequest)
		return "", false
	}
	return chain, true
}

func (a *API) WalletState(w http.ResponseWriter, r *http.Request) {
	a.walletResponse(w)
}

func (a *API) SwitchChain(w http.ResponseWriter, r *http.Request) {
	var req SwitchChainRequest
	if !readJSON(w, r, &req) {
		return
	}
	if _, ok := a.cfg.Chain(req.Chain); !ok {
		responseError(w, "chain", "Chain not supported", http.StatusBadRequest)
		return
	}
	a.wallet.RequestChainSwitch(req.Chain)
	a.walletResponse(w)
}

func (a *API) Connect(w http.ResponseWriter, r *http.Request) {
	chain, ok := a.chainParam(w, r)
	if !ok {
		return
	}
	var req ConnectRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Address == "" {
		responseError(w, "address", "No address provided", http.StatusBadRequest)
		return
	}
	a.wallet.Dispatch(wallet.Connect{Chain: chain, Address: req.Address})
	a.walletResponse(w)
}

func (a *API) Disconnect(w http.ResponseWriter, r *http.Request) {
	chain, ok := a.chainParam(w, r)
	if !ok {
		return
	}
	a.wallet.Dispatch(wallet.Disconnect{Chain: chain})
	a.walletResponse(w)
}

// OpenHistory toggles the history dialog flag shared with the front end
func (a *API) OpenHistory(w http.ResponseWriter, r *http.Request) {
	opened := r.URL.Query().Get("opened") != "false"
	a.wallet.Dispatch(wallet.SetHistoryOpened{Opened: opened})
	a.walletResponse(w)
}

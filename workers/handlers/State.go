package handlers

import (
	"net/http"
)

// State reports the enabled assets and how many flows are live
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIStateResponse{
		Status: "ok",
		Flows:  a.flows.Len(),
		Assets: a.cfg.SupportedAssets(),
	}, http.StatusOK)
}

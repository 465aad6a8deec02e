package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"gorenbridge/lifecycle"
	"gorenbridge/types"
)

func flowStatus(v lifecycle.View) string {
	if v.Error != nil {
		return "error"
	}
	return "ok"
}

func flowResponse(w http.ResponseWriter, v lifecycle.View, code int) {
	responseJSON(w, &APIFlowResponse{Status: flowStatus(v), Flow: v}, code)
}

// CreateFlow opens a flow from transfer params or a deep-link query. The
// flow is created even when the params are rejected, its view carries the
// error.
func (a *API) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if !readJSON(w, r, &req) {
		return
	}

	intent := types.TransferIntent{TransferParams: req.TransferParams, NetworkHash: req.RenVMHash}
	if req.Query != "" {
		parsed, err := types.ParseQuery(req.Query)
		if fe, ok := types.AsFlowError(err); ok && fe.Field == "query" {
			responseError(w, "query", "Malformed deep link", http.StatusBadRequest)
			return
		}
		intent = parsed
	}

	flow := a.flows.Create(intent, req.Owner)
	log.WithFields(log.Fields{"module": "http", "flow": flow.ID()}).Info("flow requested")
	flowResponse(w, flow.View(), http.StatusCreated)
}

func (a *API) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := a.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		responseFlowError(w, err)
		return
	}
	flowResponse(w, flow.View(), http.StatusOK)
}

// DeleteFlow tears the flow down, its stored record stays
func (a *API) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := a.flows.Remove(chi.URLParam(r, "id")); err != nil {
		responseFlowError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

func (a *API) ResumeFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ResumeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Hash == "" {
		responseError(w, "hash", "Transfer hash not provided", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		responseError(w, "address", "Owner address not provided", http.StatusBadRequest)
		return
	}

	if err := a.flows.Resume(r.Context(), id, req.Address, req.Hash); err != nil {
		responseFlowError(w, err)
		return
	}
	flow, err := a.flows.Get(id)
	if err != nil {
		responseFlowError(w, err)
		return
	}
	flowResponse(w, flow.View(), http.StatusOK)
}

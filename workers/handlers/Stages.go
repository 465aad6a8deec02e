package handlers

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"gorenbridge/lifecycle"
	"gorenbridge/types"
)

// stageParams resolves the flow and stage of the URL, answering on failure
func (a *API) stageParams(w http.ResponseWriter, r *http.Request) (*lifecycle.Flow, types.Stage, bool) {
	stage, ok := types.ParseStage(chi.URLParam(r, "stage"))
	if !ok {
		responseError(w, "stage", "Unknown stage", http.StatusBadRequest)
		return nil, "", false
	}
	flow, err := a.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		responseFlowError(w, err)
		return nil, "", false
	}
	return flow, stage, true
}

// StageRequest returns the unsigned transaction the wallet has to sign for the stage
func (a *API) StageRequest(w http.ResponseWriter, r *http.Request) {
	flow, stage, ok := a.stageParams(w, r)
	if !ok {
		return
	}
	sv, ok := flow.View().Stage(stage)
	if !ok || sv.Request == nil {
		responseError(w, "stage", "Nothing to sign for this stage", http.StatusNotFound)
		return
	}
	responseJSON(w, sv.Request, http.StatusOK)
}

// SignedTx hands the wallet's signed transaction to the relay and submits
// the stage with it.
func (a *API) SignedTx(w http.ResponseWriter, r *http.Request) {
	flow, stage, ok := a.stageParams(w, r)
	if !ok {
		return
	}
	var req SignedTxRequest
	if !readJSON(w, r, &req) {
		return
	}

	sv, ok := flow.View().Stage(stage)
	if !ok || sv.Request == nil {
		responseError(w, "stage", "Nothing to sign for this stage", http.StatusConflict)
		return
	}

	if req.Reject != "" {
		a.relay.Reject(sv.Request.ID, req.Reject)
	} else {
		raw := req.Raw
		if !strings.HasPrefix(raw, "0x") {
			raw = "0x" + raw
		}
		decoded, err := hexutil.Decode(raw)
		if err != nil {
			responseError(w, "raw", "Signed transaction is not hex encoded", http.StatusBadRequest)
			return
		}
		a.relay.Provide(sv.Request.ID, decoded)
	}

	if err := flow.Submit(r.Context(), stage); err != nil {
		log.WithFields(log.Fields{"module": "http", "flow": flow.ID(), "stage": stage}).Warnf("submission failed: %s", err.Error())
		responseFlowError(w, err)
		return
	}
	flowResponse(w, flow.View(), http.StatusOK)
}

// SubmitStage submits a stage that needs no wallet signature, like the
// network stage, or retries one.
func (a *API) SubmitStage(w http.ResponseWriter, r *http.Request) {
	flow, stage, ok := a.stageParams(w, r)
	if !ok {
		return
	}
	if err := flow.Submit(r.Context(), stage); err != nil {
		responseFlowError(w, err)
		return
	}
	flowResponse(w, flow.View(), http.StatusOK)
}

func (a *API) ResetStage(w http.ResponseWriter, r *http.Request) {
	flow, stage, ok := a.stageParams(w, r)
	if !ok {
		return
	}
	if err := flow.Reset(r.Context(), stage); err != nil {
		responseFlowError(w, err)
		return
	}
	flowResponse(w, flow.View(), http.StatusOK)
}

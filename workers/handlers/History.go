package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"gorenbridge/redis"
	"gorenbridge/types"
)

const rowsPerPage = 4

func historyEntries(entries []redis.Entry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{Entry: e, ResumeLink: "?" + types.EncodeQuery(e.Params, e.Hash)})
	}
	return out
}

// paginate cuts page (0-based) out of pending followed by completed
func paginate(pending, completed []HistoryEntry, page int) ([]HistoryEntry, []HistoryEntry, int) {
	total := len(pending) + len(completed)
	pages := (total + rowsPerPage - 1) / rowsPerPage
	start := page * rowsPerPage
	end := start + rowsPerPage

	cut := func(list []HistoryEntry, offset int) []HistoryEntry {
		lo, hi := start-offset, end-offset
		if lo < 0 {
			lo = 0
		}
		if hi > len(list) {
			hi = len(list)
		}
		if lo >= hi {
			return []HistoryEntry{}
		}
		return list[lo:hi]
	}
	return cut(pending, 0), cut(completed, len(pending)), pages
}

// History lists the stored transfers of an address: pending ones first, then
// completed ones, optionally restricted to one source chain.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	from := types.Chain(r.URL.Query().Get("from"))
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 {
			responseError(w, "page", "Invalid page number", http.StatusBadRequest)
			return
		}
		page = p
	}

	pending, err := a.store.GetLocalTxsForAddress(address, redis.Filter{Done: false})
	if err != nil {
		log.Printf("Error getting pending transfers of %s: %s", address, err.Error())
		responseError(w, "", "Cannot read history", http.StatusInternalServerError)
		return
	}
	completed, err := a.store.GetLocalTxsForAddress(address, redis.Filter{Done: true, From: from})
	if err != nil {
		log.Printf("Error getting completed transfers of %s: %s", address, err.Error())
		responseError(w, "", "Cannot read history", http.StatusInternalServerError)
		return
	}

	p, c, pages := paginate(historyEntries(redis.SortByTimestamp(pending)), historyEntries(redis.SortByTimestamp(completed)), page)
	responseJSON(w, &APIHistoryResponse{
		Status:    "ok",
		Pending:   p,
		Completed: c,
		Page:      page,
		Pages:     pages,
	}, http.StatusOK)
}

func (a *API) RemoveHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	hash := chi.URLParam(r, "hash")
	if err := a.store.RemoveLocalTx(address, hash); err != nil {
		responseError(w, "", "Cannot remove transfer", http.StatusInternalServerError)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

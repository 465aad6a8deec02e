package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// HealthCheck reports unhealthy while the local transaction store is unreachable
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(); err != nil {
		log.WithField("module", "http").Warnf("health check: %s", err.Error())
		responseError(w, "store", "Local transaction store unreachable", http.StatusServiceUnavailable)
		return
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}

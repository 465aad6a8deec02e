package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/lifecycle"
	"gorenbridge/redis"
	"gorenbridge/tracker"
	"gorenbridge/types"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, field, message string, code int) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Field:   field,
		Message: message,
	}, code)
}

// readJSON decodes the request body into v, answering 400 on failure
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Error reading request body: %s", err.Error())
		responseError(w, "", "Error reading request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		log.Printf("Error unmarshalling request body: %s", err.Error())
		responseError(w, "", "Cannot unmarshal input JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// responseFlowError maps flow errors onto HTTP statuses
func responseFlowError(w http.ResponseWriter, err error) {
	if errors.Is(err, lifecycle.ErrUnknownFlow) {
		responseError(w, "", "Flow not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, lifecycle.ErrClosed) {
		responseError(w, "", "Flow closed", http.StatusGone)
		return
	}
	if errors.Is(err, tracker.ErrNotSubmittable) {
		responseError(w, "stage", err.Error(), http.StatusConflict)
		return
	}

	fe, ok := types.AsFlowError(err)
	if !ok {
		log.WithField("module", "http").Errorf("unexpected error: %s", err.Error())
		responseError(w, "", err.Error(), http.StatusInternalServerError)
		return
	}
	switch fe.Kind {
	case types.KindValidation:
		responseError(w, fe.Field, fe.Error(), http.StatusBadRequest)
	case types.KindSession:
		code := http.StatusUnprocessableEntity
		if fe.Retryable {
			code = http.StatusServiceUnavailable
		}
		responseError(w, "", fe.Error(), code)
	case types.KindSubmission:
		responseError(w, string(fe.Stage), fe.Error(), http.StatusBadGateway)
	case types.KindRecovery:
		code := http.StatusBadGateway
		if errors.Is(err, redis.ErrNotFound) {
			code = http.StatusNotFound
		}
		responseError(w, "hash", fe.Error(), code)
	default:
		responseError(w, "", fe.Error(), http.StatusInternalServerError)
	}
}

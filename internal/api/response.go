package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"edu-tracker/internal/service"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeOK(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, APIResponse{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, APIResponse{Success: false, Message: message})
}

// writeError maps service errors to statuses. Unknown errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, APIResponse{Message: "Invalid input", Data: verr.Fields})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrMalformedBackup):
		writeFail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrCourseNotFound),
		errors.Is(err, service.ErrRewardNotFound),
		errors.Is(err, service.ErrNoActiveSession):
		writeFail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrTaskAlreadyCompleted), errors.Is(err, service.ErrSessionActive):
		writeFail(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInsufficientPoints):
		writeFail(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("[warn] %s %s: %v", r.Method, r.URL.Path, err)
		writeFail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

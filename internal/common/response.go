package common

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithDomainError writes err with the status HTTPStatusFromError picks.
// Internal faults are reported with a generic message.
func RespondWithDomainError(w http.ResponseWriter, err error) {
	status := HTTPStatusFromError(err)
	if status == http.StatusInternalServerError {
		RespondWithJSON(w, status, ErrorResponse{Error: ErrInternalServer.Error()})
		return
	}
	RespondWithJSON(w, status, ErrorResponse{Error: err.Error(), Code: RejectionCode(err)})
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

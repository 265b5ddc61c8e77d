// Package response writes JSON envelopes for the ops endpoints.
package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes status and the envelope.
func WriteJSON(w http.ResponseWriter, status int, message string, data any, err error) {
	r := Response{
		Message: message,
		Data:    data,
	}

	if err != nil {
		r.Error = err.Error()
	}

	body, err := json.Marshal(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// OK writes a 200 envelope.
func OK(w http.ResponseWriter, message string, data any) {
	WriteJSON(w, http.StatusOK, message, data, nil)
}

// ServiceUnavailable writes a 503 envelope.
func ServiceUnavailable(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusServiceUnavailable, message, nil, err)
}

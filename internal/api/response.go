package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the body of every JSON response: data on success, error otherwise.
type envelope struct {
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *string     `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any, pg *Pagination) {
	write(w, status, envelope{Data: data, Pagination: pg})
}

func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, envelope{Error: &msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	Error(w, http.StatusBadRequest, msg)
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

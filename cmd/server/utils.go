package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lychee-technology/quarry"
)

// APIResponse is the standard response format
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func readJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) error {
	return writeJSON(w, statusCode, data)
}

// writeQuarryError maps engine error categories onto HTTP status codes.
func writeQuarryError(w http.ResponseWriter, err error) {
	var qe *quarry.QuarryError
	if errors.As(err, &qe) {
		switch qe.Type {
		case quarry.ErrorTypeNotFound:
			writeError(w, http.StatusNotFound, qe.Error())
		case quarry.ErrorTypeValidation, quarry.ErrorTypeQuery:
			writeError(w, http.StatusBadRequest, qe.Error())
		default:
			writeError(w, http.StatusInternalServerError, qe.Error())
		}
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

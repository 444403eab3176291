package api

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type idRequest struct {
	ID string `json:"id"`
}

type dateRequest struct {
	Date string `json:"data"`
}

type statusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type patientRequest struct {
	PatientID string `json:"idPaciente"`
}

type searchRequest struct {
	Term string `json:"termo"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

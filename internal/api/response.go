package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// SuccessResponse is the envelope for every successful API response.
type SuccessResponse struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes data as JSON with the given status code
func WriteJSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", GetRequestID(r)).
			Msg("Failed to encode JSON response")
	}
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, data any, message string, status int) {
	WriteJSON(w, r, SuccessResponse{
		Status:    "success",
		Data:      data,
		Message:   message,
		RequestID: GetRequestID(r),
	}, status)
}

// WriteSuccess writes a 200 success envelope
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any, message string) {
	writeEnvelope(w, r, data, message, http.StatusOK)
}

// WriteAccepted writes a 202 success envelope for work that continues in the background
func WriteAccepted(w http.ResponseWriter, r *http.Request, data any, message string) {
	writeEnvelope(w, r, data, message, http.StatusAccepted)
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Crawl     string `json:"crawl,omitempty"`
}

// WriteHealthy writes a health check response including the crawl session state
func WriteHealthy(w http.ResponseWriter, r *http.Request, service, version, crawlState string) {
	WriteJSON(w, r, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   service,
		Version:   version,
		Crawl:     crawlState,
	}, http.StatusOK)
}

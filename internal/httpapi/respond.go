package httpapi

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes an OpenAI-compatible error response. The message is a
// short reason string; internal details stay in the logs.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    statusCode,
		},
	}

	_ = json.NewEncoder(w).Encode(errorResp)
}

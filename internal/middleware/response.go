package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/types"
)

// writeErrorResponse writes a transport-level error in the same envelope
// shape tool calls use, so clients parse one format.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	env := types.ErrorEnvelope(&types.ToolError{
		Code:    types.CodeInternal,
		Message: message,
	})
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Str("message", message).Msg("Failed to encode error response")
	}
}

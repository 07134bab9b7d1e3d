package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// pathChatID parses the {id} path segment, writing the error response itself
// when it is not a valid chat id.
func pathChatID(w http.ResponseWriter, r *http.Request) (chat.ChatID, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	return chat.ChatID(id), true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

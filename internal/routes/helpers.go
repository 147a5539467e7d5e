package routes

import (
	"encoding/json"
	"net/http"

	"github.com/coah80/reelsave/internal/util"
)

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Code    util.ErrorKind `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, e *util.AppError) {
	respondJSON(w, e.Status, errorBody{Error: e.Title, Message: e.Message, Code: e.Kind})
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

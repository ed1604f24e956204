package middleware

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// writeError writes the same JSON error body the handlers use so clients
// can read middleware rejections the same way.
func writeError(w http.ResponseWriter, status int, reason string) {
	msg := core.MapError(errors.New(reason))
	body, _ := sonic.Marshal(map[string]string{
		"error":   reason,
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

package systemhandler

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/render"
)

// The UI never hard-codes the backend port; it reads this endpoint off
// the default port and falls back to scanning when that fails.
type SystemHandler struct {
	log  *slog.Logger
	port int
}

func New(log *slog.Logger, port int) *SystemHandler {
	return &SystemHandler{
		log:  log,
		port: port,
	}
}

type serverInfo struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

func (h *SystemHandler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, serverInfo{
		Port: h.port,
		PID:  os.Getpid(),
	})
}

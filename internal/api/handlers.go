package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"thara/voice/internal/auth"
	"thara/voice/internal/config"
	"thara/voice/internal/convo"
	"thara/voice/internal/dataset"
	"thara/voice/internal/turn"
)

type Handlers struct {
	cfg  config.Config
	orch *turn.Orchestrator
	log  *convo.Log
	gate *dataset.Gate
}

func NewHandlers(cfg config.Config, orch *turn.Orchestrator, log *convo.Log, gate *dataset.Gate) *Handlers {
	return &Handlers{cfg: cfg, orch: orch, log: log, gate: gate}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	h.orch.Toggle()
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.orch.Stop()
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.orch.Cancel()
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handlers) HandleHangUp(w http.ResponseWriter, r *http.Request) {
	h.orch.HangUp()
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handlers) HandleConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"turns":   h.log.Turns(),
		"notices": h.log.Notices(),
	})
}

func (h *Handlers) HandleDatasetReady(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Source == "" {
		http.Error(w, "missing source", http.StatusBadRequest)
		return
	}
	h.gate.SetReady(body.Source)
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "source": body.Source})
}

func (h *Handlers) HandleDatasetClear(w http.ResponseWriter, r *http.Request) {
	h.gate.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"ready": false})
}

func (h *Handlers) HandleDatasetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":  h.gate.Ready(),
		"source": h.gate.Source(),
	})
}

// HandleMintClientToken issues a websocket token for the browser client.
func (h *Handlers) HandleMintClientToken(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Gateway.TokenSecret == "" {
		http.Error(w, "client auth not configured", http.StatusBadRequest)
		return
	}
	clientID := uuid.NewString()
	ttl := h.cfg.Gateway.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	exp := time.Now().Add(ttl).Unix()
	tok := auth.GenerateClientToken(h.cfg.Gateway.TokenSecret, clientID, exp)
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"token":     tok,
		"expires":   exp,
	})
}

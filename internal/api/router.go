package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the control-plane endpoints plus the media websocket.
// clientWS may be nil in tests that only exercise the HTTP surface.
func NewRouter(h *Handlers, clientWS http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	post := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			fn(w, r)
		}
	}
	get := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			fn(w, r)
		}
	}

	mux.HandleFunc("/voice/toggle", post(h.HandleToggle))
	mux.HandleFunc("/voice/stop", post(h.HandleStop))
	mux.HandleFunc("/voice/cancel", post(h.HandleCancel))
	mux.HandleFunc("/voice/hangup", post(h.HandleHangUp))
	mux.HandleFunc("/voice/state", get(h.HandleState))

	mux.HandleFunc("/conversation", get(h.HandleConversation))

	mux.HandleFunc("/dataset/ready", post(h.HandleDatasetReady))
	mux.HandleFunc("/dataset/clear", post(h.HandleDatasetClear))
	mux.HandleFunc("/dataset/state", get(h.HandleDatasetState))

	mux.HandleFunc("/client-token", post(h.HandleMintClientToken))

	if clientWS != nil {
		mux.HandleFunc("/ws/client", clientWS)
	}

	return mux
}

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/starlane-games/starlane-server/internal/server"
	"github.com/starlane-games/starlane-server/internal/storage"
)

// RouterConfig holds the dependencies for the status router. StatusFunc must
// be safe to call from any goroutine.
type RouterConfig struct {
	Logger     *slog.Logger
	StatusFunc func() server.Status
	Storage    storage.Storage
}

// NewRouter creates the status API router
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	h := &statusHandler{
		logger:  cfg.Logger,
		status:  cfg.StatusFunc,
		storage: cfg.Storage,
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware(cfg.Logger))
	api.Use(loggingMiddleware(cfg.Logger))

	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/status/sessions", h.getSessions).Methods(http.MethodGet)
	api.HandleFunc("/saves", h.listSaves).Methods(http.MethodGet)

	return r
}

type statusHandler struct {
	logger  *slog.Logger
	status  func() server.Status
	storage storage.Storage
}

// statusResponse is the wire form of a Status snapshot
type statusResponse struct {
	State       string            `json:"state"`
	Turn        int               `json:"turn"`
	Sessions    int               `json:"sessions"`
	Established int               `json:"established"`
	HostID      int               `json:"host_id"`
	GameName    string            `json:"game_name,omitempty"`
	Players     []sessionResponse `json:"players,omitempty"`
}

type sessionResponse struct {
	PlayerID   int    `json:"player_id"`
	Name       string `json:"name"`
	ClientType string `json:"client_type"`
}

type saveResponse struct {
	ID          string   `json:"id"`
	GameName    string   `json:"game_name"`
	Turn        int      `json:"turn"`
	SavedAt     int64    `json:"saved_at"`
	EmpireNames []string `json:"empire_names,omitempty"`
}

func (h *statusHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	st := h.status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:       st.State,
		Turn:        st.Turn,
		Sessions:    st.Sessions,
		Established: st.Established,
		HostID:      int(st.HostID),
		GameName:    st.GameName,
		Players:     sessionResponses(st),
	})
}

func (h *statusHandler) getSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponses(h.status()))
}

func (h *statusHandler) listSaves(w http.ResponseWriter, r *http.Request) {
	metas, err := h.storage.ListSaveGames(r.Context())
	if err != nil {
		h.logger.Error("save list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	out := make([]saveResponse, 0, len(metas))
	for _, m := range metas {
		out = append(out, saveResponse{
			ID:          m.ID,
			GameName:    m.GameName,
			Turn:        m.Turn,
			SavedAt:     m.SavedAt,
			EmpireNames: m.EmpireNames,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func sessionResponses(st server.Status) []sessionResponse {
	out := make([]sessionResponse, 0, len(st.Players))
	for _, p := range st.Players {
		out = append(out, sessionResponse{
			PlayerID:   int(p.PlayerID),
			Name:       p.Name,
			ClientType: p.ClientType,
		})
	}
	return out
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("status request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

func recoveryMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in status handler", slog.Any("panic", rec))
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

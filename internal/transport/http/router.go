package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"simulacro-engine/internal/domain"
)

// NewRouter mounts the health check, the read-only contest endpoints and the
// websocket feeds.
func NewRouter(h *WSHandler, corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/progress", func(w http.ResponseWriter, r *http.Request) {
			snap, err := h.engine.RoomProgress(r.Context(), chi.URLParam(r, "roomID"))
			respond(w, snap, err)
		})
		r.Get("/result", func(w http.ResponseWriter, r *http.Request) {
			res, err := h.engine.ComputeRoomResult(r.Context(), chi.URLParam(r, "roomID"))
			respond(w, res, err)
		})
		r.Get("/online", h.online("roomID"))
	})
	r.Route("/simulacros/{simulacroID}", func(r chi.Router) {
		r.Get("/progress", func(w http.ResponseWriter, r *http.Request) {
			snap, err := h.engine.GroupSimulacroProgress(r.Context(), chi.URLParam(r, "simulacroID"))
			respond(w, snap, err)
		})
		r.Get("/result", func(w http.ResponseWriter, r *http.Request) {
			res, err := h.engine.GroupSimulacroResult(r.Context(), chi.URLParam(r, "simulacroID"))
			respond(w, res, err)
		})
		r.Get("/online", h.online("simulacroID"))
	})

	r.Get("/ws/rooms/{roomID}", h.ServeRoom)
	r.Get("/ws/simulacros/{simulacroID}", h.ServeSimulacro)
	return r
}

func (h *WSHandler) online(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.presence == nil {
			respond(w, []string{}, nil)
			return
		}
		ids, err := h.presence.Online(r.Context(), chi.URLParam(r, param))
		if ids == nil {
			ids = []string{}
		}
		respond(w, ids, err)
	}
}

func respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	var derr *domain.Error
	if !errors.As(err, &derr) {
		msg = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorPayload{Kind: domain.KindOf(err).String(), Message: msg})
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindInsufficientData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

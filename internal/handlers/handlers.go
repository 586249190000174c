package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/engine"
	"feedmesh/internal/logger"
	"feedmesh/internal/middleware"
	"feedmesh/internal/render"
	"feedmesh/internal/utils"
	"feedmesh/internal/websocket"
)

// StreamScope is the hub scope every /stream client joins.
const StreamScope = "stream"

// Server holds all server dependencies
type Server struct {
	Engine         *engine.Engine
	Renderer       *render.Renderer
	Hub            *websocket.Hub
	Metrics        *utils.MetricsCollector
	RequestTimeout time.Duration
	log            *logrus.Entry
	stream         streamState
}

// NewServer creates a new Server instance with the given components.
// renderer and hub may be nil, which disables ?format=html and /stream.
func NewServer(eng *engine.Engine, renderer *render.Renderer, hub *websocket.Hub, log *logrus.Entry) *Server {
	return &Server{
		Engine:         eng,
		Renderer:       renderer,
		Hub:            hub,
		Metrics:        eng.Metrics(),
		RequestTimeout: 5 * time.Second, // Default timeout for engine requests
		log:            logger.OrDefault(log),
	}
}

// Router wires every route behind the access log and CORS.
func (s *Server) Router(cors *middleware.CORSConfig, metricsEnabled bool) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.AccessLog(s.log, s.Metrics))

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.HandleHealth())
	r.Methods(http.MethodGet).Path("/posts").HandlerFunc(s.HandleListPosts())
	r.Methods(http.MethodPost).Path("/posts").HandlerFunc(s.HandleCreatePost())
	r.Methods(http.MethodGet).Path("/posts/{id}").HandlerFunc(s.HandleGetPost())
	r.Methods(http.MethodPost).Path("/posts/{id}/vote").HandlerFunc(s.HandleVote())
	r.Methods(http.MethodPost).Path("/posts/{id}/comments").HandlerFunc(s.HandleComment())
	r.Methods(http.MethodGet).Path("/communities/{community:.+}/posts").HandlerFunc(s.HandleCommunityPosts())
	r.Methods(http.MethodGet).Path("/stats").HandlerFunc(s.HandleStats())
	r.Methods(http.MethodGet).Path("/logs").HandlerFunc(s.HandleLogs())
	if metricsEnabled {
		r.Methods(http.MethodGet).Path("/metrics").Handler(s.Metrics.Handler())
	}
	if s.Hub != nil {
		r.Methods(http.MethodGet).Path("/stream").HandlerFunc(s.HandleStream())
	}

	return middleware.CORSMiddleware(cors)(r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a JSON body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := utils.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	body := map[string]string{"error": err.Error()}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code
	}
	writeJSON(w, status, body)
}

// queryLimit parses ?limit, returning 0 (the whole window) when absent.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, utils.NewInvalidInputError("invalid limit %q", raw)
	}
	return limit, nil
}

package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"lyra/internal/session"
)

const maxRequestBodySize = 1 << 20

// NewServer returns the bridge HTTP handler. static, when non-nil, serves the
// frontend bundle.
func NewServer(hub *Hub, commands *Commands, static http.FileSystem, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bridge")

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(localOnly)

	r.Route("/api", func(r chi.Router) {
		r.Get("/commands", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, commands.Names())
		})
		r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
			result, err := commands.Execute(req.Context(), "GetState", nil)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})
		r.With(chiMiddleware.AllowContentType("application/json")).Post("/commands/{name}", func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBodySize))
			if err != nil {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
				return
			}
			result, err := commands.Execute(req.Context(), chi.URLParam(req, "name"), body)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"result": result})
		})
	})

	r.Get("/ws", hub.Handler(commands))

	if static != nil {
		r.Handle("/*", http.FileServer(static))
	}
	return r
}

// localOnly rejects requests from pages served off the loopback interface and
// requests whose Host is not a loopback name, which blocks DNS rebinding.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !localOrigin(req) || !loopbackHost(req.Host) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return isLoopbackName(strings.Trim(host, "[]"))
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownCommand):
		status = http.StatusNotFound
	case errors.Is(err, ErrBadArguments):
		status = http.StatusBadRequest
	case isRejection(err):
		status = http.StatusConflict
	default:
		logger.Warn("bridge command failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var rejections = []error{
	session.ErrEngineNotReady,
	session.ErrRecordingInProgress,
	session.ErrNotRecording,
	session.ErrTurnInFlight,
	session.ErrEmptyText,
	session.ErrUnknownIntent,
	session.ErrInvalidScreen,
	session.ErrInvalidRiskLevel,
	session.ErrInvalidInputMode,
}

func isRejection(err error) bool {
	return lo.ContainsBy(rejections, func(target error) bool { return errors.Is(err, target) })
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package server exposes the handler's actions over HTTP. Every action is
// a POST of a JSON parameter object under /api/v1/; application outcomes,
// including application errors, travel in a 200 response envelope so
// clients only need one decode path.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maildepot/maildepot/pkg/handler"
)

type Server struct {
	handler *handler.Handler
	log     *logrus.Logger
	addr    string
}

func New(h *handler.Handler, log *logrus.Logger, addr string) *Server {
	return &Server{handler: h, log: log, addr: addr}
}

// Router builds the routing table: one endpoint per action, the action's
// dot becoming a path separator (messages.query -> /api/v1/messages/query).
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	for _, action := range handler.Actions() {
		path := "/api/v1/" + strings.Replace(action, ".", "/", 1)
		mux.Handle(path, s.action(action))
	}
	return s.recoverAndLog(mux)
}

// ListenAndServe blocks serving HTTP on the configured address.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.addr).Info("HTTP listener started")
	return http.ListenAndServe(s.addr, s.Router())
}

// envelope is the fixed response wrapper. Flags is always an empty object;
// Time is the server-side handling duration in seconds.
type envelope struct {
	Status string      `json:"status"`
	Time   float64     `json:"time"`
	Flags  struct{}    `json:"flags"`
	Data   interface{} `json:"data"`
}

func (s *Server) action(action string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		started := time.Now()

		args := map[string]interface{}{}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
				s.writeEnvelope(w, started, "parameter-error", map[string]interface{}{
					"message": "request body is not a valid JSON object",
				})
				return
			}
		}

		result, err := s.handler.Call(r.Context(), action, args)
		if err != nil {
			s.writeError(w, started, action, err)
			return
		}

		s.writeEnvelope(w, started, "success", result)
	})
}

func (s *Server) writeError(w http.ResponseWriter, started time.Time, action string, err error) {
	var perr *handler.ParameterError
	if errors.As(err, &perr) {
		s.writeEnvelope(w, started, "parameter-error", map[string]interface{}{
			"message": perr.Message,
		})
		return
	}

	var nf *handler.MessageNotFoundError
	if errors.As(err, &nf) {
		s.writeEnvelope(w, started, "error", map[string]interface{}{
			"code":    "MessageNotFound",
			"message": nf.Message,
			"id":      nf.ID,
		})
		return
	}

	// Anything else is ours, not the client's. Log the detail, return a
	// stable code without it.
	s.log.WithError(err).WithField("action", action).Error("Action failed")
	s.writeEnvelope(w, started, "error", map[string]interface{}{
		"code":    "InternalServerError",
		"message": "An internal error occurred",
	})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, started time.Time, status string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	env := envelope{
		Status: status,
		Time:   time.Since(started).Seconds(),
		Data:   data,
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.WithError(err).Error("Failed to write response")
	}
}

func (s *Server) recoverAndLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", rec).Error("Recovered from panic in request handler")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(started).String(),
		}).Debug("Request handled")
	})
}

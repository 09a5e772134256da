// Package api serves the HTTP side of the chat: message history, reactions and a health check.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/auth"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/pipeline"
	"github.com/nightlife-social/livechat/presence"
	"github.com/nightlife-social/livechat/types"
)

// Hub is the part of the websocket hub the HTTP handlers need.
type Hub interface {
	Pipeline() *pipeline.Pipeline
	Registry() *presence.Registry
	NoClients() int
}

type Server struct {
	hub       Hub
	directory *auth.Directory
	logger    hclog.Logger
}

type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func NewServer(hub Hub, directory *auth.Directory, logger hclog.Logger) *Server {
	return &Server{
		hub:       hub,
		directory: directory,
		logger:    globals.Logger(logger, "api"),
	}
}

// Routes mounts the handlers on router. base is the prefix of the REST routes, f.e. "/api/v1".
func (s *Server) Routes(router *mux.Router, base string) {
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	sub := router.PathPrefix(base).Subrouter()
	sub.HandleFunc("/rooms/{roomId}/messages", s.history).Methods(http.MethodGet)
	sub.HandleFunc("/messages/{messageId}/reactions/{emoji}", s.react).Methods(http.MethodPut, http.MethodDelete)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Registry().Stats()
	s.writeJSON(w, http.StatusOK, Health{Status: "ok", Connections: s.hub.NoClients(), Rooms: stats.Rooms})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, types.NewError(types.CodeInvalidInput, "limit must be a number"))
			return
		}
		limit = n
	}
	var before time.Time
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.writeError(w, types.NewError(types.CodeInvalidInput, "before must be an RFC 3339 timestamp"))
			return
		}
		before = t
	}
	msgs, err := s.hub.Pipeline().History(r.Context(), roomId, limit, before)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) react(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	req := types.ReactionRequest{MessageId: vars["messageId"], Emoji: vars["emoji"]}
	var msg *types.ChatMessage
	if r.Method == http.MethodDelete {
		msg, err = s.hub.Pipeline().RemoveReaction(r.Context(), "", user, req)
	} else {
		msg, err = s.hub.Pipeline().AddReaction(r.Context(), "", user, req)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg.Reactions)
}

func (s *Server) authenticate(r *http.Request) (*types.User, error) {
	if s.directory == nil {
		return nil, types.ErrUnauthorized
	}
	credential, provider := auth.CredentialFromRequest(r)
	if credential == "" {
		return nil, types.ErrUnauthorized
	}
	user, err := s.directory.Resolve(r.Context(), credential, provider)
	if err != nil {
		return nil, types.WrapError(types.CodeUnauthorized, err, types.ErrUnauthorized.Message)
	}
	return user, nil
}

// StatusCode maps an error code to its HTTP status.
func StatusCode(code types.ErrorCode) int {
	switch code {
	case types.CodeUnauthorized:
		return http.StatusUnauthorized
	case types.CodeForbidden, types.CodeMuted:
		return http.StatusForbidden
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodePersistenceFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	ce := types.AsChatError(err)
	status := StatusCode(ce.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Debug("request rejected", "code", ce.Code, "error", err)
	}
	s.writeJSON(w, status, types.ErrorPayload{Code: ce.Code, Message: ce.Message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("could not write response", "error", err)
	}
}

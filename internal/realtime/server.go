// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/palaver/internal/auth"
	"github.com/holomush/palaver/internal/core"
	"github.com/holomush/palaver/internal/poll"
	"github.com/holomush/palaver/internal/realtime/wire"
	"github.com/holomush/palaver/pkg/errutil"
)

// Codes for rejected frames.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnknownAction = "UNKNOWN_ACTION"
	CodeInternal      = "INTERNAL"
)

// Coordinator is the subset of *poll.Coordinator the server dispatches to.
type Coordinator interface {
	CreatePoll(ctx context.Context, channelID, userID, title string, options []string) (*poll.Poll, error)
	Vote(ctx context.Context, pollID ulid.ULID, userID, option string) (*poll.Poll, error)
	ClosePoll(ctx context.Context, pollID ulid.ULID) (*poll.Poll, error)
	DeletePoll(ctx context.Context, pollID ulid.ULID) error
	LookupByTitle(ctx context.Context, title string) (ulid.ULID, error)
}

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// Config tunes connection handling.
type Config struct {
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	ActionTimeout time.Duration
	ReadLimit     int64
	SendBuffer    int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:  30 * time.Second,
		WriteTimeout:  10 * time.Second,
		ActionTimeout: 10 * time.Second,
		ReadLimit:     64 * 1024,
		SendBuffer:    256,
	}
}

// Server upgrades authenticated requests on /ws/polls and dispatches the
// actions they send.
type Server struct {
	cfg      Config
	hub      *Hub
	coord    Coordinator
	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server. Zero fields in cfg take defaults.
func NewServer(cfg Config, hub *Hub, coord Coordinator, verifier TokenVerifier, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		coord:    coord,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Register mounts the websocket route on r.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws/polls", s.Handle)
}

// Handle authenticates and upgrades the request, then serves the
// connection until it closes.
func (s *Server) Handle(c *gin.Context) {
	userID, err := s.verifier.Verify(auth.BearerToken(c.Request))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  auth.CodeUnauthenticated,
			"error": "unauthorized",
		})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(core.NewULID().String(), userID, ws, s.cfg.SendBuffer, s.logger)
	s.hub.Join(GroupPolls, conn)
	conn.logger.Info("poll connection opened")

	go conn.writePump(s.cfg)

	ctx := context.WithoutCancel(c.Request.Context())
	conn.readPump(s.cfg, func(data []byte) {
		s.handleFrame(ctx, conn, data)
	})

	s.hub.Leave(conn)
	conn.logger.Info("poll connection closed")
}

// Shutdown closes every open connection.
func (s *Server) Shutdown() {
	s.hub.CloseAll()
}

func (s *Server) handleFrame(ctx context.Context, conn *Conn, data []byte) {
	var action wire.Action
	if err := json.Unmarshal(data, &action); err != nil {
		conn.sendJSON(wire.ErrorEvent(CodeBadRequest, "malformed action frame"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	if err := s.dispatch(ctx, conn.UserID, action); err != nil {
		s.reject(ctx, conn, action, err)
	}
}

func (s *Server) dispatch(ctx context.Context, userID string, a wire.Action) error {
	if a.Action == wire.ActionCreatePoll {
		_, err := s.coord.CreatePoll(ctx, a.ChannelID, userID, a.Title, a.Options)
		return err
	}

	switch a.Action {
	case wire.ActionVote, wire.ActionClosePoll, wire.ActionDeletePoll:
	default:
		return oops.Code(CodeUnknownAction).With("action", a.Action).Errorf("unknown action %q", a.Action)
	}

	pollID, err := s.coord.LookupByTitle(ctx, a.Title)
	if err != nil {
		return err
	}
	switch a.Action {
	case wire.ActionVote:
		_, err = s.coord.Vote(ctx, pollID, userID, a.Option)
	case wire.ActionClosePoll:
		_, err = s.coord.ClosePoll(ctx, pollID)
	default:
		err = s.coord.DeletePoll(ctx, pollID)
	}
	return err
}

// reject reports a failed action to the acting connection only.
func (s *Server) reject(ctx context.Context, conn *Conn, a wire.Action, err error) {
	code := errutil.Code(err)
	switch {
	case poll.IsBusinessError(err), code == CodeUnknownAction:
		conn.logger.DebugContext(ctx, "action rejected", "action", a.Action, "code", code)
		conn.sendJSON(wire.ErrorEvent(code, err.Error()))
	default:
		errutil.LogError(conn.logger, "poll action failed", err, "action", a.Action, "title", a.Title)
		conn.sendJSON(wire.ErrorEvent(CodeInternal, "internal error"))
	}
}

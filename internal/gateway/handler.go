package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/redact"
	"github.com/phrazzld/taskrelay/internal/session"
)

const maxMessageSize = 64 * 1024

// Options configures the websocket endpoint.
type Options struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
}

// OptionsFrom builds Options from loaded configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Session.WriteTimeout(),
		PongTimeout:    cfg.Session.PongTimeout(),
	}
}

// Gateway is the websocket endpoint for result notifications.
type Gateway struct {
	admitter *Admitter
	router   *session.Router
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger
}

// New creates a Gateway.
func New(admitter *Admitter, router *session.Router, opts Options, logger *slog.Logger) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	return &Gateway{
		admitter: admitter,
		router:   router,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
		logger:   logger.With("component", "gateway"),
	}
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// ServeHTTP admits the client and serves its session until it disconnects.
// Rejected clients complete the handshake only to receive the close code.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admission, rejection := g.admitter.Admit(ctx, CredentialFromRequest(r))

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	ws := newWSConn(conn, g.opts.WriteTimeout)

	if rejection != nil {
		level := slog.LevelInfo
		if rejection.Reason == ReasonInternalError {
			level = slog.LevelError
		}
		g.logger.Log(ctx, level, "connection rejected",
			"reason", rejection.Reason,
			"code", rejection.Code(),
			"error", redact.Error(rejection.Err),
			"remote_addr", r.RemoteAddr)
		_ = ws.Close(rejection.Code(), string(rejection.Reason))
		return
	}

	sess, err := g.router.Open(ctx, admission.Identity, ws)
	if err != nil {
		g.logger.Error("failed to open session", "error", err, "user_id", admission.Identity)
		_ = ws.Close(CloseInternalError, string(ReasonInternalError))
		return
	}
	defer func() { _ = sess.Close(session.CloseNormal, "") }()

	if err := sess.Acknowledge(ctx); err != nil {
		g.logger.Warn("failed to acknowledge session", "error", err, "session_id", sess.ID)
		_ = sess.Close(session.CloseInternalError, "internal error")
		return
	}

	g.serve(ctx, conn, ws, sess)
}

// serve runs the read loop and keepalive pings for an open session.
func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, ws *wsConn, sess *session.Session) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go g.keepalive(ws, stopPings)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ws.isClosed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("client read error", "session_id", sess.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))

		if msgType != websocket.TextMessage {
			continue
		}
		if err := sess.HandleInbound(ctx, data); err != nil {
			g.logger.Debug("failed to answer client message", "session_id", sess.ID, "error", err)
			return
		}
	}
}

func (g *Gateway) keepalive(ws *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(g.opts.PongTimeout * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}

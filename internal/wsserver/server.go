// Package wsserver is the WebSocket transport: it upgrades an HTTP
// connection, resolves the connection-open auth outcome spec §4.5
// defines, and then wires the resulting connmgr.Session to the Message
// Router's Dispatch through a read pump and a write pump.
//
// Grounded on the teacher's internal/handlers/chat_handler.go
// HandleWebSocket/readPump/writePump (Upgrader with an origin allowlist,
// SetReadLimit/SetReadDeadline/SetPongHandler, a ticker-driven ping in
// the write pump), adapted to hand every decoded frame to
// router.Dispatch against a connmgr.Session instead of the teacher's
// Hub/Client broadcast channel.
package wsserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/authclient"
	"github.com/veilchat/chatsync/internal/connmgr"
	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// Limits mirrors the teacher's maxMessageSize/writeWait/pongWait/
// pingPeriod constants, kept as package-level constants shared by every
// Server.
const (
	maxMessageSize = 65536
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Config configures the Upgrader's origin check.
type Config struct {
	AllowedOrigins []string
}

// Server upgrades HTTP requests on the chat endpoint to WebSocket
// connections and drives each one's read/write pumps.
type Server struct {
	conns    *connmgr.Manager
	router   *router.Router
	resolver router.AuthResolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New builds a Server. resolver is typically *authclient.Client.
func New(cfg Config, conns *connmgr.Manager, r *router.Router, resolver router.AuthResolver, logger *zap.Logger) *Server {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Server{
		conns:    conns,
		router:   r,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(req *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[req.Header.Get("Origin")]
			},
		},
	}
}

// HandleChat is the Gin handler mounted at the chat WebSocket route.
// It authenticates before ever upgrading where possible (AuthInvalid),
// and for AuthStepUpRequired upgrades only long enough to deliver a
// single private error frame, per spec §4.5's "no frames processed
// in between" requirement: the connection closes before Dispatch is
// ever reached, so no frame from it is ever processed.
func (s *Server) HandleChat(c *gin.Context) {
	token := bearerToken(c.Request)
	deviceFP := c.Query("device_fp")
	if deviceFP == "" {
		deviceFP = c.GetHeader("X-Device-Fingerprint")
	}

	s.logLocalClaims(token)

	outcome, userHash, err := router.Authenticate(c.Request.Context(), s.resolver, token, deviceFP)
	if err != nil || outcome == router.AuthInvalid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if outcome == router.AuthStepUpRequired {
		s.rejectWithStepUp(conn)
		return
	}

	session := s.conns.Accept(userHash, deviceFP)
	limiters := s.router.NewSessionLimiters()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		session.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	session.OnClose = func(reason error) {
		_ = conn.Close()
	}

	go s.writePump(conn, session)
	s.readPump(c.Request.Context(), conn, session, limiters, userHash, deviceFP)
}

// rejectWithStepUp sends a single step_up_required error frame and
// closes, without ever registering a session or calling Dispatch.
func (s *Server) rejectWithStepUp(conn *websocket.Conn) {
	defer conn.Close()
	frame, err := protocol.Outbound(protocol.TypeError, protocol.ErrorFrame{Code: protocol.CodeStepUpRequired})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

// logLocalClaims best-effort logs the token's unverified "sub" claim for
// connection-attempt diagnostics. It never influences the auth decision,
// which always goes through router.Authenticate/resolver.ResolveToken;
// a token that fails to parse locally is simply not logged here.
func (s *Server) logLocalClaims(token string) {
	claims, err := authclient.ParseLocalClaims(token)
	if err != nil {
		return
	}
	s.logger.Debug("connection attempt claims", zap.Any("sub", claims["sub"]))
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// readPump loops reading frames off the connection, resetting the
// heartbeat miss counter on every one (not only explicit heartbeat
// frames, matching the teacher's lastSeen update), then dispatching.
// A protocol violation (domain.ErrProtocol) closes the session per
// §4.5. ErrDropped is frame-rate backpressure and is silently logged,
// per DESIGN.md. ErrExpensiveRateLimited instead replies with a
// private rate_limited error frame so the client knows to back off,
// rather than silently swallowing its retry.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, session *connmgr.Session, limiters *router.SessionLimiters, userHash, deviceFP string) {
	defer func() {
		s.conns.Remove(userHash, deviceFP)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.Touch()

		err = s.router.Dispatch(ctx, limiters, session, userHash, deviceFP, raw)
		switch {
		case err == nil:
		case errors.Is(err, router.ErrDropped):
			s.logger.Debug("frame dropped by rate limiter", zap.String("user_hash", userHash), zap.Error(err))
		case errors.Is(err, router.ErrExpensiveRateLimited):
			s.logger.Debug("expensive handler rate limited", zap.String("user_hash", userHash), zap.Error(err))
			s.sendRateLimitedFrame(userHash, deviceFP)
		case errors.Is(err, domain.ErrProtocol):
			s.logger.Info("closing session on protocol error", zap.String("user_hash", userHash), zap.Error(err))
			session.Close()
			return
		default:
			s.logger.Warn("handler error", zap.String("user_hash", userHash), zap.Error(err))
		}
	}
}

// sendRateLimitedFrame delivers a non-fatal rate_limited error frame to
// the one device that tripped the expensive-handler limiter, per spec
// §4.5/§4.6's requirement that expensive-handler backpressure surface
// to the client instead of failing silently like a dropped frame.
func (s *Server) sendRateLimitedFrame(userHash, deviceFP string) {
	frame, err := protocol.Outbound(protocol.TypeError, protocol.ErrorFrame{Code: protocol.CodeRateLimited})
	if err != nil {
		s.logger.Warn("failed to build rate_limited frame", zap.Error(err))
		return
	}
	if err := s.conns.SendToDevice(userHash, deviceFP, frame); err != nil {
		s.logger.Debug("failed to deliver rate_limited frame", zap.String("user_hash", userHash), zap.Error(err))
	}
}

// writePump drains the session's outbound queue onto the connection and
// pings on pingPeriod, exactly mirroring the teacher's writePump ticker
// loop. Returns (closing the connection via session.OnClose having
// already fired, or on its own write failure) when the outbound channel
// closes or a write fails.
func (s *Server) writePump(conn *websocket.Conn, session *connmgr.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

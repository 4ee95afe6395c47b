package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/aris-ai/aris/pkg/models"
)

// wsHandler handles GET /api/v1/ws: it verifies the bearer token, resolves
// the session, upgrades to WebSocket, and runs the connection until it
// closes. The token is checked before any session state is created so a
// refused handshake leaves nothing behind.
func (s *Server) wsHandler(c *echo.Context) error {
	claims, err := s.verifyBearer(c)
	if err != nil {
		slog.Warn("WebSocket handshake refused", "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
	}

	// A client resuming a conversation passes its session id; a fresh
	// conversation gets one minted here and announced on the connection.
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess, err := s.sessions.GetOrCreate(c.Request().Context(), sessionID, claims.UserID, models.AgentKind(s.cfg.Agent.Variant))
	if err != nil {
		return mapStoreError(err)
	}
	if sess.UserID != claims.UserID {
		return echo.NewHTTPError(http.StatusForbidden, "session belongs to another user")
	}

	// Without configured origins the library's same-host check applies,
	// which still admits non-browser clients (they send no Origin header).
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedWSOrigins
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// handleConnection blocks until the WebSocket closes.
	s.handleConnection(c.Request().Context(), conn, sess)
	return nil
}

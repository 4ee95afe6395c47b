package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/aris-ai/aris/pkg/events"
	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/orchestrator"
)

// maxInboundFrameBytes caps one inbound frame. User text can be large but
// documents arrive as bucket/key references, never inline.
const maxInboundFrameBytes = 1 << 20

// clientFrame is one inbound JSON object from the client.
type clientFrame struct {
	Message   string     `json:"message"`
	Action    string     `json:"action"`
	Question  string     `json:"question"`
	DocBucket string     `json:"doc_bucket"`
	DocKey    string     `json:"doc_key"`
	ModelID   string     `json:"model_id"`
	RagParams *ragParams `json:"rag_params"`
}

// ragParams carries nested client options. Only model_params.temperature
// feeds the runtime options; search and guardrail settings belong to the
// retrieval collaborator and are accepted without effect here.
type ragParams struct {
	ModelParams *modelParams   `json:"model_params"`
	Search      *searchParams  `json:"search"`
	Guardrails  map[string]any `json:"guardrails"`
}

type modelParams struct {
	// Temperature stays untyped: clients send numbers and strings, and the
	// allowlist mapping decides what parses.
	Temperature any `json:"temperature"`
}

type searchParams struct {
	DeepSearch bool `json:"deep_search"`
	WebSearch  bool `json:"web_search"`
}

// text returns the user's message, accepting the agent-question form as an
// alternative to the message key.
func (f *clientFrame) text() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Action == "agent" {
		return f.Question
	}
	return ""
}

// temperature returns the raw temperature value, or nil when absent.
func (f *clientFrame) temperature() any {
	if f.RagParams == nil || f.RagParams.ModelParams == nil {
		return nil
	}
	return f.RagParams.ModelParams.Temperature
}

// wsSink adapts one WebSocket connection to the event bus sink contract.
// The bus serializes sends and bounds each one with a timeout context, so
// no locking happens here.
type wsSink struct {
	conn *websocket.Conn
}

func (w *wsSink) Send(ctx context.Context, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// writeJSON sends one frame outside the bus. Used only for the handshake
// announcement, before the bus carries any traffic for the connection.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// handleConnection runs one WebSocket connection: it builds the session's
// event bus and agent, registers the attachment, replays the active plan
// snapshot, and processes inbound frames until the connection closes. The
// registry cancels ctx when a newer connection attaches to the same session
// or when the server shuts down.
func (s *Server) handleConnection(parentCtx context.Context, conn *websocket.Conn, sess *models.Session) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(maxInboundFrameBytes)

	bus := events.NewBus(sess.ID, &wsSink{conn: conn})
	defer bus.Close()

	agent, err := orchestrator.New(sess.AgentKind, sess.ID, s.agentDeps, bus)
	if err != nil {
		slog.Error("Failed to build session agent",
			"session_id", sess.ID, "agent_kind", sess.AgentKind, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "agent initialization failed")
		return
	}

	if err := s.registry.Attach(sess.ID, agent, cancel); err != nil {
		slog.Warn("Rejected WebSocket attach", "session_id", sess.ID, "error", err)
		_ = conn.Close(websocket.StatusGoingAway, "server is shutting down")
		return
	}
	defer s.registry.Detach(sess.ID, agent)

	slog.Info("WebSocket connected",
		"session_id", sess.ID, "user_id", sess.UserID, "agent_kind", sess.AgentKind)

	// Announce the session id first: clients that let the server mint it
	// need it before anything else arrives.
	if err := writeJSON(ctx, conn, map[string]string{
		"type":       "connection.established",
		"session_id": sess.ID,
	}); err != nil {
		return
	}

	// A reconnecting client resyncs from the current plan snapshot.
	agent.PublishActivePlan(ctx)

	go s.pingLoop(ctx, bus)

	s.readLoop(ctx, conn, bus, agent)

	slog.Info("WebSocket disconnected", "session_id", sess.ID)
}

// pingLoop pushes keep-alive frames through the bus so they interleave
// cleanly with turn frames.
func (s *Server) pingLoop(ctx context.Context, bus *events.Bus) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bus.Ping()
		}
	}
}

// readLoop processes inbound frames until the connection closes or ctx is
// cancelled. A malformed frame costs an error frame, never the session.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, bus *events.Bus, agent orchestrator.Agent) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or context cancelled.
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Malformed client frame",
				"session_id", bus.SessionID(), "error", err)
			bus.Error("invalid frame: expected a JSON object")
			continue
		}

		s.handleClientFrame(ctx, bus, agent, &frame)
	}
}

// handleClientFrame applies runtime options and runs the turn pipeline for
// one inbound frame. Turns run synchronously: the next frame is not read
// until the current turn finishes, which keeps per-session work sequential.
func (s *Server) handleClientFrame(ctx context.Context, bus *events.Bus, agent orchestrator.Agent, frame *clientFrame) {
	if err := s.sessions.Touch(ctx, bus.SessionID()); err != nil {
		slog.Warn("Failed to record session activity",
			"session_id", bus.SessionID(), "error", err)
	}

	temp := frame.temperature()
	if frame.ModelID != "" || temp != nil {
		agent.SetRuntimeOptions(ctx, frame.ModelID, temp)
	}

	text := frame.text()
	if text == "" {
		// A frame carrying only runtime options does not start a turn.
		if frame.ModelID == "" && temp == nil {
			bus.Error("message is required")
		}
		return
	}

	if _, err := agent.ProcessMessage(ctx, orchestrator.UserMessage{
		Text:      text,
		DocBucket: frame.DocBucket,
		DocKey:    frame.DocKey,
	}); err != nil {
		// Anything user-visible was already emitted by the agent; this log
		// is for the operator.
		slog.Error("Turn failed", "session_id", bus.SessionID(), "error", err)
	}
}

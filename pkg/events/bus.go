package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aris-ai/aris/pkg/models"
)

// sendTimeout bounds a single sink write. A stalled client must not block
// the session's writer goroutine indefinitely.
const sendTimeout = 10 * time.Second

// queueCapacity bounds the per-session frame backlog. When the client cannot
// keep up, new frames are dropped (transport errors drop frames, never turns).
const queueCapacity = 256

// Sink receives frames in emission order. Implemented by the WebSocket
// connection wrapper and by test recorders.
type Sink interface {
	Send(ctx context.Context, frame any) error
}

// Bus is the per-session ordered event sink. All emit methods are safe for
// concurrent use; frames for one session are delivered strictly in emission
// order by a single writer goroutine. Frames across sessions interleave
// freely because every session has its own Bus.
type Bus struct {
	sessionID string
	sink      Sink

	queue chan any
	done  chan struct{}

	mu          sync.Mutex
	closed      bool
	lastPlanSig map[string]string // plan_id → last emitted status signature
}

// NewBus creates a bus for one session bound to one client connection and
// starts its writer goroutine. Call Close when the connection goes away.
func NewBus(sessionID string, sink Sink) *Bus {
	b := &Bus{
		sessionID:   sessionID,
		sink:        sink,
		queue:       make(chan any, queueCapacity),
		done:        make(chan struct{}),
		lastPlanSig: make(map[string]string),
	}
	go b.run()
	return b
}

// run drains the queue to the sink until the queue is closed.
func (b *Bus) run() {
	defer close(b.done)
	for frame := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := b.sink.Send(ctx, frame)
		cancel()
		if err != nil {
			slog.Warn("Failed to deliver frame",
				"session_id", b.sessionID, "error", err)
		}
	}
}

// Progress emits a chain_of_thought frame.
func (b *Bus) Progress(text string) {
	b.emit(ProgressFrame{Type: FrameTypeChainOfThought, Message: text})
}

// PlanCreate emits a plan_create frame and seeds the dedupe signature so an
// immediate identical plan_update is suppressed.
func (b *Bus) PlanCreate(plan *models.ExecutionPlan) {
	snapshot := NewPlanSnapshot(plan)
	b.mu.Lock()
	b.lastPlanSig[plan.ID] = planSignature(snapshot)
	b.mu.Unlock()
	b.emit(PlanFrame{Type: FrameTypePlanCreate, Data: snapshot})
}

// PlanUpdate emits a plan_update frame unless it carries exactly the same
// (plan status, per-action status) signature as the previous frame for the
// same plan.
func (b *Bus) PlanUpdate(plan *models.ExecutionPlan) {
	snapshot := NewPlanSnapshot(plan)
	sig := planSignature(snapshot)

	b.mu.Lock()
	if b.lastPlanSig[plan.ID] == sig {
		b.mu.Unlock()
		return
	}
	b.lastPlanSig[plan.ID] = sig
	b.mu.Unlock()

	b.emit(PlanFrame{Type: FrameTypePlanUpdate, Data: snapshot})
}

// FinalMessage emits the closing message frame of a turn.
func (b *Bus) FinalMessage(text string, data map[string]any) {
	b.emit(MessageFrame{Type: FrameTypeMessage, Message: text, Data: data, Action: ActionClose})
}

// DocumentNotice emits a doc frame announcing a produced document.
func (b *Bus) DocumentNotice(doc DocumentInfo) {
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	b.emit(DocFrame{Type: FrameTypeDoc, Data: DocData{Document: doc}})
}

// Error emits an error frame. The session stays usable.
func (b *Bus) Error(message string) {
	b.emit(ErrorFrame{Type: FrameTypeError, Message: message})
}

// Ping emits a keep-alive frame.
func (b *Bus) Ping() {
	b.emit(PingFrame{Type: FrameTypePing})
}

// emit enqueues a frame for ordered delivery. After Close, or when the
// client has fallen queueCapacity frames behind, the frame is dropped.
func (b *Bus) emit(frame any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	select {
	case b.queue <- frame:
		b.mu.Unlock()
	default:
		b.mu.Unlock()
		slog.Warn("Frame queue full, dropping frame",
			"session_id", b.sessionID, "frame", fmt.Sprintf("%T", frame))
	}
}

// Close stops accepting frames, drains what was already queued, and waits
// for the writer goroutine to exit. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

// SessionID returns the session this bus belongs to.
func (b *Bus) SessionID() string {
	return b.sessionID
}

// planSignature folds the plan status and every action's status into a
// stable string for duplicate suppression.
func planSignature(s PlanSnapshot) string {
	parts := make([]string, 0, len(s.Actions)+1)
	parts = append(parts, string(s.Status))
	for _, a := range s.Actions {
		parts = append(parts, a.ID+"="+string(a.Status))
	}
	sort.Strings(parts[1:])
	return strings.Join(parts, ",")
}

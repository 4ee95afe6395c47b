package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aris-ai/aris/pkg/llm"
)

// LLMScriptEntry is one scripted model reply.
type LLMScriptEntry struct {
	// Text is the raw model output returned for this call.
	Text string

	// Err is returned instead of a response when set.
	Err error

	// WaitCh, when set, blocks the call until the channel closes. Context
	// cancellation wins over the channel.
	WaitCh <-chan struct{}

	// OnBlock receives one token when the call starts waiting on WaitCh,
	// letting the test synchronize with an in-flight turn.
	OnBlock chan<- struct{}
}

// ScriptedLLMProvider satisfies llm.Provider with pre-scripted replies.
//
// Entries are consumed from two pools: routed entries match a substring of
// the request's user content and are tried first, in registration order;
// sequential entries serve everything else in order. Routing keys turns to
// scripts in tests that run several conversations over one provider.
type ScriptedLLMProvider struct {
	mu         sync.Mutex
	sequential []LLMScriptEntry
	seqIndex   int
	routes     []*llmRoute
	captured   []*llm.Request
}

type llmRoute struct {
	match   string
	entries []LLMScriptEntry
	index   int
}

func NewScriptedLLMProvider() *ScriptedLLMProvider {
	return &ScriptedLLMProvider{}
}

// AddSequential appends entries to the default pool.
func (p *ScriptedLLMProvider) AddSequential(entries ...LLMScriptEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequential = append(p.sequential, entries...)
}

// AddRouted appends entries served to requests whose user content contains
// match. Repeated calls with the same match extend that route's script.
func (p *ScriptedLLMProvider) AddRouted(match string, entries ...LLMScriptEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.routes {
		if r.match == match {
			r.entries = append(r.entries, entries...)
			return
		}
	}
	p.routes = append(p.routes, &llmRoute{match: match, entries: entries})
}

// Complete implements llm.Provider.
func (p *ScriptedLLMProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.captured = append(p.captured, req)
	entry, err := p.nextEntry(req)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if entry.Err != nil {
		return nil, entry.Err
	}
	return &llm.Response{
		Text:       entry.Text,
		StopReason: "end_turn",
		Usage:      llm.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// nextEntry picks the scripted reply for req. Caller holds p.mu.
func (p *ScriptedLLMProvider) nextEntry(req *llm.Request) (*LLMScriptEntry, error) {
	content := userContent(req)
	for _, r := range p.routes {
		if r.index < len(r.entries) && strings.Contains(content, r.match) {
			entry := &r.entries[r.index]
			r.index++
			return entry, nil
		}
	}
	if p.seqIndex < len(p.sequential) {
		entry := &p.sequential[p.seqIndex]
		p.seqIndex++
		return entry, nil
	}
	return nil, fmt.Errorf("scripted LLM: no entry for call %d", len(p.captured))
}

// CallCount returns how many completions were requested.
func (p *ScriptedLLMProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.captured)
}

// CapturedRequests returns a copy of every request received, in order.
func (p *ScriptedLLMProvider) CapturedRequests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.Request, len(p.captured))
	copy(out, p.captured)
	return out
}

func userContent(req *llm.Request) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			sb.WriteString(m.Content)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aris-ai/aris/pkg/config"
)

// loginTimeout bounds a login tool call. Logins hit an auth backend, not a
// long-running tool, so the default tool timeout would be far too generous.
const loginTimeout = 15 * time.Second

// tokenFields are the result fields a login tool may return its token under,
// checked in order.
var tokenFields = []string{"auth_token", "token", "access_token", "session_token"}

// tokenStore caches per-server auth tokens obtained via login tools.
// The zero value is ready to use.
type tokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func (s *tokenStore) get(serverName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[serverName]
	return token, ok
}

func (s *tokenStore) set(serverName, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.tokens[serverName] = token
}

func (s *tokenStore) clear(serverName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, serverName)
}

// authenticate calls the server's login tool with the configured credentials
// and caches the returned token. Callers must ensure the server is connected.
func (d *Dispatcher) authenticate(ctx context.Context, serverName string, serverCfg *config.MCPServerConfig) error {
	if serverCfg.LoginTool == "" {
		return fmt.Errorf("server %q requires auth but has no login tool configured", serverName)
	}

	d.mu.RLock()
	session := d.sessions[serverName]
	d.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("no session for server %q", serverName)
	}

	loginCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	result, err := session.CallTool(loginCtx, &mcpsdk.CallToolParams{
		Name: serverCfg.LoginTool,
		Arguments: map[string]any{
			"username": serverCfg.Username,
			"password": serverCfg.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("login call to %q failed: %w", serverName, err)
	}

	normalized := NormalizeResult(result)
	if errText := resultError(normalized); errText != "" {
		return fmt.Errorf("login to %q rejected: %s", serverName, errText)
	}

	token := extractToken(normalized)
	if token == "" {
		return fmt.Errorf("login to %q returned no recognizable token", serverName)
	}

	d.tokens.set(serverName, token)
	slog.Info("MCP server authenticated", "server", serverName)
	return nil
}

// injectAuthToken returns the call arguments with the cached token added for
// servers that require auth. The original map is not mutated. A
// planner-supplied auth_token value is always overridden: tokens come from
// the dispatcher, never from the model.
func (d *Dispatcher) injectAuthToken(serverName string, serverCfg *config.MCPServerConfig, args map[string]any) map[string]any {
	if !serverCfg.RequiresAuth {
		return args
	}
	token, ok := d.tokens.get(serverName)
	if !ok {
		return args
	}

	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["auth_token"] = token
	return out
}

// extractToken pulls a token out of a normalized login result.
func extractToken(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	for _, field := range tokenFields {
		if token, ok := m[field].(string); ok && token != "" {
			return token
		}
	}
	// Some login tools nest the token one level down.
	if data, ok := m["data"].(map[string]any); ok {
		for _, field := range tokenFields {
			if token, ok := data[field].(string); ok && token != "" {
				return token
			}
		}
	}
	return ""
}

// isAuthFailure reports whether a call outcome is an auth-class failure
// worth one silent re-authentication: an error or tool-reported error whose
// text indicates a rejected or expired credential.
func isAuthFailure(result *mcpsdk.CallToolResult, err error) bool {
	if err != nil {
		return containsAuthIndicator(err.Error())
	}
	if result != nil && result.IsError {
		return containsAuthIndicator(extractText(result))
	}
	return false
}

var authIndicators = []string{
	"unauthorized",
	"unauthenticated",
	"401",
	"403",
	"forbidden",
	"invalid token",
	"token expired",
	"expired token",
	"authentication failed",
	"not authenticated",
	"session expired",
	"invalid credentials",
}

func containsAuthIndicator(msg string) bool {
	lower := strings.ToLower(msg)
	for _, indicator := range authIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

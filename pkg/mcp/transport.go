package mcp

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aris-ai/aris/pkg/config"
)

// createTransport creates an MCP SDK transport for a server. The full server
// config is needed because the resolved static bearer token lives beside the
// transport block.
func createTransport(serverCfg *config.MCPServerConfig) (mcpsdk.Transport, error) {
	cfg := serverCfg.Transport
	switch cfg.Type {
	case config.TransportTypeStdio:
		return createStdioTransport(cfg)
	case config.TransportTypeHTTP:
		return createHTTPTransport(serverCfg)
	case config.TransportTypeSSE:
		return createSSETransport(serverCfg)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

func createStdioTransport(cfg config.TransportConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	// Inherit parent environment + config overrides.
	// Template vars (e.g., {{.MES_ENV}}) are already resolved by the loader.
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(serverCfg *config.MCPServerConfig) (*mcpsdk.StreamableClientTransport, error) {
	cfg := serverCfg.Transport
	if cfg.URL == "" {
		return nil, fmt.Errorf("HTTP transport requires url")
	}
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: cfg.URL,
	}
	if needsCustomHTTPClient(serverCfg) {
		transport.HTTPClient = buildHTTPClient(serverCfg)
	}
	return transport, nil
}

func createSSETransport(serverCfg *config.MCPServerConfig) (*mcpsdk.SSEClientTransport, error) {
	cfg := serverCfg.Transport
	if cfg.URL == "" {
		return nil, fmt.Errorf("SSE transport requires url")
	}
	transport := &mcpsdk.SSEClientTransport{
		Endpoint: cfg.URL,
	}
	if needsCustomHTTPClient(serverCfg) {
		transport.HTTPClient = buildHTTPClient(serverCfg)
	}
	return transport, nil
}

func needsCustomHTTPClient(serverCfg *config.MCPServerConfig) bool {
	cfg := serverCfg.Transport
	return serverCfg.StaticToken != "" || cfg.VerifySSL != nil || cfg.Timeout > 0
}

// buildHTTPClient creates an http.Client with auth, TLS, and timeout settings.
func buildHTTPClient(serverCfg *config.MCPServerConfig) *http.Client {
	cfg := serverCfg.Transport
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()

	// TLS verification
	if cfg.VerifySSL != nil && !*cfg.VerifySSL {
		httpTransport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,             //nolint:gosec // user-configured
			MinVersion:         tls.VersionTLS12, // prevent protocol downgrade even in relaxed mode
		}
	}

	client := &http.Client{
		Transport: httpTransport,
	}

	// Static bearer token via round-tripper wrapper
	if serverCfg.StaticToken != "" {
		client.Transport = &bearerTokenTransport{
			base:  client.Transport,
			token: serverCfg.StaticToken,
		}
	}

	// Timeout
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return client
}

// bearerTokenTransport wraps an http.RoundTripper to add Authorization headers.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

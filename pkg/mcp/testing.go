package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InjectSession injects a pre-connected MCP SDK session into the dispatcher.
// This is intended for test infrastructure that needs to wire in-memory MCP
// servers without going through the real transport creation path.
func (d *Dispatcher) InjectSession(serverName string, session *mcpsdk.ClientSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[serverName] = session
	d.states[serverName] = StateConnected
	delete(d.lastErrs, serverName)
}

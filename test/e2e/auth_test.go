package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// TestE2E_AuthHandshake covers token verification on the WebSocket
// handshake and the read API: missing and expired tokens are refused before
// any session state exists, valid tokens pass via header or query
// parameter, and the health endpoint stays open.
func TestE2E_AuthHandshake(t *testing.T) {
	app := NewTestApp(t, WithAuth(testJWTSecret))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// No token.
	_, err := WSConnect(ctx, app.WSURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	// Expired token.
	expired := signToken(t, testJWTSecret, "user-1", -time.Hour)
	_, err = WSConnectWithToken(ctx, app.WSURL, expired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	// Token signed with another secret.
	forged := signToken(t, "another-secret-another-secret-00", "user-1", time.Hour)
	_, err = WSConnectWithToken(ctx, app.WSURL, forged)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	// Valid token in the Authorization header.
	valid := signToken(t, testJWTSecret, "user-1", time.Hour)
	ws, err := WSConnectWithToken(ctx, app.WSURL, valid)
	require.NoError(t, err)
	_, err = ws.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)
	ws.Close()

	// Browser clients pass the token as a query parameter instead.
	ws2, err := WSConnect(ctx, app.WSURL+"?token="+valid)
	require.NoError(t, err)
	_, err = ws2.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)
	ws2.Close()

	// The read API requires the same token; health does not.
	app.getJSON(t, "/api/v1/sessions/"+uuid.NewString(), http.StatusUnauthorized)
	app.getJSONAuth(t, "/api/v1/sessions/"+uuid.NewString(), valid, http.StatusNotFound)
	app.getJSON(t, "/health", http.StatusOK)
}

// TestE2E_SessionOwnership verifies a session can only be resumed by the
// user who created it.
func TestE2E_SessionOwnership(t *testing.T) {
	app := NewTestApp(t, WithAuth(testJWTSecret))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	aliceToken := signToken(t, testJWTSecret, "alice", time.Hour)
	bobToken := signToken(t, testJWTSecret, "bob", time.Hour)

	sessionID := uuid.NewString()

	ws, err := WSConnectWithToken(ctx, app.WSURLFor(sessionID), aliceToken)
	require.NoError(t, err)
	_, err = ws.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)
	ws.Close()

	// A different user resuming the same session is refused.
	_, err = WSConnectWithToken(ctx, app.WSURLFor(sessionID), bobToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	// The owner reconnects freely.
	ws2, err := WSConnectWithToken(ctx, app.WSURLFor(sessionID), aliceToken)
	require.NoError(t, err)
	defer ws2.Close()
	established, err := ws2.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, sessionID, established.Parsed["session_id"])
}

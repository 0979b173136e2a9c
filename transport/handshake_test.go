package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSigner_IssueThenVerifyRoundTrips(t *testing.T) {
	signer := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator", time.Minute)
	token, err := signer.Issue("worker-1")
	require.NoError(t, err)

	workerID, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", workerID)
}

func TestHandshakeSigner_VerifyRejectsWrongKey(t *testing.T) {
	signer := NewHandshakeSigner([]byte("key-a-0123456789012"), "orchestrator", time.Minute)
	token, err := signer.Issue("worker-1")
	require.NoError(t, err)

	other := NewHandshakeSigner([]byte("key-b-0123456789012"), "orchestrator", time.Minute)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestHandshakeSigner_VerifyRejectsExpiredToken(t *testing.T) {
	signer := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator", time.Millisecond)
	token, err := signer.Issue("worker-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = signer.Verify(token)
	assert.Error(t, err)
}

func TestHandshakeSigner_VerifyRejectsWrongIssuer(t *testing.T) {
	signer := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator-a", time.Minute)
	token, err := signer.Issue("worker-1")
	require.NoError(t, err)

	other := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator-b", time.Minute)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestDoHandshake_AcceptsValidSignedToken(t *testing.T) {
	signer := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator", time.Minute)
	token, err := signer.Issue("worker-1")
	require.NoError(t, err)

	client := &fakeWorkerClient{handshakeResp: &HandshakeResponse{OK: true, WorkerID: "worker-1", Token: token}}
	workerID, err := DoHandshake(context.Background(), client, signer)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", workerID)
}

func TestDoHandshake_RejectsWorkerIDMismatch(t *testing.T) {
	signer := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator", time.Minute)
	token, err := signer.Issue("worker-1")
	require.NoError(t, err)

	client := &fakeWorkerClient{handshakeResp: &HandshakeResponse{OK: true, WorkerID: "worker-impostor", Token: token}}
	_, err = DoHandshake(context.Background(), client, signer)
	assert.Error(t, err)
}

func TestDoHandshake_RejectsWhenWorkerRefuses(t *testing.T) {
	signer := NewHandshakeSigner([]byte("test-key-0123456789"), "orchestrator", time.Minute)
	client := &fakeWorkerClient{handshakeResp: &HandshakeResponse{OK: false}}
	_, err := DoHandshake(context.Background(), client, signer)
	assert.Error(t, err)
}

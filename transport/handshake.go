package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// HandshakeSigner issues and verifies the short-lived signed JWT a worker
// presents on handshake before the transport accepts attach/execute
// calls — closing the gap the teacher's plain go-plugin magic-cookie
// handshake leaves open (the cookie proves the binary was launched by
// us, not that the process still speaking on the other end of the pipe
// is the one we launched).
type HandshakeSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewHandshakeSigner builds a signer using the given HMAC key, issuer
// claim, and token lifetime.
func NewHandshakeSigner(key []byte, issuer string, ttl time.Duration) *HandshakeSigner {
	return &HandshakeSigner{key: key, issuer: issuer, ttl: ttl}
}

// Issue mints a signed token asserting workerID, for use by a worker
// implementation's own Handshake handler.
func (s *HandshakeSigner) Issue(workerID string) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(workerID).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(s.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("transport: build handshake token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("transport: sign handshake token: %w", err)
	}
	return string(signed), nil
}

// Verify parses and validates token, returning the asserted worker id.
func (s *HandshakeSigner) Verify(token string) (string, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, s.key), jwt.WithIssuer(s.issuer))
	if err != nil {
		return "", fmt.Errorf("transport: verify handshake token: %w", err)
	}
	return tok.Subject(), nil
}

// DoHandshake performs the orchestrator side of the §4.5.1 handshake: ask
// the dispensed worker to present its signed token, then verify it before
// any execute/attach call is issued.
func DoHandshake(ctx context.Context, client RemoteWorkerClient, signer *HandshakeSigner) (string, error) {
	resp, err := client.Handshake(ctx, &HandshakeRequest{})
	if err != nil {
		return "", fmt.Errorf("transport: handshake rpc: %w", err)
	}
	if resp == nil || !resp.OK {
		return "", fmt.Errorf("transport: worker refused handshake")
	}
	workerID, err := signer.Verify(resp.Token)
	if err != nil {
		return "", fmt.Errorf("transport: reject worker handshake token: %w", err)
	}
	if workerID != resp.WorkerID {
		return "", fmt.Errorf("transport: worker id mismatch between token subject and handshake response")
	}
	return workerID, nil
}

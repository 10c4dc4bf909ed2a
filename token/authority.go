// Package token implements the rotating-secret capability tokens that
// authorize announce_peer requests.
package token

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SecretLength is the minimum entropy, in bytes, of a rotation secret (160 bits).
const SecretLength = 20

// RotationInterval is how often the current secret is rotated out.
const RotationInterval = 5 * time.Minute

// Authority issues and verifies announce_peer tokens bound to a remote IP.
// It keeps exactly two generations of secret so a token remains valid for
// between one and two rotation intervals after issuance.
type Authority struct {
	mu       sync.Mutex
	current  []byte
	previous []byte
}

// NewAuthority creates an Authority with a freshly generated current secret
// and no previous generation.
func NewAuthority() (*Authority, error) {
	secret, err := freshSecret()
	if err != nil {
		return nil, err
	}
	return &Authority{current: secret}, nil
}

func freshSecret() ([]byte, error) {
	b := make([]byte, SecretLength)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "token: generate secret")
	}
	return b, nil
}

// Rotate ages the current secret into previous and generates a new current
// secret. Callers drive this on a RotationInterval ticker.
func (a *Authority) Rotate() error {
	secret, err := freshSecret()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.previous = a.current
	a.current = secret
	return nil
}

// Issue returns a token bound to remoteIP using the current secret.
func (a *Authority) Issue(remoteIP net.IP) []byte {
	a.mu.Lock()
	secret := a.current
	a.mu.Unlock()
	return computeToken(remoteIP, secret)
}

// Verify reports whether token was issued to remoteIP under either the
// current or previous secret generation.
func (a *Authority) Verify(tok []byte, remoteIP net.IP) bool {
	a.mu.Lock()
	current, previous := a.current, a.previous
	a.mu.Unlock()

	if constantTimeEqual(tok, computeToken(remoteIP, current)) {
		return true
	}
	if previous != nil && constantTimeEqual(tok, computeToken(remoteIP, previous)) {
		return true
	}
	return false
}

// computeToken hashes the dotted-quad string form of remoteIP against secret,
// preserving wire compatibility with peers that rely on this exact form.
func computeToken(remoteIP net.IP, secret []byte) []byte {
	h := sha1.New()
	h.Write([]byte(remoteIP.String()))
	h.Write(secret)
	return h.Sum(nil)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

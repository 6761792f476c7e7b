// Package signature authenticates inbound interaction webhooks. The caller
// signs timestamp || body with Ed25519 and sends the hex signature and the
// timestamp as headers.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
)

// Header names carrying the detached signature and its timestamp.
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// ErrInvalidPublicKey is returned by ParsePublicKey for malformed keys.
var ErrInvalidPublicKey = errors.New("public key must be 32 hex-encoded bytes")

// ParsePublicKey decodes a hex-encoded Ed25519 public key. An empty string
// yields a nil key, which Verify always rejects.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(b), nil
}

// Verify reports whether signatureHex is a valid signature of timestamp||body
// under key. body must be the exact bytes received. It never panics: missing
// headers, an unset key, malformed input and failed verification all return
// false.
func Verify(body []byte, signatureHex, timestamp string, key ed25519.PublicKey) (ok bool) {
	if signatureHex == "" || timestamp == "" {
		return false
	}
	if len(key) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(key, msg, sig)
}

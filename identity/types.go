// Package identity defines the cryptographic and session-scoped
// identifiers shared by every other package in this module: the
// opaque validator public key, the session namespace, a validator's
// position within a session, and its reachable addresses.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// ValidatorIdSize is the length in bytes of an Ed25519 public key,
// used verbatim as a ValidatorId.
const ValidatorIdSize = ed25519.PublicKeySize

// ValidatorId is an opaque cryptographic public-key identity. It is
// totally ordered (lexicographic on its byte representation, used for
// tie-breaking) and compared bitwise.
type ValidatorId [ValidatorIdSize]byte

// SigningKey is a validator's private signing key. Never serialized
// onto the wire; only used locally to produce signatures.
type SigningKey [ed25519.PrivateKeySize]byte

// NodeIndex is a validator's 0..n-1 position within a session,
// distinct from its ValidatorId.
type NodeIndex uint32

// SessionId is a monotonic 32-bit session identifier.
type SessionId uint32

// GenerateSigningKey produces a fresh Ed25519 keypair for use as a
// validator's session identity.
func GenerateSigningKey() (SigningKey, ValidatorId, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, ValidatorId{}, fmt.Errorf("identity: generate key: %w", err)
	}
	var sk SigningKey
	var vid ValidatorId
	copy(sk[:], priv)
	copy(vid[:], pub)
	return sk, vid, nil
}

// Public returns the ValidatorId corresponding to this signing key.
func (k SigningKey) Public() ValidatorId {
	var vid ValidatorId
	copy(vid[:], ed25519.PrivateKey(k[:]).Public().(ed25519.PublicKey))
	return vid
}

// Sign produces a detached signature over msg.
func (k SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(k[:]), msg)
}

// Equals reports whether two ValidatorIds are bitwise identical.
func (v ValidatorId) Equals(other ValidatorId) bool {
	return subtle.ConstantTimeCompare(v[:], other[:]) == 1
}

// Less imposes the ValidatorId total order, available for
// deterministic tie-breaking.
func (v ValidatorId) Less(other ValidatorId) bool {
	return bytes.Compare(v[:], other[:]) < 0
}

// IsZero reports whether v is the all-zero ValidatorId (never a valid
// Ed25519 public key in practice, used as a sentinel).
func (v ValidatorId) IsZero() bool {
	var zero ValidatorId
	return v.Equals(zero)
}

// Verify checks sig over msg under this ValidatorId.
func (v ValidatorId) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(v[:]), msg, sig)
}

// Hex returns the full hex encoding of v, suitable for config files
// and logs where truncation is undesirable.
func (v ValidatorId) Hex() string {
	return hex.EncodeToString(v[:])
}

func (v ValidatorId) String() string {
	s := hex.EncodeToString(v[:])
	if len(s) < 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// ParseValidatorId decodes a hex-encoded ValidatorId.
func ParseValidatorId(s string) (ValidatorId, error) {
	var v ValidatorId
	b, err := hex.DecodeString(s)
	if err != nil {
		return v, fmt.Errorf("identity: decode validator id: %w", err)
	}
	if len(b) != ValidatorIdSize {
		return v, errors.New("identity: validator id has wrong length")
	}
	copy(v[:], b)
	return v, nil
}

// Transport tags a Multiaddress's underlying transport.
type Transport uint8

const (
	TransportTCP Transport = iota
	TransportQUIC
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// Multiaddress is a transport-level address for a validator: host,
// port, and transport tag.
type Multiaddress struct {
	Host      string
	Port      uint16
	Transport Transport
}

func (m Multiaddress) String() string {
	return fmt.Sprintf("%s://%s:%d", m.Transport, m.Host, m.Port)
}

// Equals compares two Multiaddresses field-by-field.
func (m Multiaddress) Equals(other Multiaddress) bool {
	return m == other
}

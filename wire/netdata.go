// Package wire implements the length-prefixed framed byte-stream
// protocol every peer connection speaks once its handshake has
// completed: canonical encode/decode of NetworkData, and send/receive
// over any stream that can be split into independently owned read and
// write halves.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/quorumlayer/valnet/identity"
)

// Kind discriminates the NetworkData tagged union.
type Kind uint8

const (
	KindMeta Kind = iota
	KindData
)

// DiscoveryMessage wraps one Authentication for dissemination.
type DiscoveryMessage struct {
	Auth identity.Authentication
}

// NetworkData is the tagged union carried by every data frame: either
// a discovery Meta message or a session Data payload.
type NetworkData struct {
	Kind      Kind
	Meta      DiscoveryMessage
	Payload   []byte
	SessionId identity.SessionId
}

// MetaData constructs a NetworkData wrapping a discovery message.
func MetaData(msg DiscoveryMessage) NetworkData {
	return NetworkData{Kind: KindMeta, Meta: msg}
}

// SessionData constructs a NetworkData carrying an application payload
// tagged with its session.
func SessionData(sid identity.SessionId, payload []byte) NetworkData {
	return NetworkData{Kind: KindData, SessionId: sid, Payload: payload}
}

// Encode produces the canonical, deterministic binary encoding of nd:
// a variant tag byte, then for Meta the length-prefixed
// identity.EncodeAuthentication bytes, and for Data the 4-byte
// big-endian session id followed by the length-prefixed payload. The
// Data layout puts the session id first, which is not the order of
// NetworkData's Payload and SessionId fields.
func Encode(nd NetworkData) []byte {
	switch nd.Kind {
	case KindMeta:
		encoded := identity.EncodeAuthentication(nd.Meta.Auth)
		buf := make([]byte, 0, 1+4+len(encoded))
		buf = append(buf, byte(KindMeta))
		buf = appendLenPrefixed(buf, encoded)
		return buf
	case KindData:
		buf := make([]byte, 0, 1+4+4+len(nd.Payload))
		buf = append(buf, byte(KindData))
		var sid [4]byte
		binary.BigEndian.PutUint32(sid[:], uint32(nd.SessionId))
		buf = append(buf, sid[:]...)
		buf = appendLenPrefixed(buf, nd.Payload)
		return buf
	default:
		panic(fmt.Sprintf("wire: unknown NetworkData kind %d", nd.Kind))
	}
}

// Decode is the inverse of Encode. It returns DecodeError{Reason: ...}
// on any malformed input.
func Decode(b []byte) (NetworkData, error) {
	if len(b) < 1 {
		return NetworkData{}, &DecodeError{Reason: "empty message"}
	}
	kind := Kind(b[0])
	switch kind {
	case KindMeta:
		encoded, off, err := readLenPrefixed(b, 1)
		if err != nil {
			return NetworkData{}, &DecodeError{Reason: err.Error()}
		}
		if off != len(b) {
			return NetworkData{}, &DecodeError{Reason: "trailing bytes after meta message"}
		}
		auth, err := identity.DecodeAuthentication(encoded)
		if err != nil {
			return NetworkData{}, &DecodeError{Reason: err.Error()}
		}
		return MetaData(DiscoveryMessage{Auth: auth}), nil
	case KindData:
		if len(b) < 5 {
			return NetworkData{}, &DecodeError{Reason: "truncated data frame"}
		}
		sid := identity.SessionId(binary.BigEndian.Uint32(b[1:5]))
		payload, off, err := readLenPrefixed(b, 5)
		if err != nil {
			return NetworkData{}, &DecodeError{Reason: err.Error()}
		}
		if off != len(b) {
			return NetworkData{}, &DecodeError{Reason: "trailing bytes after data frame"}
		}
		return SessionData(sid, payload), nil
	default:
		return NetworkData{}, &DecodeError{Reason: fmt.Sprintf("unknown variant tag %d", kind)}
	}
}

func appendLenPrefixed(dst []byte, b []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
	dst = append(dst, tmp[:]...)
	return append(dst, b...)
}

func readLenPrefixed(b []byte, off int) ([]byte, int, error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if off+int(n) > len(b) {
		return nil, 0, fmt.Errorf("truncated value")
	}
	return b[off : off+int(n)], off + int(n), nil
}

package identity

import (
	"encoding/binary"
)

// AuthData is the payload a validator signs to prove which addresses
// it is reachable at, for which session, at which node index.
type AuthData struct {
	Addresses []Multiaddress
	NodeIndex NodeIndex
	SessionId SessionId
}

// CanonicalEncode produces the deterministic byte-identical encoding
// of AuthData used both as the Authentication signing preimage and as
// the AuthData part of EncodeAuthentication's wire representation
// inside a DiscoveryMessage. Field order is fixed
// (addresses, node index, session id); every variable-length part is
// length-prefixed.
func (a AuthData) CanonicalEncode() []byte {
	buf := make([]byte, 0, 64+len(a.Addresses)*32)

	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(a.Addresses)))
	buf = append(buf, tmp[:]...)

	for _, addr := range a.Addresses {
		buf = appendLenPrefixed(buf, []byte(addr.Host))
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], addr.Port)
		buf = append(buf, port[:]...)
		buf = append(buf, byte(addr.Transport))
	}

	binary.BigEndian.PutUint32(tmp[:], uint32(a.NodeIndex))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], uint32(a.SessionId))
	buf = append(buf, tmp[:]...)

	return buf
}

func appendLenPrefixed(dst []byte, b []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
	dst = append(dst, tmp[:]...)
	return append(dst, b...)
}

// Authentication pairs AuthData with a signature by the author's
// private key over AuthData's canonical encoding, plus the author's
// ValidatorId so a recipient can verify without a prior lookup.
type Authentication struct {
	Author    ValidatorId
	Data      AuthData
	Signature []byte
}

// Sign produces an Authentication for data, authored by key.
func Sign(key SigningKey, data AuthData) Authentication {
	return Authentication{
		Author:    key.Public(),
		Data:      data,
		Signature: key.Sign(data.CanonicalEncode()),
	}
}

// VerifySignature checks only the cryptographic signature, not
// session membership or node-index binding — callers that need the
// full invariant from spec §3 ("Authentication verifies under the
// ValidatorId that the session's handler maps to node_id") must also
// consult a session.Handler.
func (a Authentication) VerifySignature() bool {
	return a.Author.Verify(a.Data.CanonicalEncode(), a.Signature)
}

// AddressesEqual reports whether two address sets are identical
// (order-sensitive, matching CanonicalEncode's field order), used by
// the discovery component's freshness check.
func AddressesEqual(a, b []Multiaddress) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

package identity

import (
	"encoding/binary"
	"fmt"
)

// DecodeAuthData parses the encoding produced by AuthData.CanonicalEncode,
// returning the number of bytes consumed.
func DecodeAuthData(b []byte) (AuthData, int, error) {
	var data AuthData
	off := 0

	n, consumed, err := readUint32(b, off)
	if err != nil {
		return data, 0, err
	}
	off = consumed

	addrs := make([]Multiaddress, 0, n)
	for i := uint32(0); i < n; i++ {
		host, consumed, err := readLenPrefixed(b, off)
		if err != nil {
			return data, 0, err
		}
		off = consumed

		if off+2 > len(b) {
			return data, 0, fmt.Errorf("identity: decode auth data: truncated port")
		}
		port := binary.BigEndian.Uint16(b[off : off+2])
		off += 2

		if off+1 > len(b) {
			return data, 0, fmt.Errorf("identity: decode auth data: truncated transport")
		}
		transport := Transport(b[off])
		off++

		addrs = append(addrs, Multiaddress{Host: string(host), Port: port, Transport: transport})
	}
	data.Addresses = addrs

	nodeIdx, consumed, err := readUint32(b, off)
	if err != nil {
		return data, 0, err
	}
	off = consumed
	data.NodeIndex = NodeIndex(nodeIdx)

	sessionID, consumed, err := readUint32(b, off)
	if err != nil {
		return data, 0, err
	}
	off = consumed
	data.SessionId = SessionId(sessionID)

	return data, off, nil
}

// EncodeAuthentication serializes an Authentication: author (fixed
// size), then the AuthData canonical encoding length-prefixed, then
// the signature length-prefixed.
func EncodeAuthentication(a Authentication) []byte {
	encodedData := a.Data.CanonicalEncode()
	buf := make([]byte, 0, ValidatorIdSize+8+len(encodedData)+len(a.Signature))
	buf = append(buf, a.Author[:]...)
	buf = appendLenPrefixed(buf, encodedData)
	buf = appendLenPrefixed(buf, a.Signature)
	return buf
}

// DecodeAuthentication is the inverse of EncodeAuthentication.
func DecodeAuthentication(b []byte) (Authentication, error) {
	var auth Authentication
	if len(b) < ValidatorIdSize {
		return auth, fmt.Errorf("identity: decode authentication: truncated author")
	}
	copy(auth.Author[:], b[:ValidatorIdSize])
	off := ValidatorIdSize

	encodedData, consumed, err := readLenPrefixed(b, off)
	if err != nil {
		return auth, err
	}
	off = consumed

	data, n, err := DecodeAuthData(encodedData)
	if err != nil {
		return auth, err
	}
	if n != len(encodedData) {
		return auth, fmt.Errorf("identity: decode authentication: trailing auth data bytes")
	}
	auth.Data = data

	sig, consumed, err := readLenPrefixed(b, off)
	if err != nil {
		return auth, err
	}
	off = consumed
	auth.Signature = sig

	if off != len(b) {
		return auth, fmt.Errorf("identity: decode authentication: trailing bytes")
	}
	return auth, nil
}

func readUint32(b []byte, off int) (uint32, int, error) {
	if off+4 > len(b) {
		return 0, 0, fmt.Errorf("identity: decode: truncated length")
	}
	return binary.BigEndian.Uint32(b[off : off+4]), off + 4, nil
}

func readLenPrefixed(b []byte, off int) ([]byte, int, error) {
	n, off, err := readUint32(b, off)
	if err != nil {
		return nil, 0, err
	}
	if off+int(n) > len(b) {
		return nil, 0, fmt.Errorf("identity: decode: truncated value")
	}
	return b[off : off+int(n)], off + int(n), nil
}

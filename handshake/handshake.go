// Package handshake implements the signed-nonce identity proof run
// once at the start of every connection, before any framed data
// flows. It is the only place peer identity is established; nothing
// downstream re-authenticates.
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/quorumlayer/valnet/identity"
	"github.com/quorumlayer/valnet/wire"
)

// ProtocolVersion is the only process-wide datum this module defines.
// It is sent as the first byte of every handshake frame; a mismatch
// is always fatal.
const ProtocolVersion byte = 0x00

// NonceSize is the length in bytes of the random nonce each side
// signs to prove possession of its private key.
const NonceSize = 32

// DefaultTimeout bounds how long either handshake variant may take
// before failing with ErrTimeout.
const DefaultTimeout = 10 * time.Second

// Result is what a completed handshake hands back to its caller: the
// split stream halves and the verified remote identity.
type Result struct {
	Read  wire.ReadHalf
	Write wire.WriteHalf
	Peer  identity.ValidatorId
}

// frame is the wire shape of a handshake message:
// [u8 version][u32 len][ValidatorId][u32 len][nonce][u32 len][signature]
// Signature covers version‖ValidatorId‖nonce.
type frame struct {
	version   byte
	validator identity.ValidatorId
	nonce     []byte
	signature []byte
}

func (f frame) signedPreimage() []byte {
	buf := make([]byte, 0, 1+identity.ValidatorIdSize+len(f.nonce))
	buf = append(buf, f.version)
	buf = append(buf, f.validator[:]...)
	buf = append(buf, f.nonce...)
	return buf
}

func encodeFrame(f frame) []byte {
	buf := make([]byte, 0, 1+4+identity.ValidatorIdSize+4+len(f.nonce)+4+len(f.signature))
	buf = append(buf, f.version)
	buf = appendLenPrefixed(buf, f.validator[:])
	buf = appendLenPrefixed(buf, f.nonce)
	buf = appendLenPrefixed(buf, f.signature)
	return buf
}

func decodeFrame(r io.Reader) (frame, error) {
	var f frame
	var versionBuf [1]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return f, &Error{Kind: ErrIO, Err: err}
	}
	f.version = versionBuf[0]

	validatorBytes, err := readLenPrefixed(r)
	if err != nil {
		return f, err
	}
	if len(validatorBytes) != identity.ValidatorIdSize {
		return f, &Error{Kind: ErrIO, Err: fmt.Errorf("handshake: bad validator id length %d", len(validatorBytes))}
	}
	copy(f.validator[:], validatorBytes)

	nonce, err := readLenPrefixed(r)
	if err != nil {
		return f, err
	}
	f.nonce = nonce

	sig, err := readLenPrefixed(r)
	if err != nil {
		return f, err
	}
	f.signature = sig

	return f, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, &Error{Kind: ErrIO, Err: err}
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	const maxHandshakeFieldSize = 4096
	if n > maxHandshakeFieldSize {
		return nil, &Error{Kind: ErrIO, Err: fmt.Errorf("handshake: field too large: %d", n)}
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, &Error{Kind: ErrIO, Err: err}
	}
	return b, nil
}

func appendLenPrefixed(dst, b []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
	dst = append(dst, tmp[:]...)
	return append(dst, b...)
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("handshake: generate nonce: %w", err)
	}
	return nonce, nil
}

func buildFrame(self identity.ValidatorId, key identity.SigningKey) (frame, error) {
	nonce, err := newNonce()
	if err != nil {
		return frame{}, err
	}
	f := frame{version: ProtocolVersion, validator: self, nonce: nonce}
	f.signature = key.Sign(f.signedPreimage())
	return f, nil
}

func verifyFrame(f frame, expected *identity.ValidatorId) error {
	if f.version != ProtocolVersion {
		return &Error{Kind: ErrUnsupportedVersion, Err: fmt.Errorf("handshake: peer version %d, want %d", f.version, ProtocolVersion)}
	}
	if !f.validator.Verify(f.signedPreimage(), f.signature) {
		return &Error{Kind: ErrBadSignature}
	}
	if expected != nil && !f.validator.Equals(*expected) {
		return &Error{Kind: ErrIdentityMismatch}
	}
	return nil
}

// runWithTimeout races fn against a timeout, returning ErrTimeout if
// fn has not reported back in time. fn's goroutine is abandoned (its
// blocking I/O will itself fail once the caller closes the stream);
// this module never blocks past the timeout on a slow peer.
func runWithTimeout(timeout time.Duration, fn func() (frame, error)) (frame, error) {
	type outcome struct {
		f   frame
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		f, err := fn()
		done <- outcome{f, err}
	}()

	select {
	case out := <-done:
		return out.f, out.err
	case <-time.After(timeout):
		return frame{}, &Error{Kind: ErrTimeout}
	}
}

// Outgoing runs the dialer side of the handshake: it sends a signed
// nonce carrying self's identity, reads the peer's signed nonce,
// verifies it, and checks it matches expectedPeer.
func Outgoing(stream wire.Stream, self identity.ValidatorId, key identity.SigningKey, expectedPeer identity.ValidatorId, timeout time.Duration) (Result, error) {
	read, write := stream.Split()

	ours, err := buildFrame(self, key)
	if err != nil {
		return Result{}, &Error{Kind: ErrIO, Err: err}
	}

	theirs, err := runWithTimeout(timeout, func() (frame, error) {
		if _, err := write.Write(encodeFrame(ours)); err != nil {
			return frame{}, &Error{Kind: ErrIO, Err: err}
		}
		return decodeFrame(read)
	})
	if err != nil {
		return Result{}, err
	}

	if err := verifyFrame(theirs, &expectedPeer); err != nil {
		return Result{}, err
	}

	return Result{Read: read, Write: write, Peer: theirs.validator}, nil
}

// Incoming runs the acceptor side of the handshake: it reads the
// peer's signed nonce, verifies it, sends back its own signed nonce,
// and returns the discovered peer identity. selfID is used to detect
// (and reject) a peer announcing our own identity.
func Incoming(stream wire.Stream, selfID identity.ValidatorId, key identity.SigningKey, timeout time.Duration) (Result, error) {
	read, write := stream.Split()

	theirs, err := runWithTimeout(timeout, func() (frame, error) {
		f, err := decodeFrame(read)
		if err != nil {
			return frame{}, err
		}
		if verr := verifyFrame(f, nil); verr != nil {
			return frame{}, verr
		}
		if f.validator.Equals(selfID) {
			return frame{}, &Error{Kind: ErrSelfConnection}
		}

		ours, err := buildFrame(selfID, key)
		if err != nil {
			return frame{}, &Error{Kind: ErrIO, Err: err}
		}
		if _, err := write.Write(encodeFrame(ours)); err != nil {
			return frame{}, &Error{Kind: ErrIO, Err: err}
		}
		return f, nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Read: read, Write: write, Peer: theirs.validator}, nil
}

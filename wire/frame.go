package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameSize is the largest payload (tag excluded) accepted on the
// wire. A frame length header claiming more is rejected before any
// payload bytes are read.
const MaxFrameSize = 16 * 1024 * 1024

type tag byte

const (
	tagHeartbeat tag = 0x00
	tagData      tag = 0x01
)

// SendData canonically encodes nd, frames it as
// [u32 big-endian length][u8 tag=data][payload] and writes it to w.
//
// SendData consumes and returns the writer so that a caller who
// abandons the returned value mid-write (e.g. the goroutine driving
// it is cancelled) cannot be handed a half-written stream back —
// dropping the return value is the only way to abort, matching the
// "drop to cancel" discipline the rest of this module follows.
func SendData(w io.Writer, nd NetworkData) (io.Writer, error) {
	payload := Encode(nd)
	if err := writeFrame(w, tagData, payload); err != nil {
		return w, err
	}
	return w, nil
}

// SendHeartbeat writes an empty-payload heartbeat frame to w.
func SendHeartbeat(w io.Writer) (io.Writer, error) {
	if err := writeFrame(w, tagHeartbeat, nil); err != nil {
		return w, err
	}
	return w, nil
}

func writeFrame(w io.Writer, t tag, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return &SendError{Err: errors.New("payload exceeds max frame size")}
	}

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload))+1)
	header[4] = byte(t)

	if _, err := w.Write(header); err != nil {
		return &SendError{Err: err}
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// ReceivedFrame is the result of reading one frame off the wire: a
// data message, or a heartbeat signaled by IsHeartbeat.
type ReceivedFrame struct {
	IsHeartbeat bool
	Message     NetworkData
}

// ReceiveData blocks until one complete frame has arrived on r,
// decodes it, and returns the reader alongside the result. A
// heartbeat frame decodes to ReceivedFrame{IsHeartbeat: true} without
// ever surfacing to the application — callers that only want data
// frames should loop, discarding heartbeats, which is exactly what
// the heartbeat receiver's sibling data pump does.
//
// Like SendData, ReceiveData consumes and returns the reader: the
// caller must drop the returned value to abort a read that is
// in-flight at a suspension point.
func ReceiveData(r io.Reader) (io.Reader, ReceivedFrame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return r, ReceivedFrame{}, classifyReadErr(err)
	}

	frameLen := binary.BigEndian.Uint32(header[0:4])
	if frameLen == 0 {
		return r, ReceivedFrame{}, &ReceiveError{Kind: ReceiveErrDecode, Err: errors.New("zero-length frame")}
	}
	payloadLen := frameLen - 1
	if payloadLen > MaxFrameSize {
		return r, ReceivedFrame{}, &ReceiveError{Kind: ReceiveErrFrameTooLarge}
	}

	t := tag(header[4])

	if payloadLen == 0 {
		if t == tagHeartbeat {
			return r, ReceivedFrame{IsHeartbeat: true}, nil
		}
		return r, ReceivedFrame{}, &ReceiveError{Kind: ReceiveErrDecode, Err: errors.New("empty non-heartbeat frame")}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return r, ReceivedFrame{}, classifyReadErr(err)
	}

	switch t {
	case tagHeartbeat:
		return r, ReceivedFrame{}, &ReceiveError{Kind: ReceiveErrDecode, Err: errors.New("heartbeat frame carried payload")}
	case tagData:
		nd, err := Decode(payload)
		if err != nil {
			return r, ReceivedFrame{}, &ReceiveError{Kind: ReceiveErrDecode, Err: err}
		}
		return r, ReceivedFrame{Message: nd}, nil
	default:
		return r, ReceivedFrame{}, &ReceiveError{Kind: ReceiveErrDecode, Err: errors.New("unknown frame tag")}
	}
}

func classifyReadErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &ReceiveError{Kind: ReceiveErrUnexpectedEOF, Err: err}
	}
	return &ReceiveError{Kind: ReceiveErrIO, Err: err}
}

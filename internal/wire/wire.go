// Package wire implements the coordinator/worker message-framed binary
// protocol described in spec §4.4: one byte of message type, four bytes
// of big-endian payload length, then the payload.
//
// The framing and the per-message binary layouts are hand-rolled with
// encoding/binary rather than generated from a .proto schema — see
// DESIGN.md for why the teacher's protobuf/gRPC dependency was dropped.
// The style (fixed-width header, no magic number and no version field,
// everything big-endian) follows internal/squashfs/writer.go's superblock
// encoding in the teacher, generalized from "filesystem image format" to
// "RPC message format."
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Type identifies a message's payload kind on the wire.
type Type uint8

const (
	TypeRegistration Type = iota + 1
	TypeHeartbeat
	TypeWorkRequest
	TypeActionRequest
	TypeActionResult
	TypePeerAnnounce
	TypeStealRequest
	TypeStealResponse
	TypeShutdown
)

func (t Type) String() string {
	switch t {
	case TypeRegistration:
		return "Registration"
	case TypeHeartbeat:
		return "HeartBeat"
	case TypeWorkRequest:
		return "WorkRequest"
	case TypeActionRequest:
		return "ActionRequest"
	case TypeActionResult:
		return "ActionResult"
	case TypePeerAnnounce:
		return "PeerAnnounce"
	case TypeStealRequest:
		return "StealRequest"
	case TypeStealResponse:
		return "StealResponse"
	case TypeShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}

// maxFrame bounds a single payload to guard against a corrupt or hostile
// length prefix causing an unbounded allocation.
const maxFrame = 256 << 20 // 256 MiB

// Frame is one decoded message: its Type and raw payload bytes. Callers
// encode/decode the payload themselves with the Encode method and Decode
// function of the message type matching Type (see message.go), keeping
// the framing layer payload-agnostic.
type Frame struct {
	Type    Type
	Payload []byte
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	var hdr [5]byte
	hdr[0] = byte(f.Type)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(f.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFrame {
		return Frame{}, fmt.Errorf("wire: frame too large (%d bytes)", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("wire: read payload: %w", err)
	}
	return Frame{Type: Type(hdr[0]), Payload: payload}, nil
}

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// The encode/decode helpers below follow one convention throughout: a
// string is a uint32 length prefix followed by UTF-8 bytes, a []byte blob
// is the same, and a map[string]string is a uint32 count followed by
// length-prefixed key/value pairs in the order given (callers that need a
// canonical order, e.g. for hashing, sort before encoding).

func putString(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint32(n[:])
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func putStrings(buf *bytes.Buffer, ss []string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ss)))
	buf.Write(n[:])
	for _, s := range ss {
		putString(buf, s)
	}
}

func getStrings(r *bytes.Reader) ([]string, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(n[:])
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		s, err := getString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func putU64(buf *bytes.Buffer, v uint64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], v)
	buf.Write(n[:])
}

func getU64(r *bytes.Reader) (uint64, error) {
	var n [8]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(n[:]), nil
}

func putU32(buf *bytes.Buffer, v uint32) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], v)
	buf.Write(n[:])
}

func getU32(r *bytes.Reader) (uint32, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(n[:]), nil
}

func putU8(buf *bytes.Buffer, v uint8) { buf.WriteByte(v) }

func getU8(r *bytes.Reader) (uint8, error) { return r.ReadByte() }

// Registration is sent by a worker connecting to the coordinator for the
// first time.
type Registration struct {
	WorkerID string
	Capacity uint32
	Labels   []string
}

func (m Registration) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, m.WorkerID)
	putU32(&buf, m.Capacity)
	putStrings(&buf, m.Labels)
	return buf.Bytes()
}

func DecodeRegistration(b []byte) (Registration, error) {
	r := bytes.NewReader(b)
	var m Registration
	var err error
	if m.WorkerID, err = getString(r); err != nil {
		return m, err
	}
	if m.Capacity, err = getU32(r); err != nil {
		return m, err
	}
	if m.Labels, err = getStrings(r); err != nil {
		return m, err
	}
	return m, nil
}

// Heartbeat is sent periodically by a registered worker to prove liveness
// and report its current queue depth.
type Heartbeat struct {
	WorkerID   string
	QueueDepth uint32
	InFlight   uint32
	UnixMillis uint64
}

func (m Heartbeat) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, m.WorkerID)
	putU32(&buf, m.QueueDepth)
	putU32(&buf, m.InFlight)
	putU64(&buf, m.UnixMillis)
	return buf.Bytes()
}

func DecodeHeartbeat(b []byte) (Heartbeat, error) {
	r := bytes.NewReader(b)
	var m Heartbeat
	var err error
	if m.WorkerID, err = getString(r); err != nil {
		return m, err
	}
	if m.QueueDepth, err = getU32(r); err != nil {
		return m, err
	}
	if m.InFlight, err = getU32(r); err != nil {
		return m, err
	}
	if m.UnixMillis, err = getU64(r); err != nil {
		return m, err
	}
	return m, nil
}

// WorkRequest is sent by an idle worker asking the coordinator's dispatch
// queue for up to Max actions.
type WorkRequest struct {
	WorkerID string
	Max      uint32
}

func (m WorkRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, m.WorkerID)
	putU32(&buf, m.Max)
	return buf.Bytes()
}

func DecodeWorkRequest(b []byte) (WorkRequest, error) {
	r := bytes.NewReader(b)
	var m WorkRequest
	var err error
	if m.WorkerID, err = getString(r); err != nil {
		return m, err
	}
	if m.Max, err = getU32(r); err != nil {
		return m, err
	}
	return m, nil
}

// ActionRequest carries one dispatched action's fingerprint and argv to a
// worker. The full Action struct (internal/action) is marshaled by the
// caller into Argv/Env/Inputs/Outputs; this message is the wire
// projection of that struct, not the struct itself, so internal/wire has
// no dependency on internal/action.
type ActionRequest struct {
	ActionKey string
	Argv      []string
	Inputs    []string
	Outputs   []string
	Env       []string // "KEY=VALUE" pairs, caller's responsibility to format
	Priority  uint8
}

func (m ActionRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, m.ActionKey)
	putStrings(&buf, m.Argv)
	putStrings(&buf, m.Inputs)
	putStrings(&buf, m.Outputs)
	putStrings(&buf, m.Env)
	putU8(&buf, m.Priority)
	return buf.Bytes()
}

func DecodeActionRequest(b []byte) (ActionRequest, error) {
	r := bytes.NewReader(b)
	var m ActionRequest
	var err error
	if m.ActionKey, err = getString(r); err != nil {
		return m, err
	}
	if m.Argv, err = getStrings(r); err != nil {
		return m, err
	}
	if m.Inputs, err = getStrings(r); err != nil {
		return m, err
	}
	if m.Outputs, err = getStrings(r); err != nil {
		return m, err
	}
	if m.Env, err = getStrings(r); err != nil {
		return m, err
	}
	if m.Priority, err = getU8(r); err != nil {
		return m, err
	}
	return m, nil
}

// ActionResult carries a completed action's outcome back to the
// coordinator.
type ActionResult struct {
	ActionKey  string
	WorkerID   string
	Status     uint8
	ExitCode   int32
	Stdout     []byte
	Stderr     []byte
	WallTimeMS uint64
	CPUTimeMS  uint64
}

func (m ActionResult) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, m.ActionKey)
	putString(&buf, m.WorkerID)
	putU8(&buf, m.Status)
	putU32(&buf, uint32(m.ExitCode))
	putString(&buf, string(m.Stdout))
	putString(&buf, string(m.Stderr))
	putU64(&buf, m.WallTimeMS)
	putU64(&buf, m.CPUTimeMS)
	return buf.Bytes()
}

func DecodeActionResult(b []byte) (ActionResult, error) {
	r := bytes.NewReader(b)
	var m ActionResult
	var err error
	if m.ActionKey, err = getString(r); err != nil {
		return m, err
	}
	if m.WorkerID, err = getString(r); err != nil {
		return m, err
	}
	if m.Status, err = getU8(r); err != nil {
		return m, err
	}
	var exit uint32
	if exit, err = getU32(r); err != nil {
		return m, err
	}
	m.ExitCode = int32(exit)
	var stdout, stderr string
	if stdout, err = getString(r); err != nil {
		return m, err
	}
	m.Stdout = []byte(stdout)
	if stderr, err = getString(r); err != nil {
		return m, err
	}
	m.Stderr = []byte(stderr)
	if m.WallTimeMS, err = getU64(r); err != nil {
		return m, err
	}
	if m.CPUTimeMS, err = getU64(r); err != nil {
		return m, err
	}
	return m, nil
}

// PeerAnnounce tells a worker the addresses of its sibling workers, so it
// can target steal attempts directly instead of round-tripping through
// the coordinator.
type PeerAnnounce struct {
	Peers []string // "workerID@host:port" entries
}

func (m PeerAnnounce) Encode() []byte {
	var buf bytes.Buffer
	putStrings(&buf, m.Peers)
	return buf.Bytes()
}

func DecodePeerAnnounce(b []byte) (PeerAnnounce, error) {
	r := bytes.NewReader(b)
	peers, err := getStrings(r)
	return PeerAnnounce{Peers: peers}, err
}

// StealRequest is sent worker-to-worker: "give me up to Max actions from
// your local queue."
type StealRequest struct {
	FromWorkerID string
	Max          uint32
}

func (m StealRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, m.FromWorkerID)
	putU32(&buf, m.Max)
	return buf.Bytes()
}

func DecodeStealRequest(b []byte) (StealRequest, error) {
	r := bytes.NewReader(b)
	var m StealRequest
	var err error
	if m.FromWorkerID, err = getString(r); err != nil {
		return m, err
	}
	if m.Max, err = getU32(r); err != nil {
		return m, err
	}
	return m, nil
}

// StealResponse carries the stolen action keys back to the thief; the
// actual Action payloads are re-requested via ActionRequest, since a
// stolen batch is usually empty (nothing to steal) and we don't want to
// pay the encoding cost of a full batch on every poll.
type StealResponse struct {
	ActionKeys []string
}

func (m StealResponse) Encode() []byte {
	var buf bytes.Buffer
	putStrings(&buf, m.ActionKeys)
	return buf.Bytes()
}

func DecodeStealResponse(b []byte) (StealResponse, error) {
	r := bytes.NewReader(b)
	keys, err := getStrings(r)
	return StealResponse{ActionKeys: keys}, err
}

// Shutdown tells a worker to drain and exit within GraceMS milliseconds.
type Shutdown struct {
	GraceMS uint32
	Reason  string
}

func (m Shutdown) Encode() []byte {
	var buf bytes.Buffer
	putU32(&buf, m.GraceMS)
	putString(&buf, m.Reason)
	return buf.Bytes()
}

func DecodeShutdown(b []byte) (Shutdown, error) {
	r := bytes.NewReader(b)
	var m Shutdown
	var err error
	if m.GraceMS, err = getU32(r); err != nil {
		return m, err
	}
	if m.Reason, err = getString(r); err != nil {
		return m, err
	}
	return m, nil
}

// Decode dispatches on f.Type and returns the decoded payload as an
// interface{} holding the concrete message type; callers type-switch on
// the result.
func Decode(f Frame) (interface{}, error) {
	switch f.Type {
	case TypeRegistration:
		return DecodeRegistration(f.Payload)
	case TypeHeartbeat:
		return DecodeHeartbeat(f.Payload)
	case TypeWorkRequest:
		return DecodeWorkRequest(f.Payload)
	case TypeActionRequest:
		return DecodeActionRequest(f.Payload)
	case TypeActionResult:
		return DecodeActionResult(f.Payload)
	case TypePeerAnnounce:
		return DecodePeerAnnounce(f.Payload)
	case TypeStealRequest:
		return DecodeStealRequest(f.Payload)
	case TypeStealResponse:
		return DecodeStealResponse(f.Payload)
	case TypeShutdown:
		return DecodeShutdown(f.Payload)
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", f.Type)
	}
}

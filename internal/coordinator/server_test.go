package coordinator

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/wire"
)

func newTestServer() *Server {
	return NewServer(NewRegistry(30*time.Second), NewQueue(), nil)
}

// TestHandleWorkerDispatchesAndTracksCompletion drives handleWorker
// directly over a net.Pipe, standing in for a worker connection: it
// registers, asks for work placed on the Queue ahead of time, reports a
// result, and expects the result delivered to the waiter the submitter
// side would have registered.
func TestHandleWorkerDispatchesAndTracksCompletion(t *testing.T) {
	s := newTestServer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := action.Action{ID: action.ID{TargetID: "//pkg:lib"}, Argv: []string{"true"}}
	s.Queue.Push(Ready{Action: a})

	wait := make(chan wire.ActionResult, 1)
	s.mu.Lock()
	s.waiters[a.ID.String()] = wait
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.handleConn(ctx, server)

	reg := wire.Registration{WorkerID: "w1", Capacity: 1}
	if err := wire.WriteFrame(client, wire.Frame{Type: wire.TypeRegistration, Payload: reg.Encode()}); err != nil {
		t.Fatalf("write registration: %v", err)
	}

	r := bufio.NewReader(client)

	wr := wire.WorkRequest{WorkerID: "w1", Max: 1}
	if err := wire.WriteFrame(client, wire.Frame{Type: wire.TypeWorkRequest, Payload: wr.Encode()}); err != nil {
		t.Fatalf("write work request: %v", err)
	}

	f, err := wire.ReadFrame(r)
	if err != nil {
		t.Fatalf("read dispatched action: %v", err)
	}
	if f.Type != wire.TypeActionRequest {
		t.Fatalf("frame type = %v, want TypeActionRequest", f.Type)
	}
	ar, err := wire.DecodeActionRequest(f.Payload)
	if err != nil {
		t.Fatalf("decode action request: %v", err)
	}
	if ar.ActionKey != a.ID.String() {
		t.Fatalf("ActionKey = %q, want %q", ar.ActionKey, a.ID.String())
	}

	result := wire.ActionResult{ActionKey: ar.ActionKey, WorkerID: "w1", Status: uint8(action.StatusSuccess)}
	if err := wire.WriteFrame(client, wire.Frame{Type: wire.TypeActionResult, Payload: result.Encode()}); err != nil {
		t.Fatalf("write action result: %v", err)
	}

	select {
	case got := <-wait:
		if got.ActionKey != ar.ActionKey {
			t.Fatalf("delivered ActionKey = %q, want %q", got.ActionKey, ar.ActionKey)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result delivery")
	}

	if w, ok := s.Registry.Get("w1"); !ok || len(w.InFlightActions) != 0 {
		t.Fatalf("expected TrackCompletion to clear InFlightActions, got %+v", w)
	}
}

// TestHandleSubmitterRoundTripsActionRequest exercises the submitter
// role: a connection that leads with ActionRequest instead of
// Registration should have its request pushed onto the Queue and block
// until something delivers a matching ActionResult.
func TestHandleSubmitterRoundTripsActionRequest(t *testing.T) {
	s := newTestServer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.handleConn(ctx, server)

	req := wire.ActionRequest{ActionKey: "//pkg:submitted", Argv: []string{"true"}}
	if err := wire.WriteFrame(client, wire.Frame{Type: wire.TypeActionRequest, Payload: req.Encode()}); err != nil {
		t.Fatalf("write action request: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var queued Ready
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for submitted action to reach the queue")
		}
		if r, ok := s.Queue.Pop(); ok {
			queued = r
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if queued.Action.ID.TargetID != req.ActionKey {
		t.Fatalf("queued TargetID = %q, want %q", queued.Action.ID.TargetID, req.ActionKey)
	}

	reply := wire.ActionResult{ActionKey: req.ActionKey, Status: uint8(action.StatusSuccess)}
	s.deliver(reply)

	r := bufio.NewReader(client)
	f, err := wire.ReadFrame(r)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	got, err := wire.DecodeActionResult(f.Payload)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got.ActionKey != req.ActionKey {
		t.Fatalf("ActionKey = %q, want %q", got.ActionKey, req.ActionKey)
	}
}

// TestRequeuePushesDispatchedActionBackOntoQueue exercises the dead-worker
// reassignment path end to end: an action dispatched to a worker (and thus
// present in s.dispatched) must reappear on the Queue when Requeue is
// called with its ID, not merely be dropped.
func TestRequeuePushesDispatchedActionBackOntoQueue(t *testing.T) {
	s := newTestServer()
	a := action.Action{ID: action.ID{TargetID: "//pkg:lib"}, Argv: []string{"true"}}

	s.mu.Lock()
	s.dispatched[a.ID.String()] = Ready{Action: a}
	s.mu.Unlock()

	s.Requeue([]action.ID{a.ID})

	if s.Queue.Len() != 1 {
		t.Fatalf("Queue.Len() = %d, want 1 after Requeue", s.Queue.Len())
	}
	requeued, ok := s.Queue.Pop()
	if !ok {
		t.Fatal("expected to pop the requeued action")
	}
	if requeued.Action.ID != a.ID {
		t.Fatalf("requeued action ID = %v, want %v", requeued.Action.ID, a.ID)
	}

	s.mu.Lock()
	_, stillTracked := s.dispatched[a.ID.String()]
	s.mu.Unlock()
	if stillTracked {
		t.Error("expected Requeue to clear the dispatched entry")
	}
}

// TestRequeueSkipsUntrackedIDs covers the benign race between a result
// arriving (which clears s.dispatched) and the registry's sweep declaring
// the same worker dead a moment later: Requeue must not panic or push a
// zero-value Ready for an ID it no longer has bookkeeping for.
func TestRequeueSkipsUntrackedIDs(t *testing.T) {
	s := newTestServer()
	s.Requeue([]action.ID{{TargetID: "//never:dispatched"}})
	if s.Queue.Len() != 0 {
		t.Fatalf("Queue.Len() = %d, want 0 for an untracked ID", s.Queue.Len())
	}
}

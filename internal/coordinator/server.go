// Server is builderd's connection-handling layer: it decodes internal/wire
// frames off each accepted net.Conn and drives Registry/Queue accordingly.
// A connection plays one of two roles, determined by its first frame:
//
//   - a worker registers (Registration), then periodically proves
//     liveness (Heartbeat), asks for work (WorkRequest) and reports
//     outcomes (ActionResult);
//   - a submitter skips registration and sends ActionRequest frames
//     directly, then blocks reading ActionResult frames matched back to
//     it by ActionKey.
//
// Grounded on cmd/autobuilder/autobuilder.go's one-handler-per-connection
// shape, generalized from "build step status over HTTP" to "framed
// binary RPC over TCP."
package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/digest"
	"github.com/GriffinCanCode/Builder-sub007/internal/wire"
)

// Server routes submitted work through Queue to registered workers and
// routes their results back to whichever connection submitted the work.
type Server struct {
	Registry   *Registry
	Queue      *Queue
	Autoscaler *Autoscaler

	mu         sync.Mutex
	waiters    map[string]chan wire.ActionResult // ActionKey -> submitter's wait channel
	dispatched map[string]Ready                  // ActionKey -> the Ready last dispatched for it, for requeueing on dead workers
}

// NewServer constructs a Server over an already-configured Registry and
// Queue (Autoscaler may be nil if the deployment doesn't want autoscaling
// signals). The caller should set registry.OnDead to call srv.Requeue
// once srv exists, so a dead worker's in-flight actions go back onto
// Queue instead of vanishing.
func NewServer(registry *Registry, queue *Queue, scaler *Autoscaler) *Server {
	return &Server{
		Registry:   registry,
		Queue:      queue,
		Autoscaler: scaler,
		waiters:    make(map[string]chan wire.ActionResult),
		dispatched: make(map[string]Ready),
	}
}

// Requeue pushes the dispatched-but-unacknowledged actions named by ids
// back onto Queue, for a worker the Registry has declared dead. An id
// with no retained Ready (already completed and cleared, or never
// actually tracked) is skipped rather than erroring: the race between a
// result arriving and the sweep declaring the worker dead is expected.
func (s *Server) Requeue(ids []action.ID) {
	for _, id := range ids {
		key := id.String()
		s.mu.Lock()
		ready, ok := s.dispatched[key]
		if ok {
			delete(s.dispatched, key)
		}
		s.mu.Unlock()
		if ok {
			s.Queue.Push(ready)
		}
	}
}

// Serve accepts connections on ln until ctx is cancelled, handling each
// in its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	f, err := wire.ReadFrame(r)
	if err != nil {
		return
	}

	if f.Type == wire.TypeRegistration {
		s.handleWorker(ctx, conn, r, f)
		return
	}
	s.handleSubmitter(ctx, conn, r, f)
}

func (s *Server) handleWorker(ctx context.Context, conn net.Conn, r *bufio.Reader, first wire.Frame) {
	reg, err := wire.DecodeRegistration(first.Payload)
	if err != nil {
		return
	}
	labels := reg.Labels
	s.Registry.Register(reg.WorkerID, int(reg.Capacity), labels)

	for {
		f, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		switch f.Type {
		case wire.TypeHeartbeat:
			hb, err := wire.DecodeHeartbeat(f.Payload)
			if err != nil {
				return
			}
			s.Registry.Heartbeat(hb.WorkerID, int(hb.QueueDepth), int(hb.InFlight))

		case wire.TypeWorkRequest:
			wr, err := wire.DecodeWorkRequest(f.Payload)
			if err != nil {
				return
			}
			for _, ready := range s.Queue.PopN(int(wr.Max)) {
				s.Registry.TrackDispatch(wr.WorkerID, ready.Action.ID)
				actionKey := ready.Action.ID.String()
				s.mu.Lock()
				s.dispatched[actionKey] = ready
				s.mu.Unlock()
				req := wire.ActionRequest{
					ActionKey: actionKey,
					Argv:      ready.Action.Argv,
					Inputs:    ready.Action.Inputs,
					Outputs:   ready.Action.Outputs,
					Env:       envPairs(ready.Action.Env),
					Priority:  ready.Action.Priority,
				}
				wire.WriteFrame(conn, wire.Frame{Type: wire.TypeActionRequest, Payload: req.Encode()})
			}

		case wire.TypeActionResult:
			ar, err := wire.DecodeActionResult(f.Payload)
			if err != nil {
				return
			}
			s.mu.Lock()
			ready, tracked := s.dispatched[ar.ActionKey]
			delete(s.dispatched, ar.ActionKey)
			if _, direct := s.waiters[ar.ActionKey]; tracked && !direct {
				// A submitter waits under its own ActionKey, which became
				// the queued Action's TargetID in handleSubmitter.
				ar.ActionKey = ready.Action.ID.TargetID
			}
			s.mu.Unlock()
			if tracked {
				s.Registry.TrackCompletion(ar.WorkerID, ready.Action.ID)
			}
			s.deliver(ar)

		case wire.TypeShutdown:
			return
		}
	}
}

func (s *Server) handleSubmitter(ctx context.Context, conn net.Conn, r *bufio.Reader, first wire.Frame) {
	f := first
	for {
		if f.Type != wire.TypeActionRequest {
			return
		}
		ar, err := wire.DecodeActionRequest(f.Payload)
		if err != nil {
			return
		}

		wait := make(chan wire.ActionResult, 1)
		s.mu.Lock()
		s.waiters[ar.ActionKey] = wait
		s.mu.Unlock()

		s.Queue.Push(Ready{Action: action.Action{
			ID:       action.ID{TargetID: ar.ActionKey, InputDigest: digest.Bytes([]byte(ar.ActionKey))},
			Argv:     ar.Argv,
			Inputs:   ar.Inputs,
			Outputs:  ar.Outputs,
			Priority: ar.Priority,
		}, ExplicitHint: ar.Priority})

		select {
		case result := <-wait:
			wire.WriteFrame(conn, wire.Frame{Type: wire.TypeActionResult, Payload: result.Encode()})
		case <-ctx.Done():
			return
		}

		f, err = wire.ReadFrame(r)
		if err != nil {
			return
		}
	}
}

func (s *Server) deliver(ar wire.ActionResult) {
	s.mu.Lock()
	wait, ok := s.waiters[ar.ActionKey]
	if ok {
		delete(s.waiters, ar.ActionKey)
	}
	s.mu.Unlock()
	if ok {
		wait <- ar
	}
}

func envPairs(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// Command workerd is the distributed worker daemon: it registers with a
// builderd coordinator, polls for work, executes each dispatched Action
// in a hermetic sandbox, and reports results back.
//
// The register -> heartbeat -> poll-for-work -> execute -> report loop
// follows the same "one persistent connection driving a small state
// machine" shape as cmd/autobuilder/autobuilder.go's build loop,
// generalized from "poll GitHub for new commits" to "poll builderd for
// new actions."
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	builder "github.com/GriffinCanCode/Builder-sub007"
	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/sandbox"
	"github.com/GriffinCanCode/Builder-sub007/internal/wire"
)

// frameWriter serializes wire.WriteFrame calls across the goroutines
// sharing one connection (the poll loop, the heartbeat loop, and each
// in-flight action's report-back), since a frame's header and payload
// are two separate net.Conn.Write calls that must not interleave with
// another frame's.
type frameWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *frameWriter) Write(f wire.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wire.WriteFrame(w.conn, f)
}

func main() {
	connect := flag.String("connect", "localhost:7071", "builderd address to register with")
	workerID := flag.String("worker_id", hostnameOrFallback(), "this worker's unique id")
	capacity := flag.Int("capacity", 1, "max concurrently executed actions")
	pollInterval := flag.Duration("poll_interval", 500*time.Millisecond, "how often to ask for work when idle")
	heartbeatInterval := flag.Duration("heartbeat_interval", 10*time.Second, "how often to send a heartbeat")
	sandboxed := flag.Bool("sandbox", true, "run actions under a namespaced hermetic sandbox")
	flag.Parse()

	ctx, cancel := builder.InterruptibleContext()
	defer cancel()

	backend := sandbox.BackendNone
	if *sandboxed {
		backend = sandbox.BackendNamespaced
	}
	runner := sandbox.New(backend, os.TempDir())

	if err := run(ctx, *connect, *workerID, *capacity, *pollInterval, *heartbeatInterval, runner); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}

func run(ctx context.Context, connect, workerID string, capacity int, pollInterval, heartbeatInterval time.Duration, runner *sandbox.Runner) error {
	conn, err := net.Dial("tcp", connect)
	if err != nil {
		return err
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := &frameWriter{conn: conn}

	reg := wire.Registration{WorkerID: workerID, Capacity: uint32(capacity), Labels: nil}
	if err := w.Write(wire.Frame{Type: wire.TypeRegistration, Payload: reg.Encode()}); err != nil {
		return err
	}
	slog.Info("registered with coordinator", "worker_id", workerID, "connect", connect)

	go heartbeatLoop(ctx, w, workerID, heartbeatInterval)

	slots := make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		slots <- struct{}{}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-slots:
			default:
				continue // already at capacity, wait for a slot to free up
			}
			req := wire.WorkRequest{WorkerID: workerID, Max: 1}
			if err := w.Write(wire.Frame{Type: wire.TypeWorkRequest, Payload: req.Encode()}); err != nil {
				slots <- struct{}{}
				return err
			}
			f, err := wire.ReadFrame(r)
			if err != nil {
				return err
			}
			if f.Type != wire.TypeActionRequest {
				slots <- struct{}{}
				continue
			}
			ar, err := wire.DecodeActionRequest(f.Payload)
			if err != nil {
				slots <- struct{}{}
				continue
			}
			go func() {
				defer func() { slots <- struct{}{} }()
				executeAndReport(ctx, w, runner, workerID, ar)
			}()
		}
	}
}

func heartbeatLoop(ctx context.Context, w *frameWriter, workerID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hb := wire.Heartbeat{WorkerID: workerID, UnixMillis: uint64(now.UnixMilli())}
			if err := w.Write(wire.Frame{Type: wire.TypeHeartbeat, Payload: hb.Encode()}); err != nil {
				return
			}
		}
	}
}

func executeAndReport(ctx context.Context, w *frameWriter, runner *sandbox.Runner, workerID string, ar wire.ActionRequest) {
	a := action.Action{
		ID:       action.ID{TargetID: ar.ActionKey},
		Argv:     ar.Argv,
		Inputs:   ar.Inputs,
		Outputs:  ar.Outputs,
		Env:      envMap(ar.Env),
		Priority: ar.Priority,
	}

	result, err := runner.Run(ctx, a)
	if err != nil {
		slog.Error("action execution failed", "action_key", ar.ActionKey, "error", err)
		result.Status = action.StatusFailure
	}

	reply := wire.ActionResult{
		ActionKey:  ar.ActionKey,
		WorkerID:   workerID,
		Status:     uint8(result.Status),
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		WallTimeMS: uint64(result.Usage.WallTimeMS),
		CPUTimeMS:  uint64(result.Usage.CPUTimeMS),
	}
	w.Write(wire.Frame{Type: wire.TypeActionResult, Payload: reply.Encode()})
}

func envMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}

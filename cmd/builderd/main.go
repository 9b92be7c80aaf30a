// Command builderd is the distributed coordinator daemon: it accepts
// worker connections and submitter connections on one TCP listener,
// dispatches queued work to workers by priority, and tracks worker
// liveness for failure reassignment.
//
// Structure follows cmd/autobuilder/autobuilder.go (a single long-running
// daemon process, flag-configured, with background ticking goroutines)
// minus the teacher's GitHub polling glue, which has no analogue here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	builder "github.com/GriffinCanCode/Builder-sub007"
	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/addrfd"
	"github.com/GriffinCanCode/Builder-sub007/internal/coordinator"
)

func main() {
	listen := flag.String("listen", ":7071", "address to accept worker/submitter connections on")
	silenceTimeout := flag.Duration("silence_timeout", 30*time.Second, "how long a worker may go without a heartbeat before being declared dead")
	minWorkers := flag.Int("min_workers", 1, "autoscaler floor")
	maxWorkers := flag.Int("max_workers", 64, "autoscaler ceiling")
	flag.Parse()

	ctx, cancel := builder.InterruptibleContext()
	defer cancel()

	if err := run(ctx, *listen, *silenceTimeout, *minWorkers, *maxWorkers); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, listen string, silenceTimeout time.Duration, minWorkers, maxWorkers int) error {
	registry := coordinator.NewRegistry(silenceTimeout)
	queue := coordinator.NewQueue()
	scaler := coordinator.NewAutoscaler(minWorkers, maxWorkers, minWorkers)
	srv := coordinator.NewServer(registry, queue, scaler)

	registry.OnDead = func(workerID string, reassign []action.ID) {
		slog.Warn("worker declared dead, reassigning in-flight actions", "worker_id", workerID, "count", len(reassign))
		srv.Requeue(reassign)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	addrfd.MustWrite(ln.Addr().String())

	go registry.Run(ctx)
	go reportLoad(ctx, registry, queue, scaler)

	slog.Info("builderd listening", "addr", ln.Addr())
	return srv.Serve(ctx, ln)
}

// reportLoad feeds the autoscaler one load sample per tick: queue depth
// plus total in-flight actions across every alive worker, a simple
// proxy for "how saturated is the farm right now."
func reportLoad(ctx context.Context, registry *coordinator.Registry, queue *coordinator.Queue, scaler *coordinator.Autoscaler) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			load := float64(queue.Len())
			for _, id := range registry.Alive() {
				if w, ok := registry.Get(id); ok {
					load += float64(w.InFlight)
				}
			}
			target := scaler.Observe(now, load)
			slog.Debug("autoscaler observation", "load", load, "target_workers", target)
		}
	}
}

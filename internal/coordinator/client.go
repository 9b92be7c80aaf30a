package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/GriffinCanCode/Builder-sub007/internal/action"
	"github.com/GriffinCanCode/Builder-sub007/internal/errs"
	"github.com/GriffinCanCode/Builder-sub007/internal/wire"
)

// Client implements scheduler.Dispatcher against a remote builderd: it
// submits an Action as an ActionRequest frame and waits for the matching
// ActionResult frame, multiplexing many in-flight dispatches over one
// persistent connection (matched by ActionKey, mirroring
// internal/remotecache.Client's "one shared connection, many concurrent
// logical requests" shape).
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex // serializes WriteFrame, which writes header and payload separately

	mu      sync.Mutex
	waiters map[string]chan wire.ActionResult
}

// Dial connects to a builderd listening at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "CoordinatorUnavailable", "", err)
	}
	c := &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		waiters: make(map[string]chan wire.ActionResult),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		f, err := wire.ReadFrame(c.r)
		if err != nil {
			c.failAll(err)
			return
		}
		if f.Type != wire.TypeActionResult {
			continue
		}
		ar, err := wire.DecodeActionResult(f.Payload)
		if err != nil {
			continue
		}
		c.mu.Lock()
		wait, ok := c.waiters[ar.ActionKey]
		if ok {
			delete(c.waiters, ar.ActionKey)
		}
		c.mu.Unlock()
		if ok {
			wait <- ar
		}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, wait := range c.waiters {
		close(wait)
		delete(c.waiters, key)
	}
}

// Dispatch satisfies scheduler.Dispatcher: it submits a as an
// ActionRequest and blocks until the matching ActionResult arrives, ctx
// is cancelled, or the connection fails.
func (c *Client) Dispatch(ctx context.Context, a action.Action) (action.Result, error) {
	actionKey := a.ID.String()
	wait := make(chan wire.ActionResult, 1)
	c.mu.Lock()
	c.waiters[actionKey] = wait
	c.mu.Unlock()

	req := wire.ActionRequest{
		ActionKey: actionKey,
		Argv:      a.Argv,
		Inputs:    a.Inputs,
		Outputs:   a.Outputs,
		Env:       envPairs(a.Env),
		Priority:  a.Priority,
	}
	c.wmu.Lock()
	err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.TypeActionRequest, Payload: req.Encode()})
	c.wmu.Unlock()
	if err != nil {
		return action.Result{}, errs.New(errs.KindTransient, "CoordinatorUnavailable", a.ID.TargetID, err)
	}

	select {
	case ar, ok := <-wait:
		if !ok {
			return action.Result{}, errs.New(errs.KindTransient, "CoordinatorUnavailable", a.ID.TargetID,
				fmt.Errorf("connection closed waiting for result of %s", actionKey))
		}
		return resultFromWire(ar), nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, actionKey)
		c.mu.Unlock()
		return action.Result{}, ctx.Err()
	}
}

func resultFromWire(ar wire.ActionResult) action.Result {
	return action.Result{
		Status:   action.Status(ar.Status),
		ExitCode: ar.ExitCode,
		Stdout:   ar.Stdout,
		Stderr:   ar.Stderr,
		Metadata: action.Metadata{WorkerID: ar.WorkerID},
		Usage: action.Usage{
			WallTimeMS: int64(ar.WallTimeMS),
			CPUTimeMS:  int64(ar.CPUTimeMS),
		},
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

package rpc

import (
	"context"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/service"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// Client calls a remote TurnGate RPC server. Each call dials a fresh
// connection.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient accepts host:port or a URL whose host is used.
func NewClient(addr string, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Client{
		addr:        resolveRPCAddr(addr),
		dialTimeout: 5 * time.Second,
		callTimeout: callTimeout,
	}
}

// RunTurn runs one turn remotely.
func (c *Client) RunTurn(ctx context.Context, req service.TurnRequest) (*service.TurnResult, error) {
	var res service.TurnResult
	if err := c.call(ctx, ServiceName+".RunTurn", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RunTurns runs a batch remotely.
func (c *Client) RunTurns(ctx context.Context, reqs []service.TurnRequest) ([]service.BatchItem, error) {
	var reply BatchReply
	if err := c.call(ctx, ServiceName+".RunTurns", BatchArgs{Turns: reqs}, &reply); err != nil {
		return nil, err
	}
	return reply.Items, nil
}

// DispatchTool dispatches one invocation remotely.
func (c *Client) DispatchTool(ctx context.Context, tool string, req service.DispatchToolRequest) (*tools.DispatchResult, error) {
	var res tools.DispatchResult
	if err := c.call(ctx, ServiceName+".DispatchTool", DispatchArgs{Tool: tool, Request: req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTurn fetches a stored turn summary.
func (c *Client) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	var turn domain.Turn
	if err := c.call(ctx, ServiceName+".GetTurn", LookupArgs{ID: turnID}, &turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	defer client.Close()
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}

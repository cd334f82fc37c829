// Package rpc exposes the turn runner over JSON-RPC for internal callers.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/service"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// ServiceName is the JSON-RPC receiver name; methods are TurnGate.RunTurn etc.
const ServiceName = "TurnGate"

// Server serves JSON-RPC connections.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	closed    bool
	rpcServer *rpc.Server
	logger    *zap.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the turn service.
func NewServer(svc *service.Service, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections. A later Serve returns
// immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the TurnGate RPC methods.
type Handler struct {
	service *service.Service
}

// BatchArgs carries independent turns.
type BatchArgs struct {
	Turns []service.TurnRequest `json:"turns"`
}

// BatchReply keeps the request order.
type BatchReply struct {
	Items []service.BatchItem `json:"items"`
}

// DispatchArgs names the tool next to the dispatch request.
type DispatchArgs struct {
	Tool    string                      `json:"tool"`
	Request service.DispatchToolRequest `json:"request"`
}

// LookupArgs identifies a stored record.
type LookupArgs struct {
	ID string `json:"id"`
}

// RunTurn runs one turn.
func (h *Handler) RunTurn(req *service.TurnRequest, resp *service.TurnResult) error {
	if req == nil {
		return errors.New("turn request is required")
	}

	result, err := h.service.RunTurn(context.Background(), *req)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// RunTurns runs several independent turns.
func (h *Handler) RunTurns(req *BatchArgs, resp *BatchReply) error {
	if req == nil || len(req.Turns) == 0 {
		return errors.New("turns is required")
	}
	items := h.service.RunTurns(context.Background(), req.Turns)
	if resp != nil {
		resp.Items = items
	}
	return nil
}

// DispatchTool dispatches one invocation.
func (h *Handler) DispatchTool(req *DispatchArgs, resp *tools.DispatchResult) error {
	if req == nil {
		return errors.New("dispatch request is required")
	}
	if req.Tool == "" {
		return errors.New("tool is required")
	}

	result, err := h.service.DispatchTool(context.Background(), req.Tool, req.Request)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// GetTurn returns a stored turn summary.
func (h *Handler) GetTurn(req *LookupArgs, resp *domain.Turn) error {
	if req == nil || req.ID == "" {
		return errors.New("id is required")
	}
	turn, err := h.service.GetTurn(context.Background(), req.ID)
	if err != nil {
		return rpcError(err)
	}
	if resp != nil {
		*resp = *turn
	}
	return nil
}

// rpcError prefixes the stable error code so clients can branch on it.
func rpcError(err error) error {
	return fmt.Errorf("%s: %w", domain.ErrorCode(err), err)
}

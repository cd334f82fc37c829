package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/turngate/internal/app"
	httpserver "github.com/xiaot623/gogo/turngate/internal/transport/http"
	"github.com/xiaot623/gogo/turngate/internal/transport/rpc"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the optional JSON-RPC server and the outbox expiry monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	logger := c.logger
	logger.Info("starting turngate",
		zap.Int("http_port", c.cfg.HTTPPort),
		zap.String("rpc_addr", c.cfg.RPCAddr),
		zap.String("database", c.cfg.DatabaseURL),
		zap.String("oracle_url", c.cfg.OracleURL),
		zap.Bool("mock", c.cfg.Mock))

	a, err := app.New(ctx, c.cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e := httpserver.NewServer(a.Service, a.Oracle, logger.Named("http"))

	var (
		rpcServer   *rpc.Server
		rpcListener net.Listener
	)
	if c.cfg.RPCAddr != "" {
		if rpcServer, err = rpc.NewServer(a.Service, logger.Named("rpc")); err != nil {
			return err
		}
		if rpcListener, err = net.Listen("tcp", c.cfg.RPCAddr); err != nil {
			return fmt.Errorf("rpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", c.cfg.HTTPPort)
		logger.Info("http api listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if rpcServer != nil {
		g.Go(func() error {
			if err := rpcServer.Serve(rpcListener); err != nil {
				return fmt.Errorf("rpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		a.Service.RunOutboxExpiryMonitor(gctx, a.Store, c.cfg.OutboxSweep)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down turngate")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", zap.Error(err))
		}
		if rpcServer != nil {
			if err := rpcServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shutdown rpc server gracefully", zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("turngate stopped")
	return err
}

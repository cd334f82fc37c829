package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// RunOutboxExpiryMonitor expires queued tool calls older than the outbox TTL
// until ctx is done. It returns immediately when the TTL is not positive.
func (s *Service) RunOutboxExpiryMonitor(ctx context.Context, outbox OutboxMaintainer, interval time.Duration) {
	if s.cfg.OutboxTTL <= 0 || outbox == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleToolCalls(ctx, outbox)
		}
	}
}

func (s *Service) sweepStaleToolCalls(ctx context.Context, outbox OutboxMaintainer) int {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	stale, err := outbox.ListStaleToolCalls(sweepCtx, time.Now().UTC().Add(-s.cfg.OutboxTTL), 100)
	if err != nil {
		s.logger.Warn("outbox expiry sweep failed", zap.Error(err))
		return 0
	}

	expired := 0
	for _, tc := range stale {
		updated, err := outbox.UpdateToolCallStatus(sweepCtx, tc.ToolCallID, domain.ToolCallStatusQueued, domain.ToolCallStatusExpired)
		if err != nil {
			s.logger.Warn("failed to expire tool call", zap.String("tool_call_id", tc.ToolCallID), zap.Error(err))
			continue
		}
		if !updated {
			continue
		}
		expired++
		s.logger.Info("tool call expired",
			zap.String("tool_call_id", tc.ToolCallID),
			zap.String("tool", tc.ToolName),
			zap.String("turn_id", tc.TurnID))
	}
	return expired
}

package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// BatchItem is the result of one turn in a batch.
type BatchItem struct {
	Result    *TurnResult `json:"result,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// RunTurns runs independent turns concurrently, at most Config.Concurrency
// at a time. One turn failing does not affect the others. Items keep the
// request order.
func (s *Service) RunTurns(ctx context.Context, reqs []TurnRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range reqs {
		i := i
		g.Go(func() error {
			res, err := s.RunTurn(ctx, reqs[i])
			if err != nil {
				items[i] = BatchItem{ErrorCode: domain.ErrorCode(err), Error: err.Error()}
				return nil
			}
			items[i] = BatchItem{Result: res}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

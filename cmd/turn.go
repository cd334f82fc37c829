package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/turngate/internal/app"
	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/service"
	"github.com/xiaot623/gogo/turngate/internal/transport/rpc"
)

type turnFlags struct {
	utterance      string
	historyFile    string
	mock           bool
	requesterID    string
	conversationID string
	pipeline       string
	usersFile      string
	rpcAddr        string
}

func newTurnCmd(c *cli) *cobra.Command {
	f := &turnFlags{}
	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Run one turn and print the result as JSON",
		Example: `  turngate turn --mock --utterance "Slept 7 hours. Mood is a bit low."
  turngate turn --utterance "Show Nick's sleep" --history-file history.json --users-file users.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.mock {
				c.cfg.Mock = true
			}
			req, err := f.request()
			if err != nil {
				return err
			}

			var res *service.TurnResult
			if f.rpcAddr != "" {
				res, err = rpc.NewClient(f.rpcAddr, c.cfg.OracleTimeout*5).RunTurn(cmd.Context(), req)
			} else {
				res, err = runLocal(cmd.Context(), c, req)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&f.utterance, "utterance", "", "new user utterance")
	cmd.Flags().StringVar(&f.historyFile, "history-file", "", "JSON file with prior messages [{role, content}]")
	cmd.Flags().BoolVar(&f.mock, "mock", false, "use the heuristic mock oracle")
	cmd.Flags().StringVar(&f.requesterID, "requester", "cli-user", "requester user id")
	cmd.Flags().StringVar(&f.conversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "pipeline key")
	cmd.Flags().StringVar(&f.usersFile, "users-file", "", "JSON file with available users [{id, name}]")
	cmd.Flags().StringVar(&f.rpcAddr, "rpc-addr", "", "send the turn to a running server's JSON-RPC address instead")
	return cmd
}

func runLocal(ctx context.Context, c *cli, req service.TurnRequest) (*service.TurnResult, error) {
	a, err := app.New(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Service.RunTurn(ctx, req)
}

func (f *turnFlags) request() (service.TurnRequest, error) {
	req := service.TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: f.utterance, Pipeline: f.pipeline},
		ConversationID:  f.conversationID,
		RequesterID:     f.requesterID,
	}
	if f.historyFile != "" {
		if err := readJSON(f.historyFile, &req.History); err != nil {
			return req, fmt.Errorf("read history: %w", err)
		}
	}
	if f.usersFile != "" {
		var users []domain.AvailableUser
		if err := readJSON(f.usersFile, &users); err != nil {
			return req, fmt.Errorf("read users: %w", err)
		}
		req.AvailableUsers = make(domain.AvailableUsers, len(users))
		for _, u := range users {
			req.AvailableUsers[u.ID] = u
		}
	}
	return req, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

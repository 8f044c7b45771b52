package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/lmclient"
)

func newPullCmd() *cobra.Command {
	var flags clientFlags

	c := &cobra.Command{
		Use:   "pull <name>",
		Short: "Download a model's checkpoint into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return flags.client().Pull(ctx, args[0], func(p lmclient.PullProgress) {
				printPullProgress(cmd, p)
			})
		},
	}
	flags.register(c)
	return c
}

func printPullProgress(cmd *cobra.Command, p lmclient.PullProgress) {
	switch p.Event {
	case "progress":
		var event struct {
			Status    string `json:"status"`
			Completed int64  `json:"completed"`
			Total     int64  `json:"total"`
		}
		if err := json.Unmarshal([]byte(p.Data), &event); err != nil {
			return
		}
		if event.Total > 0 {
			cmd.Printf("\rdownloading: %s / %s", units.BytesSize(float64(event.Completed)), units.BytesSize(float64(event.Total)))
		}
	case "complete":
		cmd.Println()
		cmd.Println("pull complete")
	case "error":
		cmd.Println()
		fmt.Fprintf(cmd.ErrOrStderr(), "pull failed: %s\n", p.Data)
	}
}

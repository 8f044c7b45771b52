package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var flags clientFlags

	c := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a model's checkpoint from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := flags.client().Delete(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("deleted %s\n", args[0])
			return nil
		},
	}
	flags.register(c)
	return c
}

package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// newStopCmd unloads every resident model rather than killing the daemon
// process itself: lemonade-server has no self-stop endpoint, mirroring the
// teacher CLI's separation between "unload models" and "stop the Docker
// Desktop backend" (the latter isn't this CLI's job either).
func newStopCmd() *cobra.Command {
	var flags clientFlags

	c := &cobra.Command{
		Use:   "stop",
		Short: "Unload every resident model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := flags.client().Unload(ctx, ""); err != nil {
				return err
			}
			cmd.Println("all models unloaded")
			return nil
		},
	}
	flags.register(c)
	return c
}

package commands

import "github.com/spf13/cobra"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the lemonade-server version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("lemonade-server version %s\n", Version)
		},
	}
}

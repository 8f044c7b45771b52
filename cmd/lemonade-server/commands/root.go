// Package commands implements lemonade-server's cobra command tree: a thin
// HTTP client wrapper for every subcommand except serve, which owns process
// lifetime directly, following the teacher CLI's cmd/cli/commands shape.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/lmclient"
)

// Version is overridden at build time via -ldflags, matching the teacher
// CLI's convention.
var Version = "dev"

// clientFlags are the connection flags shared by every subcommand that
// talks to a running daemon rather than starting one.
type clientFlags struct {
	host   string
	port   int
	apiKey string
}

func (f *clientFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.host, "host", "localhost", "Daemon host")
	c.Flags().IntVar(&f.port, "port", 8000, "Daemon port")
	c.Flags().StringVar(&f.apiKey, "api-key", "", "API key, if the daemon requires one")
}

func (f *clientFlags) client() *lmclient.Client {
	return lmclient.New(fmt.Sprintf("http://%s:%d", f.host, f.port), f.apiKey)
}

// NewRootCmd builds the lemonade-server command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lemonade-server",
		Short: "Local OpenAI/Ollama-compatible inference server",
	}
	root.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newStatusCmd(),
		newStopCmd(),
		newPullCmd(),
		newListCmd(),
		newDeleteCmd(),
		newRunCmd(),
		newRecipesCmd(),
	)
	return root
}

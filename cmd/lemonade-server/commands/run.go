package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/lmclient"
)

func newRunCmd() *cobra.Command {
	var flags clientFlags
	var prompt string

	c := &cobra.Command{
		Use:   "run <name>",
		Short: "Load a model and chat with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client()
			modelName := args[0]

			loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := client.Load(loadCtx, modelName, 0); err != nil {
				return fmt.Errorf("loading %s: %w", modelName, err)
			}

			if prompt != "" {
				return runChatOnce(cmd, client, modelName, prompt)
			}
			return runChatREPL(cmd, client, modelName)
		},
	}
	flags.register(c)
	c.Flags().StringVar(&prompt, "prompt", "", "Send a single prompt and exit, instead of an interactive chat")
	return c
}

func runChatOnce(cmd *cobra.Command, client *lmclient.Client, modelName, prompt string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	err := client.Chat(ctx, modelName, prompt, func(d lmclient.ChatDelta) {
		cmd.Print(d.Content)
	})
	cmd.Println()
	return err
}

func runChatREPL(cmd *cobra.Command, client *lmclient.Client, modelName string) error {
	cmd.Printf("chatting with %s, press ctrl+d to exit\n", modelName)
	reader := bufio.NewScanner(os.Stdin)
	for {
		cmd.Print("> ")
		if !reader.Scan() {
			cmd.Println()
			return reader.Err()
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err := client.Chat(ctx, modelName, line, func(d lmclient.ChatDelta) {
			cmd.Print(d.Content)
		})
		cancel()
		cmd.Println()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	}
}

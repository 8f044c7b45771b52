package commands

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/lmclient"
)

func newRecipesCmd() *cobra.Command {
	var flags clientFlags

	c := &cobra.Command{
		Use:   "recipes",
		Short: "List the inference engines available on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			models, err := flags.client().List(ctx, true)
			if err != nil {
				return err
			}
			cmd.Print(renderRecipesTable(models))
			return nil
		},
	}
	flags.register(c)
	return c
}

// renderRecipesTable groups the catalog's models by recipe (flm, llamacpp,
// kokoro, ryzenai-npu, sd-cpp, whispercpp, ...), since the server doesn't
// expose a dedicated recipes endpoint: the recipe a model is loaded through
// is already part of every models listing.
func renderRecipesTable(models []lmclient.Model) string {
	counts := make(map[string]int)
	for _, m := range models {
		counts[m.Recipe]++
	}
	recipes := make([]string, 0, len(counts))
	for r := range counts {
		recipes = append(recipes, r)
	}
	sort.Strings(recipes)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"RECIPE", "MODELS"})
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range recipes {
		table.Append([]string{r, strconv.Itoa(counts[r])})
	}
	table.Render()
	return buf.String()
}

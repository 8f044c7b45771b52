package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/lmclient"
)

func newListCmd() *cobra.Command {
	var flags clientFlags
	var showAll, jsonOut bool

	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List models known to lemonade-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			models, err := flags.client().List(ctx, showAll)
			if err != nil {
				return err
			}
			sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

			if jsonOut {
				data, err := json.Marshal(models)
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Print(renderModelsTable(models))
			return nil
		},
	}
	flags.register(c)
	c.Flags().BoolVar(&showAll, "all", false, "Include models that haven't been downloaded yet")
	c.Flags().BoolVar(&jsonOut, "json", false, "List models in JSON format")
	return c
}

func renderModelsTable(models []lmclient.Model) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"MODEL", "RECIPE", "TYPE", "CHECKPOINT"})
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, m := range models {
		table.Append([]string{m.ID, m.Recipe, m.ModelType, m.Checkpoint})
	}
	table.Render()
	return buf.String()
}

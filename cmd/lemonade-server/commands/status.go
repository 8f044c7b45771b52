package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/lmclient"
)

func newStatusCmd() *cobra.Command {
	var flags clientFlags
	var jsonOut, watch bool

	c := &cobra.Command{
		Use:   "status",
		Short: "Check whether lemonade-server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := flags.client()
			if watch {
				return runStatusDashboard(client)
			}
			return printStatus(cmd, client, jsonOut)
		},
	}
	flags.register(c)
	c.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	c.Flags().BoolVar(&watch, "watch", false, "Live-updating terminal dashboard")
	return c
}

type statusReport struct {
	Running bool                     `json:"running"`
	Health  *lmclient.HealthResponse `json:"health,omitempty"`
}

func fetchStatus(client *lmclient.Client) statusReport {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if !client.Live(ctx) {
		return statusReport{Running: false}
	}
	health, err := client.Health(ctx)
	if err != nil {
		return statusReport{Running: true}
	}
	return statusReport{Running: true, Health: &health}
}

func printStatus(cmd *cobra.Command, client *lmclient.Client, jsonOut bool) error {
	report := fetchStatus(client)

	if jsonOut {
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	} else if report.Running {
		cmd.Println("lemonade-server is running")
		if report.Health != nil {
			cmd.Printf("  resident models: %v\n", modelNames(report.Health.AllModelsLoaded))
			cmd.Printf("  max models: %+v\n", report.Health.MaxModels)
		}
	} else {
		cmd.Println("lemonade-server is not running")
	}

	if !report.Running {
		os.Exit(1)
	}
	return nil
}

func modelNames(entries []lmclient.LoadedEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

// dashboardModel is the bubbletea model backing `status --watch`: it polls
// the daemon on a fixed tick and re-renders the resident model list. Models
// still spawning get an animated spinner next to their name rather than a
// static "spawning" label.
type dashboardModel struct {
	client  *lmclient.Client
	report  statusReport
	err     error
	spinner spinner.Model
}

type tickMsg time.Time

func dashboardTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func newDashboardModel(client *lmclient.Client) dashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return dashboardModel{client: client, spinner: s}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(dashboardTick(), m.spinner.Tick, m.poll())
}

func (m dashboardModel) poll() tea.Cmd {
	return func() tea.Msg {
		return fetchStatus(m.client)
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(dashboardTick(), m.poll())
	case statusReport:
		m.report = msg
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

var (
	dashboardTitle   = lipgloss.NewStyle().Bold(true)
	dashboardRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dashboardStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func (m dashboardModel) View() string {
	var state string
	if m.report.Running {
		state = dashboardRunning.Render("running")
	} else {
		state = dashboardStopped.Render("not running")
	}

	view := dashboardTitle.Render("lemonade-server status") + "\n\n" + state + "\n"
	if m.report.Health != nil {
		view += "\nresident models:\n"
		if len(m.report.Health.AllModelsLoaded) == 0 {
			view += "  (none)\n"
		}
		for _, e := range m.report.Health.AllModelsLoaded {
			marker := "loaded"
			if e.Pending {
				marker = m.spinner.View() + " spawning"
			}
			view += fmt.Sprintf("  %s (%s)\n", e.Name, marker)
		}
	}
	view += "\npress q to quit\n"
	return view
}

func runStatusDashboard(client *lmclient.Client) error {
	_, err := tea.NewProgram(newDashboardModel(client)).Run()
	return err
}

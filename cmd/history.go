package cmd

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"rampcheck/internal/cli"
	"rampcheck/internal/report"
	"rampcheck/internal/storage"
	"rampcheck/internal/tui/history"
	"rampcheck/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		browse, _ := cmd.Flags().GetBool("tui")

		items, err := listRuns(limit)
		if err != nil {
			return err
		}
		if browse {
			_, err := tea.NewProgram(history.NewModel(items), tea.WithAltScreen()).Run()
			return err
		}
		if len(items) == 0 {
			fmt.Println("No history found. Run a test to generate data.")
			return nil
		}
		fmt.Println(historyTable(items))
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the summary of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rep, err := store.Get(args[0])
		if err != nil {
			return err
		}
		cli.PrintSummary(os.Stdout, *rep)
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to show, newest first (0 for all)")
	historyCmd.Flags().Bool("tui", false, "browse runs interactively")
}

func openStore() (*storage.Store, error) {
	f, err := loadFile()
	if err != nil {
		return nil, err
	}
	if f.History == "" {
		return nil, fmt.Errorf("no history database configured")
	}
	return storage.Open(f.History)
}

func listRuns(limit int) ([]report.Report, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(limit)
}

func historyTable(items []report.Report) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Subtle).
		Headers("RUN", "STARTED", "TARGET", "REQS", "SUCCESS", "P95 (MS)", "VERDICT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Active.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, r := range items {
		verdict := "pass"
		if !r.Verdict.Passed {
			verdict = "FAIL"
		}
		t.Row(
			r.RunID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Target,
			fmt.Sprintf("%d", r.Summary.Total),
			fmt.Sprintf("%.1f%%", r.Summary.SuccessRate()*100),
			fmt.Sprintf("%.2f", r.Summary.Latency.P95),
			verdict,
		)
	}
	return t.Render()
}

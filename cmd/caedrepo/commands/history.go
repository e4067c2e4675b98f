package commands

import (
	"fmt"
	"time"

	"caedrepo/internal/components/serviceutil"
	"caedrepo/internal/ledger"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "The number of exports to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Lists the exports recorded in the ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if !cfg.Ledger.Enabled() {
			return fmt.Errorf("no ledger configured, set ledger.file in %s", defaultConfigFile)
		}
		l, err := ledger.Open(cfg.Ledger)
		if err != nil {
			return err
		}
		defer l.Close()

		entries, err := l.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Started", "Took", "Env", "Form", "Code", "Subprogram", "Status", "Result"})
		for _, e := range entries {
			result := e.Path
			if e.Error != "" {
				result = e.Error
			}
			t.AppendRow(table.Row{
				e.StartedAt.Format(time.DateTime),
				e.FinishedAt.Sub(e.StartedAt).Round(time.Second).String(),
				e.Environment,
				e.Form,
				e.FormCode,
				e.Subprogram,
				string(e.Status),
				result,
			})
		}
		t.Render()
		return nil
	},
}

package commands

import (
	"caedrepo/internal/components/serviceutil"
	"caedrepo/internal/forms"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var columnsSubprogram string

func init() {
	columnsCmd.Flags().StringVar(&columnsSubprogram, "subprogram", "", "The subprogram the form belongs to.")
	columnsCmd.MarkFlagRequired("subprogram")
	rootCmd.AddCommand(columnsCmd)
}

var columnsCmd = &cobra.Command{
	Use:   "columns <form-code> --subprogram <code>",
	Short: "Lists the fields of a form.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			serviceutil.Fatal("failed to load credentials", err)
		}
		code := args[0]
		fields, err := s.client.FormFields(cmd.Context(), columnsSubprogram, code, forms.LayoutCode(code))
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Order", "Name", "Size", "Type"})
		for _, f := range fields {
			t.AppendRow(table.Row{f.Order, f.Name, f.Size, f.Type})
		}
		t.Render()
		return nil
	},
}

package commands

import (
	"errors"
	"fmt"
	"strings"

	"caedrepo/internal/components/serviceutil"
	"caedrepo/internal/components/telemetry"
	"caedrepo/internal/forms"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var formsSubprogram string

func init() {
	formsFindCmd.Flags().StringVar(&formsSubprogram, "subprogram", "", "The subprogram whose catalog is searched.")
	formsFindCmd.MarkFlagRequired("subprogram")

	formsCmd.AddCommand(formsFindCmd)
	formsCmd.AddCommand(formsKnownCmd)
	rootCmd.AddCommand(formsCmd)
}

var formsCmd = &cobra.Command{
	Use:   "forms",
	Short: "Inspects the forms that can be exported.",
}

var formsFindCmd = &cobra.Command{
	Use:   "find <name> --subprogram <code>",
	Short: "Finds the code of a form by its name (ESCOLA or FORM_ESCOLA_<subprogram>).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if kind := forms.Classify(name); kind != forms.KindDynamic {
			fmt.Printf("%s is a fixed layout: %s\n", name, kind.Code())
			return nil
		}
		if !strings.HasPrefix(strings.ToUpper(name), "FORM_") {
			name = forms.LookupName(name, formsSubprogram)
		}

		s, err := openSession()
		if err != nil {
			serviceutil.Fatal("failed to load credentials", err)
		}
		catalog := forms.NewCatalog(s.client, telemetry.SlogAPI{})
		code, fullName, err := catalog.ResolveByName(cmd.Context(), formsSubprogram, name)
		var notFound *forms.FormNotFoundError
		if errors.As(err, &notFound) && notFound.Err == nil {
			fmt.Println(notFound.Error())
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", fullName, code)
		return nil
	},
}

var formsKnownCmd = &cobra.Command{
	Use:   "known",
	Short: "Lists the forms with a fixed layout.",
	Run: func(cmd *cobra.Command, args []string) {
		t := newTable()
		t.AppendHeader(table.Row{"Code", "Name", "Service", "Layout", "Columns"})
		for _, code := range forms.KnownCodes() {
			d, _ := forms.Known(code)
			t.AppendRow(table.Row{
				d.Code,
				d.DisplayName,
				fmt.Sprintf("%s (%d)", d.Service.Name, d.Service.Id),
				fmt.Sprintf("%v (%d)", d.Layout.Code, d.Layout.Id),
				len(d.Columns),
			})
		}
		t.Render()
	},
}

package commands

import (
	"fmt"
	"log/slog"
	"time"

	"caedrepo/internal/components/serviceutil"
	"caedrepo/internal/components/telemetry"
	"caedrepo/internal/export"
	"caedrepo/internal/forms"
	"caedrepo/internal/ledger"
	"caedrepo/internal/notify"
	"caedrepo/internal/payload"

	"github.com/spf13/cobra"
)

var (
	exportForm        string
	exportSubprogram  string
	exportSource      string
	exportDest        string
	exportFilterCol   string
	exportFilterOp    string
	exportFilterValue []string
)

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportForm, "form", "", "The form to export (ESCOLA, TURMA, USUARIO, APP_LOGISTICA, L009, ...).")
	flags.StringVar(&exportSubprogram, "subprogram", "", "The subprogram code the data belongs to.")
	flags.StringVar(&exportSource, "source", "", "The data source code.")
	flags.StringVar(&exportDest, "dest", "", "The directory to write the files to.")
	flags.StringVar(&exportFilterCol, "filter-column", "", "The field to filter on.")
	flags.StringVar(&exportFilterOp, "filter-op", "", "The filter operator ('=' or 'in').")
	flags.StringArrayVar(&exportFilterValue, "filter-value", nil, "The filter value, repeat it or use '|||' to pass several values to 'in'.")
	exportCmd.MarkFlagRequired("form")
	exportCmd.MarkFlagRequired("subprogram")
	exportCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(exportCmd)
}

// filterValue turns the repeated --filter-value flags into the value of the
// filter, only "in" takes more than one.
func filterValue(operator string, values []string) (any, error) {
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return values[0], nil
	}
	if operator != payload.OperatorIn {
		return nil, fmt.Errorf("operator %q takes a single --filter-value, got %d", operator, len(values))
	}
	return values, nil
}

var exportCmd = &cobra.Command{
	Use:   "export --form <name> --subprogram <code> --source <code> [--dest <dir>]",
	Short: "Requests an export, waits for it and saves the csv.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			serviceutil.Fatal("failed to load credentials", err)
		}

		opts := []export.Option{
			export.WithTelemetry(telemetry.SlogAPI{}),
			export.WithKeepZip(!s.cfg.Export.DropZip),
			export.WithStateObserver(func(state export.State) {
				slog.Info("export", "form", exportForm, "state", state.String())
			}),
		}
		if s.cfg.Export.PollBudgetSeconds > 0 {
			opts = append(opts, export.WithPollBudget(time.Duration(s.cfg.Export.PollBudgetSeconds)*time.Second))
		}
		if s.cfg.Export.PollIntervalSeconds > 0 {
			opts = append(opts, export.WithPollInterval(time.Duration(s.cfg.Export.PollIntervalSeconds)*time.Second))
		}
		if s.cfg.Ledger.Enabled() {
			l, err := ledger.Open(s.cfg.Ledger)
			if err != nil {
				slog.Warn("ledger disabled", "err", err)
			} else {
				defer l.Close()
				opts = append(opts, export.WithRecorder(l))
			}
		}
		if s.cfg.Smtp.Enabled() {
			opts = append(opts, export.WithNotifier(notify.NewMailer(s.cfg.Smtp)))
		}

		exporter, err := export.NewExporter(s.client, forms.NewCatalog(s.client, telemetry.SlogAPI{}), opts...)
		if err != nil {
			serviceutil.Fatal("failed to create exporter", err)
		}

		dest := exportDest
		if dest == "" {
			dest = s.cfg.Export.Destination
		}
		req := export.Request{
			Form:        exportForm,
			Subprogram:  exportSubprogram,
			Source:      exportSource,
			Destination: dest,
		}
		if exportFilterOp != "" || exportFilterCol != "" {
			value, err := filterValue(exportFilterOp, exportFilterValue)
			if err != nil {
				return err
			}
			req.Filter = &export.Filter{
				Column:   exportFilterCol,
				Operator: exportFilterOp,
				Value:    value,
			}
		}

		res, err := exporter.Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println(res.Path)
		return nil
	},
}

// Package export drives a repository export from the request to the renamed
// csv on disk.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"caedrepo/internal/caed"
	"caedrepo/internal/components/assert"
	"caedrepo/internal/components/chrono"
	"caedrepo/internal/components/telemetry"
	"caedrepo/internal/environment"
	"caedrepo/internal/forms"
	"caedrepo/internal/ledger"
	"caedrepo/internal/payload"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const library_name = "caedrepo.export"

const (
	report_exporter_poll     = "exporter.poll"
	report_exporter_ledger   = "exporter.ledger"
	report_exporter_notify   = "exporter.notify"
	report_exporter_columns  = "exporter.columns"
	report_exporter_cleanup  = "exporter.cleanup"
	report_exporter_attempts = "exporter.poll-attempts"
	report_exporter_metrics  = "exporter.metrics"
)

const (
	DefaultPollBudget   = 600 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Remote is the part of the repository client an export uses.
type Remote interface {
	Profile() environment.Profile
	Token(ctx context.Context) (string, error)
	RequestExport(ctx context.Context, doc any) (caed.ExportReceipt, error)
	HistoryTotal(ctx context.Context, date string) (int, error)
	HistoryPage(ctx context.Context, date string, total int) ([]caed.HistoryEntry, error)
	Download(ctx context.Context, fileName string) ([]byte, error)
}

// Catalog resolves forms that are not in the fixed table.
type Catalog interface {
	ResolveByName(ctx context.Context, subprogram, name string) (string, string, error)
	FetchColumns(ctx context.Context, subprogram, code string) forms.Columns
	ResolveField(ctx context.Context, subprogram, code, name string) (forms.Field, bool)
}

// Recorder stores the outcome of every export.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (int64, error)
}

// Notifier is told about finished exports.
type Notifier interface {
	NotifyExport(ctx context.Context, e ledger.Entry) error
}

// Filter is the optional single filter clause of an export.
type Filter struct {
	Column   string
	Operator string
	// Value is a string, a []string or a []any, see payload.NormalizeValue.
	Value any
}

type Request struct {
	// Form is the business name of the form (ESCOLA, USUARIO, L009, ...).
	Form       string
	Subprogram string
	Source     string
	// Destination is the directory the files are written to, the working
	// directory when empty.
	Destination string
	Filter      *Filter
}

type Result struct {
	// Path is the renamed csv.
	Path     string
	FileName string
	ZipPath  string
	FormCode string
	Label    string
}

type exporterConfig struct {
	tel          telemetry.API
	clock        chrono.API
	pollBudget   time.Duration
	pollInterval time.Duration
	observer     func(State)
	recorder     Recorder
	notifier     Notifier
	keepZip      bool
}

type Option func(cfg *exporterConfig)

func WithTelemetry(tel telemetry.API) Option {
	return func(cfg *exporterConfig) {
		cfg.tel = tel
	}
}

func WithClock(clock chrono.API) Option {
	return func(cfg *exporterConfig) {
		cfg.clock = clock
	}
}

func WithPollBudget(d time.Duration) Option {
	return func(cfg *exporterConfig) {
		cfg.pollBudget = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(cfg *exporterConfig) {
		cfg.pollInterval = d
	}
}

// WithStateObserver is called with every state an export enters, failures
// included.
func WithStateObserver(fn func(State)) Option {
	return func(cfg *exporterConfig) {
		cfg.observer = fn
	}
}

func WithRecorder(r Recorder) Option {
	return func(cfg *exporterConfig) {
		cfg.recorder = r
	}
}

func WithNotifier(n Notifier) Option {
	return func(cfg *exporterConfig) {
		cfg.notifier = n
	}
}

// WithKeepZip keeps the downloaded archive next to the csv, it is removed
// after extraction otherwise.
func WithKeepZip(keep bool) Option {
	return func(cfg *exporterConfig) {
		cfg.keepZip = keep
	}
}

type Exporter struct {
	remote  Remote
	catalog Catalog
	cfg     exporterConfig
	tel     telemetry.API

	tracer       trace.Tracer
	exports      metric.Int64Counter
	pollAttempts metric.Int64Counter
}

func NewExporter(remote Remote, catalog Catalog, opts ...Option) (Exporter, error) {
	assert.NotNil(remote, "remote")
	assert.NotNil(catalog, "catalog")

	cfg := exporterConfig{
		tel:          telemetry.SlogAPI{},
		pollBudget:   DefaultPollBudget,
		pollInterval: DefaultPollInterval,
		keepZip:      true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		clock, err := chrono.NewStandardImpl()
		if err != nil {
			return Exporter{}, err
		}
		cfg.clock = clock
	}
	tel := telemetry.NewScopedAPI("export", cfg.tel)

	meter := otel.Meter(library_name)
	exports, err := meter.Int64Counter(
		"caedrepo.exports",
		metric.WithDescription("Finished exports by outcome."),
	)
	if err != nil {
		tel.ReportWarning(report_exporter_metrics, err)
		exports = noop.Int64Counter{}
	}
	pollAttempts, err := meter.Int64Counter(
		"caedrepo.poll_attempts",
		metric.WithDescription("History pages fetched while waiting for an export."),
	)
	if err != nil {
		tel.ReportWarning(report_exporter_metrics, err)
		pollAttempts = noop.Int64Counter{}
	}

	return Exporter{
		remote:       remote,
		catalog:      catalog,
		cfg:          cfg,
		tel:          tel,
		tracer:       otel.Tracer(library_name),
		exports:      exports,
		pollAttempts: pollAttempts,
	}, nil
}

type run struct {
	req     Request
	started time.Time
	span    trace.Span

	state    State
	code     string
	label    string
	fileName string
	path     string
}

func (e Exporter) enter(r *run, s State) {
	r.state = s
	r.span.AddEvent(s.String())
	e.tel.ReportDebug("export state", r.req.Form, s.String())
	if e.cfg.observer != nil {
		e.cfg.observer(s)
	}
}

func (e Exporter) fail(r *run, step State, err error) error {
	e.enter(r, StateFailed)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, fmt.Sprintf("failed while %s", step.activity()))
	return &StepError{Step: step, Err: err}
}

// Run performs one export. Every failure is a *StepError wrapping the cause,
// a form missing from the catalog matches forms.ErrFormNotFound and a poll
// that ran out of time wraps *PollTimeoutError.
func (e Exporter) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "export")
	defer span.End()
	span.SetAttributes(
		attribute.String("form", req.Form),
		attribute.String("subprogram", req.Subprogram),
	)

	r := &run{req: req, started: e.cfg.clock.Now(), span: span}
	e.enter(r, StateIdle)

	res, err := e.run(ctx, r)
	e.finish(ctx, r, err)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e Exporter) run(ctx context.Context, r *run) (Result, error) {
	req := r.req

	_, err := e.remote.Token(ctx)
	if err != nil {
		return Result{}, e.fail(r, StateAuthenticated, err)
	}
	e.enter(r, StateAuthenticated)

	var columns []int
	kind := forms.Classify(req.Form)
	if kind == forms.KindDynamic {
		name := forms.LookupName(req.Form, req.Subprogram)
		code, fullName, err := e.catalog.ResolveByName(ctx, req.Subprogram, name)
		if err != nil {
			return Result{}, e.fail(r, StateFormResolved, err)
		}
		r.code = code
		r.label = fullName

		cols := e.catalog.FetchColumns(ctx, req.Subprogram, code)
		if cols.Degraded() {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, e.fail(r, StateFormResolved, ctxErr)
			}
			e.tel.ReportWarning(report_exporter_columns, "exporting without columns", code, cols.Err)
		}
		columns = cols.Orders
	} else {
		r.code = kind.Code()
		r.label = kind.Label(req.Form, req.Subprogram)
	}
	e.enter(r, StateFormResolved)
	r.span.SetAttributes(attribute.String("form_code", r.code))

	input := payload.Input{
		UserId:     e.remote.Profile().UserId,
		FormCode:   r.code,
		Columns:    columns,
		Subprogram: req.Subprogram,
		Source:     req.Source,
	}
	if req.Filter != nil {
		spec := &payload.FilterSpec{
			Operator: req.Filter.Operator,
			Column:   req.Filter.Column,
			Value:    req.Filter.Value,
		}
		if req.Filter.Column != "" {
			field, ok := e.catalog.ResolveField(ctx, req.Subprogram, r.code, req.Filter.Column)
			if ok {
				spec.Field = &field
			}
		}
		input.Filter = spec
	}
	if err := ctx.Err(); err != nil {
		return Result{}, e.fail(r, StatePayloadBuilt, err)
	}
	doc, err := payload.Build(input)
	if err != nil {
		return Result{}, e.fail(r, StatePayloadBuilt, err)
	}
	e.enter(r, StatePayloadBuilt)

	receipt, err := e.remote.RequestExport(ctx, doc)
	if err != nil {
		return Result{}, e.fail(r, StateSubmitted, err)
	}
	e.enter(r, StateSubmitted)
	e.tel.ReportDebug("export requested", receipt.FileName)

	prefix := PollPrefix(receipt.FileName)
	date := chrono.DateString(e.cfg.clock.Now())
	total, err := e.remote.HistoryTotal(ctx, date)
	if err != nil {
		return Result{}, e.fail(r, StatePolling, err)
	}
	e.enter(r, StatePolling)

	available, err := e.poll(ctx, prefix, date, total)
	if err != nil {
		return Result{}, e.fail(r, StateAvailable, err)
	}
	r.fileName = available
	e.enter(r, StateAvailable)

	data, err := e.remote.Download(ctx, available)
	if err != nil {
		return Result{}, e.fail(r, StateDownloaded, err)
	}
	e.enter(r, StateDownloaded)

	return e.store(r, data)
}

// poll waits until a history entry of the job is ready. The first check is
// immediate, a failed history page counts as not ready yet.
func (e Exporter) poll(ctx context.Context, prefix, date string, total int) (string, error) {
	ctx, span := e.tracer.Start(ctx, "poll")
	defer span.End()

	start := e.cfg.clock.Now()
	attempts := 0
	defer func() {
		span.SetAttributes(attribute.Int("attempts", attempts))
		e.tel.ReportCount(report_exporter_attempts, int64(attempts))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if e.cfg.clock.Now().Sub(start) >= e.cfg.pollBudget {
			err := &PollTimeoutError{Prefix: prefix, Budget: e.cfg.pollBudget}
			span.SetStatus(codes.Error, "poll budget exceeded")
			return "", err
		}

		attempts++
		e.pollAttempts.Add(ctx, 1)
		entries, err := e.remote.HistoryPage(ctx, date, total)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			e.tel.ReportWarning(report_exporter_poll, err, prefix)
		}
		if name, ok := findReady(entries, prefix); ok {
			return name, nil
		}

		if err := e.cfg.clock.Wait(ctx, e.cfg.pollInterval); err != nil {
			return "", err
		}
	}
}

func findReady(entries []caed.HistoryEntry, prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.FileName, prefix) && entry.Ready() {
			return entry.FileName, true
		}
	}
	return "", false
}

func (e Exporter) store(r *run, data []byte) (Result, error) {
	dir := r.req.Destination
	if dir == "" {
		dir = "."
	}
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return Result{}, e.fail(r, StateExtracted, &FileSystemError{Op: "mkdir", Path: dir, Err: err})
	}

	zipName := ZipName(r.fileName, r.label, r.req.Subprogram, r.code)
	zipPath := filepath.Join(dir, zipName)
	err = os.WriteFile(zipPath, data, 0o644)
	if err != nil {
		return Result{}, e.fail(r, StateExtracted, &FileSystemError{Op: "write", Path: zipPath, Err: err})
	}

	entries, err := extract(data, dir)
	if err != nil {
		e.discard(dir, zipPath, entries)
		return Result{}, e.fail(r, StateExtracted, err)
	}
	extracted := r.fileName + ".csv"
	found := false
	for _, name := range entries {
		if filepath.ToSlash(name) == extracted {
			found = true
			break
		}
	}
	if !found {
		e.discard(dir, zipPath, entries)
		return Result{}, e.fail(r, StateExtracted, &ArchiveError{
			Reason: fmt.Sprintf("expected entry %s not in archive (%s)", extracted, strings.Join(entries, ", ")),
		})
	}
	e.enter(r, StateExtracted)

	csvPath := filepath.Join(dir, CsvName(zipName))
	err = os.Rename(filepath.Join(dir, extracted), csvPath)
	if err != nil {
		return Result{}, e.fail(r, StateDone, &FileSystemError{Op: "rename", Path: csvPath, Err: err})
	}

	if !e.cfg.keepZip {
		err = os.Remove(zipPath)
		if err != nil {
			e.tel.ReportWarning(report_exporter_cleanup, err, zipPath)
		}
		zipPath = ""
	}

	r.path = csvPath
	e.enter(r, StateDone)
	return Result{
		Path:     csvPath,
		FileName: r.fileName,
		ZipPath:  zipPath,
		FormCode: r.code,
		Label:    r.label,
	}, nil
}

// discard removes the archive and whatever was extracted from it when the
// archive turned out unusable.
func (e Exporter) discard(dir, zipPath string, entries []string) {
	paths := []string{zipPath}
	for _, name := range entries {
		paths = append(paths, filepath.Join(dir, filepath.FromSlash(name)))
	}
	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			e.tel.ReportWarning(report_exporter_cleanup, err, path)
		}
	}
}

func outcome(err error) ledger.Status {
	var timeout *PollTimeoutError
	switch {
	case err == nil:
		return ledger.StatusDone
	case errors.As(err, &timeout):
		return ledger.StatusTimeout
	case errors.Is(err, forms.ErrFormNotFound):
		return ledger.StatusNotFound
	}
	return ledger.StatusFailed
}

// finish records the outcome, ledger and notification failures never fail
// the export itself.
func (e Exporter) finish(ctx context.Context, r *run, err error) {
	status := outcome(err)
	e.exports.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(status))))

	entry := ledger.Entry{
		StartedAt:   r.started,
		FinishedAt:  e.cfg.clock.Now(),
		Environment: e.remote.Profile().Name.String(),
		Form:        r.req.Form,
		FormCode:    r.code,
		Subprogram:  r.req.Subprogram,
		Source:      r.req.Source,
		FileName:    r.fileName,
		Path:        r.path,
		Status:      status,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	// the export context may be the reason the export failed
	bg := context.WithoutCancel(ctx)
	if e.cfg.recorder != nil {
		_, recErr := e.cfg.recorder.Record(bg, entry)
		if recErr != nil {
			e.tel.ReportWarning(report_exporter_ledger, recErr)
		}
	}
	if e.cfg.notifier != nil {
		notifyErr := e.cfg.notifier.NotifyExport(bg, entry)
		if notifyErr != nil {
			e.tel.ReportWarning(report_exporter_notify, notifyErr)
		}
	}
}

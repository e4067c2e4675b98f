package forms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"caedrepo/internal/caed"
	"caedrepo/internal/components/assert"
	"caedrepo/internal/components/telemetry"

	"github.com/antzucaro/matchr"
)

const (
	report_catalog_resolve_name = "catalog.resolve-by-name"
	report_catalog_columns      = "catalog.fetch-columns"
	report_catalog_field        = "catalog.resolve-field"
)

// ErrFormNotFound is an expected outcome: no form in the catalog carries the
// requested name.
var ErrFormNotFound = errors.New("form not found")

type FormNotFoundError struct {
	Name        string
	Suggestions []string
	// Err is set when the catalog itself could not be queried.
	Err error
}

func (e *FormNotFoundError) Error() string {
	msg := fmt.Sprintf("no form named %s", e.Name)
	if e.Err != nil {
		msg += fmt.Sprintf(" (catalog unavailable: %v)", e.Err)
	}
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(", did you mean %s?", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *FormNotFoundError) Is(target error) bool {
	return target == ErrFormNotFound
}

func (e *FormNotFoundError) Unwrap() error {
	return e.Err
}

// Source is the part of the remote client the catalog reads from.
type Source interface {
	Catalog(ctx context.Context, subprogram string) ([]caed.CatalogEntry, error)
	FormFields(ctx context.Context, subprogram, formCode, layoutCode string) ([]caed.FormField, error)
}

type Catalog struct {
	source Source
	tel    telemetry.API
}

func NewCatalog(source Source, tel telemetry.API) Catalog {
	assert.NotNil(source, "source")
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	return Catalog{
		source: source,
		tel:    telemetry.NewScopedAPI("forms", tel),
	}
}

const (
	suggestionThreshold = 0.85
	maxSuggestions      = 3
)

// ResolveByName finds the code of the form registered under name. Names are
// matched exactly after upper casing both sides. A miss, or a catalog that
// cannot be queried, is a *FormNotFoundError.
func (c Catalog) ResolveByName(ctx context.Context, subprogram, name string) (code string, fullName string, err error) {
	entries, err := c.source.Catalog(ctx, subprogram)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		c.tel.ReportWarning(report_catalog_resolve_name, err, name)
		return "", "", &FormNotFoundError{Name: name, Err: err}
	}

	target := strings.ToUpper(name)
	for _, e := range entries {
		if strings.ToUpper(e.Name) == target {
			c.tel.ReportDebug("resolved form", name, e.Code)
			return e.Code, name, nil
		}
	}
	return "", "", &FormNotFoundError{
		Name:        name,
		Suggestions: suggest(target, entries),
	}
}

type scored struct {
	name  string
	score float64
}

func suggest(target string, entries []caed.CatalogEntry) []string {
	var candidates []scored
	for _, e := range entries {
		score := matchr.JaroWinkler(target, strings.ToUpper(e.Name), false)
		if score >= suggestionThreshold {
			candidates = append(candidates, scored{name: e.Name, score: score})
		}
	}
	slices.SortStableFunc(candidates, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	out := make([]string, len(candidates))
	for i, s := range candidates {
		out[i] = s.name
	}
	return out
}

// Columns is the result of a column lookup. Err is set when the lookup
// failed, Orders is then empty but callers can tell it apart from a form
// without fields.
type Columns struct {
	Orders []int
	Err    error
}

func (c Columns) Degraded() bool {
	return c.Err != nil
}

// FetchColumns lists the order of every field of an administrative data
// form. Failures are soft, they are reported and returned in Columns.Err.
func (c Catalog) FetchColumns(ctx context.Context, subprogram, code string) Columns {
	fields, err := c.source.FormFields(ctx, subprogram, code, DefaultLayoutCode)
	if err != nil {
		c.tel.ReportWarning(report_catalog_columns, err, code)
		return Columns{Err: err}
	}
	orders := make([]int, len(fields))
	for i, f := range fields {
		orders[i] = f.Order
	}
	return Columns{Orders: orders}
}

// Field is the metadata of a form field used to build a filter.
type Field struct {
	Order int
	Size  int
	Type  string
}

// ResolveField looks up a field by its exact name.
func (c Catalog) ResolveField(ctx context.Context, subprogram, code, name string) (Field, bool) {
	fields, err := c.source.FormFields(ctx, subprogram, code, LayoutCode(code))
	if err != nil {
		c.tel.ReportWarning(report_catalog_field, err, code, name)
		return Field{}, false
	}
	for _, f := range fields {
		if f.Name == name {
			return Field{Order: f.Order, Size: f.Size, Type: f.Type}, true
		}
	}
	c.tel.ReportWarning(report_catalog_field, fmt.Errorf("field %s not found", name), code)
	return Field{}, false
}

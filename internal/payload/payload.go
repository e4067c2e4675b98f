// Package payload builds the export request document sent to the
// repository.
package payload

import (
	"errors"
	"fmt"
	"strings"

	"caedrepo/internal/forms"
)

// Separator joins the values of an "in" filter.
const Separator = "§"

// ValueDelimiter splits a single string into the values of an "in" filter.
const ValueDelimiter = "|||"

const (
	OperatorIn    = "in"
	OperatorEqual = "="
)

type Kind struct {
	Id   int `json:"id"`
	Code int `json:"codigo"`
}

type DataSource struct {
	Code    string `json:"codigo"`
	Active  bool   `json:"ativo"`
	Kind    Kind   `json:"fonteDadoTipo"`
	Default any    `json:"fonteDadoPadrao"`
}

type Program struct {
	Code              string     `json:"codigo"`
	Active            bool       `json:"ativo"`
	Kind              Kind       `json:"programaTipo"`
	Source            DataSource `json:"fonteDado"`
	SpecificationFile *string    `json:"nomeArquivoEspecificacao"`
	ShortName         *string    `json:"nomeReduzido"`
}

type Group struct {
	Id          int    `json:"id"`
	Description string `json:"descricao"`
	Active      bool   `json:"ativo"`
}

type User struct {
	Id    string `json:"id"`
	Group Group  `json:"grupoSelecionado"`
}

// Filter is a clause of filtrosAvancados. Column holds the field order when
// the field was resolved and the requested column name otherwise, Size and
// Type are then empty strings.
type Filter struct {
	Operator string `json:"operador"`
	Column   any    `json:"coluna"`
	Size     any    `json:"tamanho"`
	Type     string `json:"tipoCampo"`
	Value    string `json:"valor1"`
}

// Document is the body of an export request.
type Document struct {
	FileNames       []string      `json:"fileNames"`
	Source          DataSource    `json:"fonte"`
	Program         Program       `json:"programa"`
	User            User          `json:"usuario"`
	Transfer        bool          `json:"transferencia"`
	AdvancedFilters []Filter      `json:"filtrosAvancados"`
	Service         forms.Service `json:"servico"`
	Form            forms.Form    `json:"formulario"`
	Layout          forms.Layout  `json:"layout"`
	Columns         []int         `json:"colunas"`
	History         bool          `json:"historico"`
}

var ErrInvalidFilterValue = errors.New("invalid filter value")

// NormalizeValue encodes a filter value for the given operator. "in" takes a
// []string, a []any or a single string delimited by "|||" and joins the
// values with §, every other operator sends the value's string form.
func NormalizeValue(operator string, value any) (string, error) {
	if operator != OperatorIn {
		switch v := value.(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		}
		return fmt.Sprint(value), nil
	}

	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return strings.Join(strings.Split(v, ValueDelimiter), Separator), nil
	case []string:
		return strings.Join(v, Separator), nil
	case []any:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, Separator), nil
	}
	return "", fmt.Errorf("%w: %T for operator %q", ErrInvalidFilterValue, value, operator)
}

// FilterSpec is a filter clause before it is encoded.
type FilterSpec struct {
	Operator string
	// Column is the field name as requested by the caller.
	Column string
	Value  any
	// Field is the resolved metadata of Column, nil when the lookup failed.
	Field *forms.Field
}

// Input holds everything a document is built from.
type Input struct {
	UserId     string
	FormCode   string
	Columns    []int
	Subprogram string
	Source     string
	Filter     *FilterSpec
}

func dataSource(code string) DataSource {
	return DataSource{
		Code:   code,
		Active: true,
		Kind:   Kind{Id: 2, Code: 2},
	}
}

// Build assembles the export request document. Forms of the fixed table
// always use their own metadata and column range, every other code is
// exported as administrative data with the given columns.
func Build(in Input) (Document, error) {
	src := dataSource(in.Source)
	doc := Document{
		Source: src,
		Program: Program{
			Code:   in.Subprogram,
			Active: true,
			Kind:   Kind{Id: 2, Code: 2},
			Source: src,
		},
		User: User{
			Id:    in.UserId,
			Group: Group{Id: 1, Description: "ADM", Active: true},
		},
		AdvancedFilters: []Filter{},
	}

	if in.Filter != nil && in.Filter.Operator != "" {
		filter, err := encodeFilter(*in.Filter)
		if err != nil {
			return Document{}, err
		}
		doc.AdvancedFilters = []Filter{filter}
	}

	if d, ok := forms.Known(in.FormCode); ok {
		doc.FileNames = d.FileNames
		doc.Service = d.Service
		doc.Form = d.Form()
		doc.Layout = d.Layout
		doc.Columns = d.Columns
		return doc, nil
	}

	doc.FileNames = []string{""}
	doc.Service = forms.AdministrativeService
	doc.Form = forms.Form{Code: in.FormCode}
	doc.Layout = forms.AdministrativeLayout
	doc.Columns = append([]int{}, in.Columns...)
	return doc, nil
}

func encodeFilter(spec FilterSpec) (Filter, error) {
	value, err := NormalizeValue(spec.Operator, spec.Value)
	if err != nil {
		return Filter{}, err
	}
	filter := Filter{
		Operator: spec.Operator,
		Column:   spec.Column,
		Size:     "",
		Value:    value,
	}
	if spec.Field != nil {
		filter.Column = spec.Field.Order
		filter.Size = spec.Field.Size
		filter.Type = spec.Field.Type
	}
	return filter, nil
}

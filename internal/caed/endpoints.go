package caed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexInt accepts both json numbers and numeric strings, the gateway is not
// consistent about field sizes.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// FormField is one column of a form's layout.
type FormField struct {
	Order int
	Name  string
	Size  int
	Type  string
}

type formFieldsResponse struct {
	Fields []struct {
		Order flexInt `json:"ordem"`
		Name  string  `json:"nomeCampo"`
		Size  flexInt `json:"tamanho"`
		Type  string  `json:"tipo"`
	} `json:"camposFormularios"`
}

// FormFields lists the fields of a form in the order the server returns
// them.
func (c *Client) FormFields(ctx context.Context, subprogram, formCode, layoutCode string) ([]FormField, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	res, err := req.
		SetPathParams(map[string]string{
			"subprograma": subprogram,
			"form":        formCode,
			"layout":      layoutCode,
		}).
		Get("/formulario/formulario/download/campos-formulario/{subprograma}/{form}/{layout}")
	if err != nil {
		c.tel.ReportBroken(report_client_form_fields, fmt.Errorf("fetch: %w", err), formCode)
		return nil, fmt.Errorf("form fields: %w", err)
	}
	if !res.IsSuccess() {
		return nil, &RequestError{
			Endpoint: "form fields",
			Status:   res.StatusCode(),
			Body:     string(res.Body()),
		}
	}

	var parsed formFieldsResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		c.tel.ReportBroken(report_client_form_fields, fmt.Errorf("unmarshal json: %w", err), formCode)
		return nil, fmt.Errorf("form fields: %w", err)
	}

	fields := make([]FormField, len(parsed.Fields))
	for i, f := range parsed.Fields {
		fields[i] = FormField{
			Order: int(f.Order),
			Name:  f.Name,
			Size:  int(f.Size),
			Type:  f.Type,
		}
	}
	return fields, nil
}

// CatalogEntry is a form registered for a subprogram.
type CatalogEntry struct {
	Code string `json:"codigo"`
	Name string `json:"nome"`
}

// Catalog lists the administrative data forms visible to the profile's user
// in a subprogram.
func (c *Client) Catalog(ctx context.Context, subprogram string) ([]CatalogEntry, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	res, err := req.
		SetPathParams(map[string]string{
			"subprograma": subprogram,
			"user":        c.profile.UserId,
		}).
		Get("/formulario/formulario/download/formularios/{subprograma}/AD/{user}")
	if err != nil {
		c.tel.ReportBroken(report_client_catalog, fmt.Errorf("fetch: %w", err), subprogram)
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if !res.IsSuccess() {
		return nil, &RequestError{
			Endpoint: "catalog",
			Status:   res.StatusCode(),
			Body:     string(res.Body()),
		}
	}

	entries, err := parseCatalog(res.Body())
	if err != nil {
		c.tel.ReportBroken(report_client_catalog, fmt.Errorf("unmarshal json: %w", err), subprogram)
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return entries, nil
}

// parseCatalog accepts both a bare list and {"formularios": [...]}.
func parseCatalog(body []byte) ([]CatalogEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []CatalogEntry
		err := json.Unmarshal(trimmed, &entries)
		return entries, err
	}
	var wrapped struct {
		Forms []CatalogEntry `json:"formularios"`
	}
	err := json.Unmarshal(trimmed, &wrapped)
	return wrapped.Forms, err
}

// ExportReceipt is the server's acknowledgement of an export request.
type ExportReceipt struct {
	FileName string
}

// RequestExport submits an export request document. A rejection carries
// the server's error message when it sends one.
func (c *Client) RequestExport(ctx context.Context, doc any) (ExportReceipt, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return ExportReceipt{}, err
	}
	res, err := req.
		SetBody(doc).
		Post("/repositorio/download/solicitarExportacao")
	if err != nil {
		c.tel.ReportBroken(report_client_request, fmt.Errorf("fetch: %w", err))
		return ExportReceipt{}, fmt.Errorf("request export: %w", err)
	}
	if !res.IsSuccess() {
		subErr := &SubmissionError{
			Status:  res.StatusCode(),
			Message: serverMessage(res.Body()),
		}
		c.tel.ReportWarning(report_client_request, subErr)
		return ExportReceipt{}, subErr
	}

	var parsed struct {
		FileName string `json:"nomeArquivo"`
	}
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		c.tel.ReportBroken(report_client_request, fmt.Errorf("unmarshal json: %w", err))
		return ExportReceipt{}, fmt.Errorf("request export: %w: nomeArquivo", ErrMissingField)
	}
	if parsed.FileName == "" {
		return ExportReceipt{}, fmt.Errorf("request export: %w: nomeArquivo", ErrMissingField)
	}
	return ExportReceipt{FileName: parsed.FileName}, nil
}

// serverMessage is the error reported in a json body, the raw body
// otherwise.
func serverMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return string(body)
}

// HistoryTotal returns the number of history items since date (YYYY-MM-DD).
func (c *Client) HistoryTotal(ctx context.Context, date string) (int, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return 0, err
	}
	res, err := req.
		SetQueryParams(map[string]string{
			"idGrupo":      "1",
			"ultimaSemana": date,
		}).
		Get("/repositorio/historico/totalItems")
	if err != nil {
		c.tel.ReportBroken(report_client_history_total, fmt.Errorf("fetch: %w", err))
		return 0, &HistoryQueryError{Endpoint: "totalItems", Err: err}
	}
	if !res.IsSuccess() {
		return 0, &HistoryQueryError{Endpoint: "totalItems", Status: res.StatusCode()}
	}
	total, err := strconv.Atoi(strings.TrimSpace(res.String()))
	if err != nil {
		c.tel.ReportBroken(report_client_history_total, fmt.Errorf("parse total: %w", err))
		return 0, &HistoryQueryError{Endpoint: "totalItems", Status: res.StatusCode(), Err: err}
	}
	return total, nil
}

// HistoryEntry is one past or in-progress export job.
type HistoryEntry struct {
	FileName string `json:"nomeArquivo"`
	Status   string `json:"tpStatus"`
}

// StatusReady marks a history entry whose file can be downloaded.
const StatusReady = "S"

func (e HistoryEntry) Ready() bool {
	return e.Status == StatusReady
}

// HistoryPage returns the 10 most recent history entries since date.
func (c *Client) HistoryPage(ctx context.Context, date string, total int) ([]HistoryEntry, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	res, err := req.
		SetQueryParams(map[string]string{
			"idGrupo":      "1",
			"ultimaSemana": date,
			"totalItems":   strconv.Itoa(total),
			"page":         "0",
			"size":         "10",
			"sort":         "id,desc",
		}).
		Get("/repositorio/historico")
	if err != nil {
		c.tel.ReportBroken(report_client_history_page, fmt.Errorf("fetch: %w", err))
		return nil, &HistoryQueryError{Endpoint: "historico", Err: err}
	}
	if !res.IsSuccess() {
		return nil, &HistoryQueryError{Endpoint: "historico", Status: res.StatusCode()}
	}

	var parsed struct {
		Content []HistoryEntry `json:"content"`
	}
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		c.tel.ReportBroken(report_client_history_page, fmt.Errorf("unmarshal json: %w", err))
		return nil, &HistoryQueryError{Endpoint: "historico", Status: res.StatusCode(), Err: err}
	}
	return parsed.Content, nil
}

// Download fetches the zip archive of a finished export.
func (c *Client) Download(ctx context.Context, fileName string) ([]byte, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	res, err := req.
		SetPathParam("arquivo", fileName).
		Get("/repositorio/download/arquivo/{arquivo}")
	if err != nil {
		c.tel.ReportBroken(report_client_download, fmt.Errorf("fetch: %w", err), fileName)
		return nil, fmt.Errorf("download %s: %w", fileName, err)
	}
	if !res.IsSuccess() {
		dlErr := &DownloadError{
			FileName: fileName,
			Status:   res.StatusCode(),
			Body:     string(res.Body()),
		}
		c.tel.ReportWarning(report_client_download, dlErr)
		return nil, dlErr
	}
	return res.Body(), nil
}

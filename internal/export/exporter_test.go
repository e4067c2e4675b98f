package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"caedrepo/internal/caed"
	"caedrepo/internal/components/chrono"
	"caedrepo/internal/components/telemetry/telemetrytest"
	"caedrepo/internal/environment"
	"caedrepo/internal/forms"
	"caedrepo/internal/ledger"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

func makeZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// gateway is a fake repository, each handler may be replaced by a test.
type gateway struct {
	t *testing.T

	mu       sync.Mutex
	calls    map[string]int
	requests []map[string]any

	catalog  string
	fields   string
	fileName string
	history  func(call int) string
	archive  []byte
	// downloadable is the only file name the download endpoint serves.
	downloadable string

	loginStatus    int
	totalStatus    int
	downloadStatus int
}

func newGateway(t *testing.T) *gateway {
	csv := []byte("CD_ESCOLA;NM_ESCOLA\n1;Escola A\n")
	return &gateway{
		t:        t,
		calls:    map[string]int{},
		catalog:  `[{"codigo":"L100","nome":"FORM_TURMA_2024"},{"codigo":"L999","nome":"FORM_ESCOLA_2024"}]`,
		fields:   `{"camposFormularios":[{"ordem":1,"nomeCampo":"CD_ESCOLA","tamanho":10,"tipo":"N"},{"ordem":2,"nomeCampo":"NM_ESCOLA","tamanho":100,"tipo":"A"},{"ordem":3,"nomeCampo":"CD_REDE","tamanho":2,"tipo":"N"}]}`,
		fileName: "X_20240101_001",
		history: func(int) string {
			return `{"content":[{"nomeArquivo":"X_20240101_001","tpStatus":"S"}]}`
		},
		archive:      makeZip(t, map[string][]byte{"X_20240101_001.csv": csv}),
		downloadable: "X_20240101_001",
	}
}

func (g *gateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[name]++
	return g.calls[name]
}

func (g *gateway) Calls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *gateway) LastRequest() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

func (g *gateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/auth/login", func(w http.ResponseWriter, r *http.Request) {
		g.count("login")
		if g.loginStatus != 0 {
			w.WriteHeader(g.loginStatus)
			fmt.Fprint(w, "usuário ou senha inválidos")
			return
		}
		fmt.Fprint(w, `{"token":"T1"}`)
	})
	mux.HandleFunc("GET /formulario/formulario/download/formularios/{sub}/AD/{user}", func(w http.ResponseWriter, r *http.Request) {
		g.count("catalog")
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, g.catalog)
	})
	mux.HandleFunc("GET /formulario/formulario/download/campos-formulario/{sub}/{form}/{layout}", func(w http.ResponseWriter, r *http.Request) {
		g.count("fields")
		g.count("fields:" + r.PathValue("layout"))
		fmt.Fprint(w, g.fields)
	})
	mux.HandleFunc("POST /repositorio/download/solicitarExportacao", func(w http.ResponseWriter, r *http.Request) {
		g.count("submit")
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.requests = append(g.requests, body)
		g.mu.Unlock()
		fmt.Fprintf(w, `{"nomeArquivo":%q}`, g.fileName)
	})
	mux.HandleFunc("GET /repositorio/historico/totalItems", func(w http.ResponseWriter, r *http.Request) {
		g.count("total")
		if g.totalStatus != 0 {
			w.WriteHeader(g.totalStatus)
			return
		}
		fmt.Fprint(w, "5")
	})
	mux.HandleFunc("GET /repositorio/historico", func(w http.ResponseWriter, r *http.Request) {
		call := g.count("history")
		if r.URL.Query().Get("totalItems") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, g.history(call))
	})
	mux.HandleFunc("GET /repositorio/download/arquivo/{name}", func(w http.ResponseWriter, r *http.Request) {
		g.count("download")
		if g.downloadStatus != 0 {
			w.WriteHeader(g.downloadStatus)
			fmt.Fprint(w, "arquivo indisponível")
			return
		}
		if r.PathValue("name") != g.downloadable {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(g.archive)
	})
	return mux
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (f *fakeRecorder) Record(ctx context.Context, e ledger.Entry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

type harness struct {
	exporter Exporter
	gateway  *gateway
	clock    *chrono.Fake
	recorder *fakeRecorder
	tel      *telemetrytest.Recorder
	states   *[]State
}

func setup(t *testing.T, g *gateway, opts ...Option) harness {
	t.Helper()
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)

	tel := &telemetrytest.Recorder{}
	client, err := caed.NewClient(environment.Profile{
		Name:     environment.Central,
		BaseUrl:  srv.URL,
		Username: "robo",
		Password: "secret",
		UserId:   "42",
	}, caed.WithTelemetry(tel), caed.WithRateLimit(0))
	require.NoError(t, err)

	clock := chrono.NewFake(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))
	recorder := &fakeRecorder{}
	var states []State
	var mu sync.Mutex

	opts = append([]Option{
		WithTelemetry(tel),
		WithClock(clock),
		WithRecorder(recorder),
		WithStateObserver(func(s State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}),
	}, opts...)
	exporter, err := NewExporter(client, forms.NewCatalog(client, tel), opts...)
	require.NoError(t, err)

	return harness{
		exporter: exporter,
		gateway:  g,
		clock:    clock,
		recorder: recorder,
		tel:      tel,
		states:   &states,
	}
}

func TestExportEndToEnd(t *testing.T) {
	g := newGateway(t)
	h := setup(t, g)
	dest := filepath.Join(t.TempDir(), "saida")

	res, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: dest,
	})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dest, "X_20240101_001_ESCOLA.csv"), res.Path)
	require.True(t, strings.HasSuffix(res.Path, "_ESCOLA.csv"))
	require.Equal(t, filepath.Join(dest, "X_20240101_001_ESCOLA.zip"), res.ZipPath)
	require.Equal(t, "L999", res.FormCode)
	require.Equal(t, "FORM_ESCOLA_2024", res.Label)

	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "CD_ESCOLA;NM_ESCOLA\n1;Escola A\n", string(content))
	_, err = os.Stat(filepath.Join(dest, "X_20240101_001.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)

	body := g.LastRequest()
	require.Equal(t, []any{1.0, 2.0, 3.0}, body["colunas"])
	require.Equal(t, map[string]any{"codigo": "L999"}, body["formulario"])
	require.Equal(t, 13.0, body["servico"].(map[string]any)["id"])
	require.Equal(t, "055", body["layout"].(map[string]any)["codigo"])
	require.Equal(t, []any{}, body["filtrosAvancados"])
	require.Equal(t, "42", body["usuario"].(map[string]any)["id"])

	require.Equal(t, 1, g.Calls("login"))
	require.Equal(t, 1, g.Calls("history"))
	require.Equal(t, 1, g.Calls("download"))
	require.Empty(t, h.clock.Waits())

	require.Equal(t, []State{
		StateIdle,
		StateAuthenticated,
		StateFormResolved,
		StatePayloadBuilt,
		StateSubmitted,
		StatePolling,
		StateAvailable,
		StateDownloaded,
		StateExtracted,
		StateDone,
	}, *h.states)

	require.Len(t, h.recorder.entries, 1)
	entry := h.recorder.entries[0]
	require.Equal(t, ledger.StatusDone, entry.Status)
	require.Equal(t, res.Path, entry.Path)
	require.Equal(t, "central", entry.Environment)
}

func TestExportRoundTripBytes(t *testing.T) {
	g := newGateway(t)
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	g.archive = makeZip(t, map[string][]byte{"X_20240101_001.csv": payload})
	h := setup(t, g)

	res, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.NoError(t, err)

	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, content))
}

func TestExportCatalogMiss(t *testing.T) {
	g := newGateway(t)
	g.catalog = `{"formularios":[{"codigo":"L100","nome":"FORM_TURMA_2024"}]}`
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.ErrorIs(t, err, forms.ErrFormNotFound)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StateFormResolved, stepErr.Step)

	require.Equal(t, 1, g.Calls("catalog"))
	require.Zero(t, g.Calls("fields"))
	require.Zero(t, g.Calls("submit"))
	require.Zero(t, g.Calls("total"))
	require.Zero(t, g.Calls("history"))
	require.Zero(t, g.Calls("download"))

	require.Equal(t, StateFailed, (*h.states)[len(*h.states)-1])
	require.Equal(t, ledger.StatusNotFound, h.recorder.entries[0].Status)
}

func TestExportPollTimeout(t *testing.T) {
	g := newGateway(t)
	g.history = func(int) string {
		// same prefix but not ready, must never be picked up
		return `{"content":[{"nomeArquivo":"X_20240101_001","tpStatus":"P"},{"nomeArquivo":"Y_20240101_002","tpStatus":"S"}]}`
	}
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	var timeout *PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, DefaultPollBudget, timeout.Budget)
	require.Equal(t, "X_20240101", timeout.Prefix)
	require.Contains(t, err.Error(), "time limit")
	require.Contains(t, err.Error(), "never became available")

	require.Zero(t, g.Calls("download"))
	require.Equal(t, 120, g.Calls("history"))
	waits := h.clock.Waits()
	require.Len(t, waits, 120)
	for _, w := range waits {
		require.Equal(t, DefaultPollInterval, w)
	}
	require.Equal(t, ledger.StatusTimeout, h.recorder.entries[0].Status)
}

func TestExportStopsPollingWhenReady(t *testing.T) {
	g := newGateway(t)
	g.history = func(call int) string {
		if call < 3 {
			return `{"content":[{"nomeArquivo":"X_20240101_001","tpStatus":"P"}]}`
		}
		return `{"content":[{"nomeArquivo":"X_20240101_001","tpStatus":"S"}]}`
	}
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, 3, g.Calls("history"))
	require.Len(t, h.clock.Waits(), 2)
}

func TestExportHistoryPageFailureKeepsPolling(t *testing.T) {
	g := newGateway(t)
	g.history = func(call int) string {
		if call == 1 {
			return `not json`
		}
		return `{"content":[{"nomeArquivo":"X_20240101_001","tpStatus":"S"}]}`
	}
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, g.Calls("history"))
	require.True(t, h.tel.Has("warning", report_exporter_poll))
}

func TestExportKnownForm(t *testing.T) {
	g := newGateway(t)
	h := setup(t, g)

	res, err := h.exporter.Run(context.Background(), Request{
		Form:        "L009",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(res.Path, "X_20240101_001_L009.csv"))
	require.Zero(t, g.Calls("catalog"))
	require.Zero(t, g.Calls("fields"))

	body := g.LastRequest()
	require.Len(t, body["colunas"], 97)
	require.Equal(t, 3.0, body["servico"].(map[string]any)["id"])
	require.Equal(t, []any{"", ""}, body["fileNames"])
}

func TestExportUsersForm(t *testing.T) {
	g := newGateway(t)
	h := setup(t, g)

	res, err := h.exporter.Run(context.Background(), Request{
		Form:        "USUARIO",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(res.Path, "X_20240101_001_USUARIO.csv"))
	require.Equal(t, "L185", res.FormCode)
	require.Equal(t, 185.0, g.LastRequest()["layout"].(map[string]any)["codigo"])
}

func TestExportWithFilter(t *testing.T) {
	g := newGateway(t)
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
		Filter: &Filter{
			Column:   "CD_REDE",
			Operator: "in",
			Value:    "1|||2|||3",
		},
	})
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{
		"operador":  "in",
		"coluna":    3.0,
		"tamanho":   2.0,
		"tipoCampo": "N",
		"valor1":    "1§2§3",
	}}, g.LastRequest()["filtrosAvancados"])
	// one lookup for the columns, one for the filter field
	require.Equal(t, 2, g.Calls("fields:055"))
}

func TestExportArchiveWithoutExpectedCsv(t *testing.T) {
	g := newGateway(t)
	g.archive = makeZip(t, map[string][]byte{
		"other.csv":     []byte("x"),
		"sub/extra.csv": []byte("y"),
	})
	h := setup(t, g)
	dest := t.TempDir()

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: dest,
	})
	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StateExtracted, stepErr.Step)

	require.NoFileExists(t, filepath.Join(dest, "X_20240101_001_ESCOLA.zip"))
	require.NoFileExists(t, filepath.Join(dest, "other.csv"))
	require.NoFileExists(t, filepath.Join(dest, "sub", "extra.csv"))
}

func TestExportCorruptArchive(t *testing.T) {
	g := newGateway(t)
	g.archive = []byte("definitely not a zip")
	h := setup(t, g)
	dest := t.TempDir()

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: dest,
	})
	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	require.NoFileExists(t, filepath.Join(dest, "X_20240101_001_ESCOLA.zip"))
}

func TestExportSubmissionRejected(t *testing.T) {
	g := newGateway(t)
	g.fileName = ""
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.ErrorIs(t, err, caed.ErrMissingField)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StateSubmitted, stepErr.Step)
	require.Zero(t, g.Calls("total"))
}

func TestExportCancelledWhilePolling(t *testing.T) {
	g := newGateway(t)
	g.history = func(int) string {
		return `{"content":[]}`
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := setup(t, g, WithStateObserver(func(s State) {
		if s == StatePolling {
			cancel()
		}
	}))

	_, err := h.exporter.Run(ctx, Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Zero(t, g.Calls("history"))
	require.Zero(t, g.Calls("download"))
	require.Equal(t, ledger.StatusFailed, h.recorder.entries[0].Status)
}

func TestExportDropsZipWhenAsked(t *testing.T) {
	g := newGateway(t)
	h := setup(t, g, WithKeepZip(false))
	dest := t.TempDir()

	res, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: dest,
	})
	require.NoError(t, err)
	require.Empty(t, res.ZipPath)
	_, err = os.Stat(filepath.Join(dest, "X_20240101_001_ESCOLA.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportAuthenticationFailure(t *testing.T) {
	g := newGateway(t)
	g.loginStatus = http.StatusUnauthorized
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	var authErr *caed.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Equal(t, "usuário ou senha inválidos", authErr.Body)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StateAuthenticated, stepErr.Step)

	require.Equal(t, 1, g.Calls("login"))
	require.Zero(t, g.Calls("catalog"))
	require.Zero(t, g.Calls("submit"))
	require.Equal(t, []State{StateIdle, StateFailed}, *h.states)
	require.Equal(t, ledger.StatusFailed, h.recorder.entries[0].Status)
}

func TestExportHistoryCountFailure(t *testing.T) {
	g := newGateway(t)
	g.totalStatus = http.StatusInternalServerError
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
	})
	var historyErr *caed.HistoryQueryError
	require.ErrorAs(t, err, &historyErr)
	require.Equal(t, http.StatusInternalServerError, historyErr.Status)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StatePolling, stepErr.Step)

	require.Equal(t, 1, g.Calls("submit"))
	require.Equal(t, 1, g.Calls("total"))
	require.Zero(t, g.Calls("history"))
	require.Zero(t, g.Calls("download"))
}

func TestExportDownloadFailure(t *testing.T) {
	g := newGateway(t)
	g.downloadStatus = http.StatusInternalServerError
	h := setup(t, g)
	dest := filepath.Join(t.TempDir(), "saida")

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: dest,
	})
	var dlErr *caed.DownloadError
	require.ErrorAs(t, err, &dlErr)
	require.Equal(t, http.StatusInternalServerError, dlErr.Status)
	require.Equal(t, "X_20240101_001", dlErr.FileName)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, StateDownloaded, stepErr.Step)

	require.Equal(t, 1, g.Calls("download"))
	require.NoDirExists(t, dest)
}

func TestExportUnresolvedFilterColumn(t *testing.T) {
	g := newGateway(t)
	h := setup(t, g)

	_, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: t.TempDir(),
		Filter: &Filter{
			Column:   "CD_INEXISTENTE",
			Operator: "=",
			Value:    "5",
		},
	})
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{
		"operador":  "=",
		"coluna":    "CD_INEXISTENTE",
		"tamanho":   "",
		"tipoCampo": "",
		"valor1":    "5",
	}}, g.LastRequest()["filtrosAvancados"])
	require.True(t, h.tel.Has("warning", "catalog.resolve-field"))
}

func TestExportIgnoresOtherReadyJobs(t *testing.T) {
	g := newGateway(t)
	g.fileName = "EXPORTACAO"
	g.downloadable = "EXPORTACAO"
	g.archive = makeZip(t, map[string][]byte{"EXPORTACAO.csv": []byte("a;b\n")})
	g.history = func(call int) string {
		if call == 1 {
			return `{"content":[{"nomeArquivo":"OTHER_JOB_1","tpStatus":"S"},{"nomeArquivo":"EXPORTACAO","tpStatus":"P"}]}`
		}
		return `{"content":[{"nomeArquivo":"OTHER_JOB_1","tpStatus":"S"},{"nomeArquivo":"EXPORTACAO","tpStatus":"S"}]}`
	}
	h := setup(t, g)
	dest := t.TempDir()

	res, err := h.exporter.Run(context.Background(), Request{
		Form:        "ESCOLA",
		Subprogram:  "2024",
		Source:      "77",
		Destination: dest,
	})
	require.NoError(t, err)
	require.Equal(t, "EXPORTACAO", res.FileName)
	require.Equal(t, filepath.Join(dest, "EXPORTACAO_ESCOLA.csv"), res.Path)
	require.Equal(t, 2, g.Calls("history"))
	require.Equal(t, 1, g.Calls("download"))
}

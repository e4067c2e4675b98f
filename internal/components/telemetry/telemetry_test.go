package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"caedrepo/internal/components/telemetry/telemetrytest"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &telemetrytest.Recorder{}
	scoped := NewScopedAPI("caed_client", rec)

	scoped.ReportBroken("client.login", errors.New("boom"))
	scoped.ReportWarning("client.catalog")
	scoped.ReportCount("poll.attempts", 3)

	require.True(t, rec.Has("broken", "client.login"))
	require.Equal(t, "caed_client: client.login", rec.Reports("broken")[0].Id)
	require.Equal(t, "caed_client: client.catalog", rec.Reports("warning")[0].Id)
	require.Equal(t, []any{int64(3)}, rec.Reports("count")[0].Params)
	require.Len(t, rec.Reports(""), 3)
}

func TestInstrumentResty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	rec := &telemetrytest.Recorder{}
	client := resty.New().SetBaseURL(srv.URL)
	InstrumentResty(client, rec)

	res, err := client.R().Get("/anything")
	require.NoError(t, err)
	require.Equal(t, http.StatusTeapot, res.StatusCode())

	require.True(t, rec.Has("debug", report_resty_request))
	require.True(t, rec.Has("debug", report_resty_response))
	require.False(t, rec.Has("broken", report_resty_error))
}

func TestInstrumentRestyCancelledIsNotBroken(t *testing.T) {
	rec := &telemetrytest.Recorder{}
	client := resty.New().SetBaseURL("http://127.0.0.1:1")
	InstrumentResty(client, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.R().SetContext(ctx).Get("/")
	require.Error(t, err)
	require.False(t, rec.Has("broken", report_resty_error))
}

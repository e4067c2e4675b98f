// Package caed talks to the CAED repository gateway: login, form catalog,
// export requests, export history and file download.
package caed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"sync"
	"time"

	"caedrepo/internal/components/assert"
	"caedrepo/internal/components/telemetry"
	"caedrepo/internal/environment"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	report_client_login         = "client.login"
	report_client_form_fields   = "client.form-fields"
	report_client_catalog       = "client.catalog"
	report_client_request       = "client.request-export"
	report_client_history_total = "client.history-total"
	report_client_history_page  = "client.history-page"
	report_client_download      = "client.download"
)

// Client is a session against one deployment. The bearer token is fetched
// on first use and shared by every call made through the same Client, it is
// safe for concurrent use.
type Client struct {
	http    *resty.Client
	profile environment.Profile
	tel     telemetry.API

	mu    sync.Mutex
	token string
}

type clientConfig struct {
	tel              telemetry.API
	timeout          time.Duration
	requestsPerSec   float64
	cloudflareBypass bool
}

type ClientOption func(cfg *clientConfig)

func WithTelemetry(tel telemetry.API) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tel = tel
	}
}

// WithTimeout bounds each HTTP request, downloads included.
func WithTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithRateLimit caps the requests per second sent to the gateway, 0 disables
// the limit.
func WithRateLimit(perSecond float64) ClientOption {
	return func(cfg *clientConfig) {
		cfg.requestsPerSec = perSecond
	}
}

// WithCloudflareBypass wraps the transport so requests look like a browser,
// some public gateway deployments sit behind cloudflare.
func WithCloudflareBypass(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.cloudflareBypass = enabled
	}
}

func NewClient(profile environment.Profile, opts ...ClientOption) (*Client, error) {
	assert.NotEmptyStr(profile.BaseUrl, "profile.BaseUrl")

	cfg := clientConfig{
		tel:            telemetry.SlogAPI{},
		timeout:        5 * time.Minute,
		requestsPerSec: 4,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	tel := telemetry.NewScopedAPI("caed_client", cfg.tel)

	httpClient := resty.New()
	httpClient.SetBaseURL(profile.BaseUrl)
	httpClient.SetTimeout(cfg.timeout)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if cfg.cloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	if cfg.requestsPerSec > 0 {
		// burst >= 1 just means that no requests will be dropped
		rateLimiter := rate.NewLimiter(rate.Limit(cfg.requestsPerSec), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		http:    httpClient,
		profile: profile,
		tel:     tel,
	}, nil
}

// Profile returns the profile the client was created with.
func (c *Client) Profile() environment.Profile {
	return c.profile
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Authenticate always performs a login and returns a fresh token, it does
// not touch the cached token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(loginRequest{
			Username: c.profile.Username,
			Password: c.profile.Password,
		}).
		Post("/login/auth/login")
	if err != nil {
		c.tel.ReportBroken(report_client_login, fmt.Errorf("fetch: %w", err))
		return "", fmt.Errorf("login: %w", err)
	}
	if !res.IsSuccess() {
		authErr := &AuthenticationError{
			Status: res.StatusCode(),
			Body:   string(res.Body()),
		}
		c.tel.ReportWarning(report_client_login, authErr)
		return "", authErr
	}

	var parsed loginResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		c.tel.ReportBroken(report_client_login, fmt.Errorf("unmarshal json: %w", err))
		return "", fmt.Errorf("login: %w", err)
	}
	if parsed.Token == "" {
		err = fmt.Errorf("login: %w: token", ErrMissingField)
		c.tel.ReportBroken(report_client_login, err)
		return "", err
	}
	return parsed.Token, nil
}

// Token returns the cached token, authenticating first when there is none.
// There is no expiry tracking, see ResetToken.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// ResetToken drops the cached token so the next call logs in again.
func (c *Client) ResetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Client) authed(ctx context.Context) (*resty.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json"), nil
}

package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"caedrepo/internal/caed"
	"caedrepo/internal/components/configutil"
	"caedrepo/internal/components/telemetry"
	"caedrepo/internal/environment"
	"caedrepo/internal/ledger"
	"caedrepo/internal/notify"
)

const defaultConfigFile = "caedrepo.json5"

type ClientConfig struct {
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
}

type ExportConfig struct {
	PollBudgetSeconds   int    `json:"poll_budget_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	Destination         string `json:"destination"`
	DropZip             bool   `json:"drop_zip"`
}

type Config struct {
	Repository environment.Config `json:"repository"`
	Client     ClientConfig       `json:"client"`
	Export     ExportConfig       `json:"export"`
	Ledger     ledger.Config      `json:"ledger"`
	Smtp       notify.SmtpConfig  `json:"smtp"`
}

func loadConfig() (Config, error) {
	path := configPath
	if path == "" {
		path = defaultConfigFile
	}
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		if configPath != "" {
			return Config{}, fmt.Errorf("config %s: %w", configPath, err)
		}
		return Config{}, nil
	}
	return cfg, err
}

func resolveOptions() environment.ResolveOptions {
	return environment.ResolveOptions{
		Name:       envName,
		DotEnvPath: dotenvPath,
	}
}

type session struct {
	cfg     Config
	profile environment.Profile
	client  *caed.Client
}

func openSession() (session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return session{}, err
	}
	profile, err := environment.Resolve(cfg.Repository, resolveOptions())
	if err != nil {
		return session{}, err
	}

	opts := []caed.ClientOption{
		caed.WithTelemetry(telemetry.SlogAPI{}),
		caed.WithCloudflareBypass(cfg.Client.CloudflareBypass),
	}
	if cfg.Client.TimeoutSeconds > 0 {
		opts = append(opts, caed.WithTimeout(time.Duration(cfg.Client.TimeoutSeconds)*time.Second))
	}
	if cfg.Client.RequestsPerSecond > 0 {
		opts = append(opts, caed.WithRateLimit(cfg.Client.RequestsPerSecond))
	}
	client, err := caed.NewClient(profile, opts...)
	if err != nil {
		return session{}, err
	}

	return session{cfg: cfg, profile: profile, client: client}, nil
}

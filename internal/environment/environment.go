// Package environment selects one of the two CAED repository deployments
// and assembles the credentials used to talk to it.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Name identifies a deployment of the repository.
type Name int

const (
	Central Name = iota
	CPD
)

var ErrUnknownEnvironment = errors.New("unknown environment")

func ParseName(s string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "central":
		return Central, nil
	case "cpd":
		return CPD, nil
	}
	return Central, fmt.Errorf("%w: %q (use 'central' or 'cpd')", ErrUnknownEnvironment, s)
}

func (n Name) String() string {
	switch n {
	case CPD:
		return "cpd"
	default:
		return "central"
	}
}

func (n Name) envPrefix() string {
	return strings.ToUpper(n.String())
}

const (
	DefaultCentralBaseUrl = "https://repositorio.caeddigital.net/gw"
	DefaultCpdBaseUrl     = "http://10.0.10.22:41112/gw"
)

func (n Name) defaultBaseUrl() string {
	if n == CPD {
		return DefaultCpdBaseUrl
	}
	return DefaultCentralBaseUrl
}

// Profile is everything needed to authenticate against one deployment.
// It is a value type and is not modified after Resolve returns it.
type Profile struct {
	Name     Name
	BaseUrl  string
	Username string
	Password string
	UserId   string
}

var ErrIncompleteProfile = errors.New("incomplete credentials")

func (p Profile) Validate() error {
	var missing []string
	if p.UserId == "" {
		missing = append(missing, "user id")
	}
	if p.Username == "" {
		missing = append(missing, "username")
	}
	if p.Password == "" {
		missing = append(missing, "password")
	}
	if p.BaseUrl == "" {
		missing = append(missing, "base url")
	}
	if len(missing) > 0 {
		return fmt.Errorf(
			"%w for environment %s: missing %s (check the .env file)",
			ErrIncompleteProfile, p.Name, strings.Join(missing, ", "),
		)
	}
	return nil
}

// ProfileConfig is the per-environment section of the configuration file.
type ProfileConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	UserId   string `json:"user_id"`
	// Registry is an optional acesso.csv style file, its first row provides
	// the credentials when set.
	Registry string `json:"registry"`
}

type Config struct {
	Environment string        `json:"environment"`
	Central     ProfileConfig `json:"central"`
	Cpd         ProfileConfig `json:"cpd"`
}

// Section returns the configuration of one environment.
func (c Config) Section(n Name) ProfileConfig {
	if n == CPD {
		return c.Cpd
	}
	return c.Central
}

type ResolveOptions struct {
	// Name overrides the environment named by AMBIENTE and the config file.
	Name string
	// DotEnvPath defaults to ".env", a missing file is not an error.
	DotEnvPath string
	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Resolve builds the profile of the selected environment. Values are taken
// from, in increasing priority: built-in base url defaults, the config file
// section, the section's registry file, the .env file and the process
// environment.
func Resolve(cfg Config, opts ResolveOptions) (Profile, error) {
	lookup, err := newLookup(opts)
	if err != nil {
		return Profile{}, err
	}
	name, err := selectName(cfg, opts, lookup)
	if err != nil {
		return Profile{}, err
	}

	section := cfg.Section(name)
	profile := Profile{
		Name:     name,
		BaseUrl:  name.defaultBaseUrl(),
		Username: section.Username,
		Password: section.Password,
		UserId:   section.UserId,
	}
	if section.BaseUrl != "" {
		profile.BaseUrl = section.BaseUrl
	}

	if section.Registry != "" {
		creds, err := ReadRegistry(section.Registry)
		if err != nil {
			return Profile{}, err
		}
		if len(creds) == 0 {
			return Profile{}, fmt.Errorf("registry %s: %w", section.Registry, ErrEmptyRegistry)
		}
		profile.UserId = creds[0].UserId
		profile.Username = creds[0].Username
		profile.Password = creds[0].Password
	}

	prefix := name.envPrefix()
	overlay := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(prefix + "_" + key); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	overlay(&profile.UserId, "ID_USER")
	overlay(&profile.Username, "USERNAME", "USER")
	overlay(&profile.Password, "PASSWORD", "SENHA")
	overlay(&profile.BaseUrl, "BASE_URL")

	profile.BaseUrl = strings.TrimRight(profile.BaseUrl, "/")

	return profile, profile.Validate()
}

// SelectName returns the environment Resolve would pick: the explicit
// name, then AMBIENTE, then the config file.
func SelectName(cfg Config, opts ResolveOptions) (Name, error) {
	lookup, err := newLookup(opts)
	if err != nil {
		return Central, err
	}
	return selectName(cfg, opts, lookup)
}

func selectName(cfg Config, opts ResolveOptions, lookup func(string) (string, bool)) (Name, error) {
	rawName := opts.Name
	if rawName == "" {
		rawName, _ = lookup("AMBIENTE")
	}
	if rawName == "" {
		rawName = cfg.Environment
	}
	return ParseName(rawName)
}

func newLookup(opts ResolveOptions) (func(string) (string, bool), error) {
	envLookup := opts.Lookup
	if envLookup == nil {
		envLookup = os.LookupEnv
	}

	path := opts.DotEnvPath
	if path == "" {
		path = ".env"
	}
	dotenv, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		dotenv = map[string]string{}
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return func(key string) (string, bool) {
		if v, ok := envLookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

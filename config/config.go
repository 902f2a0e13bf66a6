// Package config loads the runtime options that parameterize the
// transport and synchronization engine.
//
// Loading mirrors the teacher SDK's connection-config loader; each layer
// overrides the one before it:
//  1. built-in defaults
//  2. an explicit config file (JSON or YAML, detected by extension)
//  3. a .env file plus process environment variables
//
// Recognized keys are the configuration options table in spec §6 plus the
// transport/account settings in Options (host, port, accountId, password,
// tlsInsecureSkipVerify).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RetryInterval holds the synchronization backoff bounds.
type RetryInterval struct {
	InitialSeconds int `json:"initial" yaml:"initial"`
	MaxSeconds     int `json:"max" yaml:"max"`
}

// HealthMonitorOptions configures the sampler cadence.
type HealthMonitorOptions struct {
	SamplePeriodMilliseconds int `json:"samplePeriodInMilliseconds" yaml:"samplePeriodInMilliseconds"`
}

// Options is the fully-resolved set of runtime options for one SDK instance.
type Options struct {
	// Transport / account identity.
	Host                  string `json:"host" yaml:"host"`
	Port                  int    `json:"port" yaml:"port"`
	AccountID             string `json:"accountId" yaml:"accountId"`
	Password              string `json:"password" yaml:"password"`
	TLSInsecureSkipVerify bool   `json:"tlsInsecureSkipVerify" yaml:"tlsInsecureSkipVerify"`

	// §6 configuration options table.
	Application                     string        `json:"application" yaml:"application"`
	RequestTimeoutInSeconds         int           `json:"requestTimeoutInSeconds" yaml:"requestTimeoutInSeconds"`
	ConnectTimeoutInSeconds         int           `json:"connectTimeoutInSeconds" yaml:"connectTimeoutInSeconds"`
	PacketOrderingTimeoutInSeconds  int           `json:"packetOrderingTimeoutInSeconds" yaml:"packetOrderingTimeoutInSeconds"`
	StatusTimerTimeoutMilliseconds  int           `json:"statusTimerTimeoutInMilliseconds" yaml:"statusTimerTimeoutInMilliseconds"`
	SynchronizationRetryInterval    RetryInterval `json:"synchronizationRetryIntervalInSeconds" yaml:"synchronizationRetryIntervalInSeconds"`
	HealthMonitor                   HealthMonitorOptions `json:"healthMonitor" yaml:"healthMonitor"`

	// VaultPasswordPath, if set, overrides Password by fetching a secret from
	// Vault's KV engine at load time (see LoadFromVault).
	VaultPasswordPath string `json:"-" yaml:"-"`
}

// Defaults returns the baseline Options described in spec §6.
func Defaults() Options {
	return Options{
		Port:                           443,
		Application:                    "MetaApi",
		RequestTimeoutInSeconds:        60,
		ConnectTimeoutInSeconds:        60,
		PacketOrderingTimeoutInSeconds: 60,
		StatusTimerTimeoutMilliseconds: 60000,
		SynchronizationRetryInterval:   RetryInterval{InitialSeconds: 1, MaxSeconds: 300},
		HealthMonitor:                  HealthMonitorOptions{SamplePeriodMilliseconds: 1000},
	}
}

func (o Options) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutInSeconds) * time.Second
}

func (o Options) ConnectTimeout() time.Duration {
	return time.Duration(o.ConnectTimeoutInSeconds) * time.Second
}

func (o Options) PacketOrderingTimeout() time.Duration {
	return time.Duration(o.PacketOrderingTimeoutInSeconds) * time.Second
}

func (o Options) StatusTimerTimeout() time.Duration {
	return time.Duration(o.StatusTimerTimeoutMilliseconds) * time.Millisecond
}

func (o Options) RetryInitial() time.Duration {
	return time.Duration(o.SynchronizationRetryInterval.InitialSeconds) * time.Second
}

func (o Options) RetryMax() time.Duration {
	return time.Duration(o.SynchronizationRetryInterval.MaxSeconds) * time.Second
}

func (o Options) HealthSamplePeriod() time.Duration {
	return time.Duration(o.HealthMonitor.SamplePeriodMilliseconds) * time.Millisecond
}

// Load resolves Options from, in order: the file at path (if non-empty),
// then .env + environment variables, layered on top of Defaults().
func Load(path string) (Options, error) {
	opts := Defaults()

	if path != "" {
		if err := loadFromFile(path, &opts); err != nil {
			return Options{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	loadFromEnv(&opts)

	if opts.AccountID == "" {
		return Options{}, fmt.Errorf("accountId is required (file %q or ACCOUNT_ID env var)", path)
	}

	if opts.VaultPasswordPath != "" {
		if secret, err := LoadFromVault(opts.VaultPasswordPath); err == nil {
			opts.Password = secret
		}
		// Best-effort: an unreachable/misconfigured Vault falls back to
		// whatever password was already resolved from file/env.
	}

	return opts, nil
}

func loadFromFile(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, opts)
	default:
		return json.Unmarshal(data, opts)
	}
}

// loadFromEnv overlays a .env file (if present in the working directory)
// and process environment variables onto opts. Environment variables win
// over whatever a config file already set, matching the teacher's
// "file, then env" precedence for the fields env actually provides.
func loadFromEnv(opts *Options) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	if v := os.Getenv("TERMINAL_HOST"); v != "" {
		opts.Host = v
	}
	if v := os.Getenv("TERMINAL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			opts.Port = p
		}
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		opts.AccountID = v
	}
	if v := os.Getenv("ACCOUNT_PASSWORD"); v != "" {
		opts.Password = v
	}
	if v := os.Getenv("ACCOUNT_PASSWORD_VAULT_PATH"); v != "" {
		opts.VaultPasswordPath = v
	}
	if v := os.Getenv("TERMINAL_APPLICATION"); v != "" {
		opts.Application = v
	}
}

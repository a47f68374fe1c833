// Package config provides centralized configuration management for patronupdate.
// It loads configuration from an optional YAML settings file and environment
// variables with sensible defaults, and validates all settings on startup to
// fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	PAPI    PAPIConfig    `yaml:"papi"`
	Run     RunConfig     `yaml:"run"`
	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
}

// PAPIConfig holds Polaris API connection settings.
type PAPIConfig struct {
	// BaseURL is the scheme and host of the PAPI service, e.g. https://catalog.example.org
	BaseURL string `yaml:"base_url" env:"PAPI_BASE_URL" envAlt:"PAPI_HOSTNAME"`

	// AccessID identifies the PAPI key pair
	AccessID string `yaml:"access_id" env:"PAPI_ACCESS_ID"`

	// AccessKey is the shared secret used to sign requests
	AccessKey string `yaml:"access_key" env:"PAPI_ACCESS_KEY"`

	// LangID is the PAPI language id (default: 1033)
	LangID int `yaml:"lang_id" env:"PAPI_LANG_ID" default:"1033"`

	// AppID is the PAPI application id (default: 100)
	AppID int `yaml:"app_id" env:"PAPI_APP_ID" default:"100"`

	// OrgID is the PAPI organization id (default: 1)
	OrgID int `yaml:"org_id" env:"PAPI_ORG_ID" default:"1"`

	// Timeout bounds each PAPI request (default: 30s)
	Timeout time.Duration `yaml:"timeout" env:"PAPI_TIMEOUT" default:"30s"`

	// Override* identify the staff account used to act on patrons without their password
	OverrideDomain   string `yaml:"override_domain" env:"PAPI_OVERRIDE_DOMAIN"`
	OverrideUsername string `yaml:"override_username" env:"PAPI_OVERRIDE_USERNAME"`
	OverridePassword string `yaml:"override_password" env:"PAPI_OVERRIDE_PASSWORD"`

	// Logon* are sent with every patron update (default: 1)
	LogonBranchID      int `yaml:"logon_branch_id" env:"PAPI_LOGON_BRANCH_ID" default:"1"`
	LogonUserID        int `yaml:"logon_user_id" env:"PAPI_LOGON_USER_ID" default:"1"`
	LogonWorkstationID int `yaml:"logon_workstation_id" env:"PAPI_LOGON_WORKSTATION_ID" default:"1"`
}

// RunConfig holds defaults for a single update run.
type RunConfig struct {
	// Delay is the pause between consecutive PAPI writes (default: 0, no throttle).
	// The --delay flag overrides it.
	Delay time.Duration `yaml:"delay" env:"RUN_DELAY" default:"0s"`
}

// JournalConfig holds run journal settings.
type JournalConfig struct {
	// DatabaseURL is a PostgreSQL connection string; empty disables the journal
	DatabaseURL string `yaml:"database_url" env:"JOURNAL_DATABASE_URL" envAlt:"DATABASE_URL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format" env:"LOG_FORMAT" default:"text"`
}

// Complete reports whether enough PAPI settings are present to perform writes.
func (c *PAPIConfig) Complete() bool {
	return len(c.Missing()) == 0
}

// Missing returns the env names of PAPI settings required for writes that are unset.
func (c *PAPIConfig) Missing() []string {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "PAPI_BASE_URL")
	}
	if c.AccessID == "" {
		missing = append(missing, "PAPI_ACCESS_ID")
	}
	if c.AccessKey == "" {
		missing = append(missing, "PAPI_ACCESS_KEY")
	}
	if c.OverrideUsername == "" {
		missing = append(missing, "PAPI_OVERRIDE_USERNAME")
	}
	if c.OverridePassword == "" {
		missing = append(missing, "PAPI_OVERRIDE_PASSWORD")
	}
	return missing
}

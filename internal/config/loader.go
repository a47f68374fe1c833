package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the YAML file at path (if non-empty) and then
// from environment variables, which take precedence over file values.
// Defaults fill whatever neither source sets. The result is validated.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
	}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadFile decodes a YAML settings file into cfg. Unknown keys are rejected
// so typos in the file surface immediately.
func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open settings file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			// Keep whatever the settings file provided
			if !fieldVal.IsZero() {
				continue
			}
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// PAPI validation
	if c.PAPI.BaseURL != "" {
		u, err := url.Parse(c.PAPI.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("PAPI_BASE_URL (%q) must be an absolute http(s) URL", c.PAPI.BaseURL))
		}
	}
	if c.PAPI.LangID <= 0 {
		errs = append(errs, "PAPI_LANG_ID must be positive")
	}
	if c.PAPI.AppID <= 0 {
		errs = append(errs, "PAPI_APP_ID must be positive")
	}
	if c.PAPI.OrgID <= 0 {
		errs = append(errs, "PAPI_ORG_ID must be positive")
	}
	if c.PAPI.Timeout <= 0 {
		errs = append(errs, "PAPI_TIMEOUT must be positive")
	}
	if (c.PAPI.OverrideUsername == "") != (c.PAPI.OverridePassword == "") {
		errs = append(errs, "PAPI_OVERRIDE_USERNAME and PAPI_OVERRIDE_PASSWORD must be set together")
	}

	// Run validation
	if c.Run.Delay < 0 {
		errs = append(errs, "RUN_DELAY must be non-negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Secrets and the journal URL are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("PAPI: {BaseURL: %q, AccessID: %q, AccessKey: %s, Org: %d/%d/%d, Override: %q, OverridePassword: %s}, ",
		c.PAPI.BaseURL, c.PAPI.AccessID, mask(c.PAPI.AccessKey),
		c.PAPI.LangID, c.PAPI.AppID, c.PAPI.OrgID,
		c.PAPI.OverrideUsername, mask(c.PAPI.OverridePassword)))
	b.WriteString(fmt.Sprintf("Run: {Delay: %s}, ", c.Run.Delay))
	b.WriteString(fmt.Sprintf("Journal: {DatabaseURL: %s}, ", mask(c.Journal.DatabaseURL)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}

// Package config loads settings for envelopectl.
//
// Sources, lowest precedence first:
//   - built-in defaults
//   - a TOML file (--config)
//   - .env and .env.local in the working directory
//   - process environment variables (ENVELOPE_*)
//
// Command-line flags are applied by the caller on top of the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	envelope "github.com/vaultsandbox/envelope-go"
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvFormat       = "ENVELOPE_FORMAT"
	EnvLogLevel     = "ENVELOPE_LOG_LEVEL"
	EnvLogFormat    = "ENVELOPE_LOG_FORMAT"
	EnvRecipient    = "ENVELOPE_RECIPIENT"
	EnvSignerCert   = "ENVELOPE_SIGNER_CERT"
	EnvSignerKey    = "ENVELOPE_SIGNER_KEY"
	EnvSignerPKCS12 = "ENVELOPE_SIGNER_P12"
	EnvP12Password  = "ENVELOPE_P12_PASSWORD"
)

// Config holds envelopectl settings.
type Config struct {
	// Format is the envelope encoding: xml or compact.
	Format string `toml:"format"`

	Log LogConfig `toml:"log"`

	// Recipient is the path of the recipient certificate used by seal.
	Recipient string `toml:"recipient"`

	Signer IdentityConfig `toml:"signer"`

	// Identities are the decryption candidates used by open.
	Identities []IdentityConfig `toml:"identity"`

	// P12Password unlocks PKCS#12 files. It is read from the environment
	// only and never from the TOML file.
	P12Password string `toml:"-"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// IdentityConfig points at a certificate and key, either as a PEM pair or
// as a single PKCS#12 file.
type IdentityConfig struct {
	Cert   string `toml:"cert"`
	Key    string `toml:"key"`
	PKCS12 string `toml:"pkcs12"`
}

// IsZero reports whether no path is set.
func (c IdentityConfig) IsZero() bool {
	return c.Cert == "" && c.Key == "" && c.PKCS12 == ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Format: string(envelope.FormatCompact),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a configuration from defaults, the optional TOML file at path
// and the environment, and validates it. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg, err := Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Resolve is Load without validation, for callers that layer more overrides
// on top and validate the final result once.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadTOML decodes the TOML file at path into cfg. Keys missing from the file
// keep their current values; unknown keys are an error.
func LoadTOML(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads .env.local and then .env from dir into the process
// environment. Variables that are already set are never overwritten, so the
// precedence is OS environment, then .env.local, then .env. Missing files are
// skipped.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies ENVELOPE_* environment variables.
//
// Supported variables:
//   - ENVELOPE_FORMAT: overrides format
//   - ENVELOPE_LOG_LEVEL, ENVELOPE_LOG_FORMAT: override log.level, log.format
//   - ENVELOPE_RECIPIENT: overrides recipient
//   - ENVELOPE_SIGNER_CERT, ENVELOPE_SIGNER_KEY, ENVELOPE_SIGNER_P12: override signer
//   - ENVELOPE_P12_PASSWORD: PKCS#12 password
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvFormat); v != "" {
		c.Format = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvRecipient); v != "" {
		c.Recipient = v
	}
	if v := os.Getenv(EnvSignerCert); v != "" {
		c.Signer.Cert = v
	}
	if v := os.Getenv(EnvSignerKey); v != "" {
		c.Signer.Key = v
	}
	if v := os.Getenv(EnvSignerPKCS12); v != "" {
		c.Signer.PKCS12 = v
	}
	if v, ok := os.LookupEnv(EnvP12Password); ok {
		c.P12Password = v
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks enumerated values and identity path combinations.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, err := envelope.ParseFormat(c.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: xml, compact", c.Format),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: console, json", c.Log.Format),
		})
	}

	if !c.Signer.IsZero() {
		if err := c.Signer.validate("signer"); err != nil {
			errs = append(errs, *err)
		}
	}
	for i, id := range c.Identities {
		if err := id.validate(fmt.Sprintf("identity[%d]", i)); err != nil {
			errs = append(errs, *err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c IdentityConfig) validate(field string) *ValidationError {
	switch {
	case c.PKCS12 != "" && (c.Cert != "" || c.Key != ""):
		return &ValidationError{Field: field, Message: "set either pkcs12 or cert and key, not both"}
	case c.PKCS12 == "" && (c.Cert == "" || c.Key == ""):
		return &ValidationError{Field: field, Message: "cert and key are both required"}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads symbridge settings from YAML and the environment.
//
// Precedence, lowest first: Default, the YAML file, SYMBRIDGE_* environment
// variables, then whatever the caller (usually CLI flags) sets before
// calling Validate.
//
// Thread Safety:
//
//	Config values are plain data; callers copy or guard them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

const (
	// DefaultFileName is looked up in the working directory when no path
	// is given.
	DefaultFileName = "symbridge.yaml"

	// MaxFileSize caps the config file.
	MaxFileSize = 1024 * 1024

	envPrefix = "SYMBRIDGE_"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete symbridge configuration.
type Config struct {
	// Root is the workspace directory.
	Root string `yaml:"root" validate:"required"`

	// Language selects the grammar and the language server.
	Language string `yaml:"language" validate:"required,language"`

	// Extension overrides the grammar's first extension.
	Extension string `yaml:"extension,omitempty" validate:"omitempty,startswith=."`

	// Concurrency bounds parallel parsing at load. Zero means GOMAXPROCS.
	Concurrency int `yaml:"concurrency" validate:"gte=0,lte=256"`

	// IgnoreDirs replaces the default ignored directory names when set.
	IgnoreDirs []string `yaml:"ignore_dirs,omitempty"`

	// WriteThrough writes renamed files back to disk.
	WriteThrough bool `yaml:"write_through"`

	// Servers registers extra or replacement language servers.
	Servers []lsp.LanguageConfig `yaml:"servers,omitempty"`

	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// ServerConfig tunes the language server connection.
type ServerConfig struct {
	// Command replaces the registered command line for Language.
	Command []string `yaml:"command,omitempty"`

	// Address connects to a running server over TCP instead of launching one.
	Address string `yaml:"address,omitempty" validate:"omitempty,hostname_port"`

	StartupTimeout time.Duration `yaml:"startup_timeout" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`

	// PositionEncodings are offered to the server in preference order.
	PositionEncodings []string `yaml:"position_encodings,omitempty" validate:"dive,posenc"`
}

// WatchConfig controls the file watcher of the serve command.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// LoggingConfig mirrors pkg/logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" validate:"required"`
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Traces otlp"`
	OTLPTLS      bool   `yaml:"otlp_tls,omitempty"`
}

// HTTPConfig configures the HTTP surface of the serve command.
type HTTPConfig struct {
	Address string `yaml:"address,omitempty" validate:"omitempty,hostname_port"`

	// RateLimit caps API requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty" validate:"gte=0"`
	Burst     int     `yaml:"burst,omitempty" validate:"gte=0"`
}

// Default returns a configuration for a Python workspace in the current
// directory with telemetry off.
func Default() Config {
	return Config{
		Root:     ".",
		Language: "python",
		Server: ServerConfig{
			StartupTimeout: lsp.DefaultStartupTimeout,
			RequestTimeout: lsp.DefaultRequestTimeout,
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "symbridge",
			Traces:      "none",
			Metrics:     "none",
		},
	}
}

// Load reads path over Default and applies environment overrides. An empty
// path reads DefaultFileName when it exists and uses only defaults
// otherwise. The result is not validated; callers apply flags first.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("open config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default without touching the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return err
	}
	if len(data) > MaxFileSize {
		return fmt.Errorf("file exceeds %d bytes", MaxFileSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from SYMBRIDGE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("ROOT", &c.Root)
	str("LANGUAGE", &c.Language)
	str("EXTENSION", &c.Extension)
	str("SERVER_ADDRESS", &c.Server.Address)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_DIR", &c.Logging.Dir)
	str("TRACES", &c.Telemetry.Traces)
	str("METRICS", &c.Telemetry.Metrics)
	str("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("HTTP_ADDRESS", &c.HTTP.Address)

	if v, ok := lookup(envPrefix + "SERVER_COMMAND"); ok && strings.TrimSpace(v) != "" {
		c.Server.Command = strings.Fields(v)
	}

	return errors.Join(
		boolean("LOG_JSON", &c.Logging.JSON),
		boolean("WRITE_THROUGH", &c.WriteThrough),
		boolean("WATCH", &c.Watch.Enabled),
	)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.FileExtension(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// FileExtension returns the extension to load, with the dot.
func (c *Config) FileExtension() (string, error) {
	g, err := ast.DefaultGrammars().Get(c.Language)
	if err != nil {
		return "", err
	}
	if c.Extension == "" {
		return g.Extensions[0], nil
	}
	for _, e := range g.Extensions {
		if strings.EqualFold(e, c.Extension) {
			return e, nil
		}
	}
	return "", fmt.Errorf("extension %s is not handled by the %s grammar", c.Extension, c.Language)
}

// PositionEncodings converts the configured offer.
func (c *Config) PositionEncodings() []ast.PositionEncoding {
	out := make([]ast.PositionEncoding, 0, len(c.Server.PositionEncodings))
	for _, e := range c.Server.PositionEncodings {
		out = append(out, ast.PositionEncoding(e))
	}
	return out
}

// Registry returns the built-in server registry with Servers registered
// over it.
func (c *Config) Registry() *lsp.ConfigRegistry {
	reg := lsp.NewConfigRegistry()
	for _, s := range c.Servers {
		reg.Register(s)
	}
	return reg
}

// SessionConfig builds the language server session settings for root,
// which should be the absolute workspace root.
func (c *Config) SessionConfig(root string) (lsp.SessionConfig, error) {
	lang, err := c.Registry().Get(c.Language)
	if err != nil {
		return lsp.SessionConfig{}, err
	}
	if len(c.Server.Command) > 0 {
		lang.Command = c.Server.Command[0]
		lang.Args = append([]string(nil), c.Server.Command[1:]...)
	}
	return lsp.SessionConfig{
		Language:          lang,
		RootPath:          root,
		Address:           c.Server.Address,
		StartupTimeout:    c.Server.StartupTimeout,
		RequestTimeout:    c.Server.RequestTimeout,
		PositionEncodings: c.PositionEncodings(),
	}, nil
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/phonofix/internal/knowledge"
)

// ValidTranscriberNames lists the transcriber backends that ship with
// phonofix. Used by [Validate] to warn about unrecognised names.
var ValidTranscriberNames = []string{"rules", "metaphone"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero [Config], which is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Engine
	e := cfg.Engine
	if th := e.Threshold; th != nil && (*th < 0 || math.IsNaN(*th) || math.IsInf(*th, 0)) {
		errs = append(errs, fmt.Errorf("engine.threshold %v must be a finite non-negative number", *th))
	}
	if r := e.WindowRadius; r != nil && *r < 0 {
		errs = append(errs, fmt.Errorf("engine.window_radius %d must not be negative", *r))
	}
	if e.Workers < 0 {
		errs = append(errs, fmt.Errorf("engine.workers %d must not be negative", e.Workers))
	}
	if e.MaxWindows < 0 {
		errs = append(errs, fmt.Errorf("engine.max_windows %d must not be negative", e.MaxWindows))
	}
	if e.IndelCost < 0 {
		errs = append(errs, fmt.Errorf("engine.indel_cost %v must not be negative", e.IndelCost))
	}
	if e.LowConfidence < 0 || e.LowConfidence > 1 {
		errs = append(errs, fmt.Errorf("engine.low_confidence %v is out of range [0, 1]", e.LowConfidence))
	}
	if _, err := e.DistanceConfig(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}

	// Transcriber
	validateTranscriberName(cfg.Transcriber.Name)
	for i, fb := range cfg.Transcriber.Fallback {
		validateTranscriberName(fb.Name)
		if len(fb.Fallback) > 0 {
			errs = append(errs, fmt.Errorf("transcriber.fallback[%d]: nested fallbacks are not supported", i))
		}
	}

	// Knowledge
	k := cfg.Knowledge
	if _, err := knowledge.ParseFormat(k.Format); err != nil {
		errs = append(errs, fmt.Errorf("knowledge.format: %w", err))
	}
	if k.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("knowledge.dimensions %d must not be negative", k.Dimensions))
	}
	if k.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("knowledge.poll_interval %v must not be negative", k.PollInterval))
	}
	if k.Watch && k.Path == "" {
		errs = append(errs, errors.New("knowledge.watch requires knowledge.path"))
	}
	if k.Path == "" && k.PostgresDSN == "" {
		slog.Warn("no knowledge.path or knowledge.postgres_dsn configured; the engine starts with an empty knowledge base")
	}
	if k.Path != "" && k.PostgresDSN != "" {
		slog.Warn("both knowledge.path and knowledge.postgres_dsn are set; terms are loaded from the file", "path", k.Path)
	}

	return errors.Join(errs...)
}

// validateTranscriberName logs a warning if name is non-empty and not one of
// [ValidTranscriberNames].
func validateTranscriberName(name string) {
	if name == "" || slices.Contains(ValidTranscriberNames, name) {
		return
	}
	slog.Warn("unknown transcriber name, may be a typo or third-party backend",
		"name", name,
		"known", ValidTranscriberNames,
	)
}

// Package config loads demokit settings. Layers apply in order: built-in
// defaults, demokit.toml, .env, DEMOKIT_* environment, then CLI flags
// (applied by the command).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ormasoftchile/demokit/pkg/kernel/engine"
	"github.com/ormasoftchile/demokit/pkg/logging"
)

// Default file names, looked up in the working directory.
const (
	DefaultFile    = "demokit.toml"
	DefaultEnvFile = ".env"
	EnvPrefix      = "DEMOKIT_"
	VarPrefix      = EnvPrefix + "VAR_"
)

// Config is the resolved configuration.
type Config struct {
	Kubeconfig     string            `toml:"kubeconfig"`
	Context        string            `toml:"context"`
	Namespace      string            `toml:"namespace"`
	Helm           string            `toml:"helm"`
	MaxAttempts    int               `toml:"max_attempts"`
	NonInteractive bool              `toml:"non_interactive"`
	Trace          string            `toml:"trace"`
	Log            Log               `toml:"log"`
	Vars           map[string]string `toml:"vars"`
}

// Log selects the log handler.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Helm:        "helm",
		MaxAttempts: engine.DefaultMaxAttempts,
		Log:         Log{Level: "info", Format: logging.Auto},
		Vars:        map[string]string{},
	}
}

// Options locate the config sources.
type Options struct {
	File    string   // explicit config file; must exist when set
	EnvFile string   // explicit .env file; must exist when set
	Environ []string // process environment; nil uses os.Environ()
}

// Load resolves defaults, file, .env and environment layers.
func Load(opts Options) (Config, error) {
	cfg := Default()

	file, required := opts.File, true
	if file == "" {
		file, required = DefaultFile, false
	}
	if err := cfg.mergeFile(file, required); err != nil {
		return Config{}, err
	}

	env, err := environment(opts)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.mergeEnv(env); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays keys defined in a TOML file.
func (c *Config) mergeFile(path string, required bool) error {
	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}

	if meta.IsDefined("kubeconfig") {
		c.Kubeconfig = strings.TrimSpace(raw.Kubeconfig)
	}
	if meta.IsDefined("context") {
		c.Context = strings.TrimSpace(raw.Context)
	}
	if meta.IsDefined("namespace") {
		c.Namespace = strings.TrimSpace(raw.Namespace)
	}
	if meta.IsDefined("helm") {
		c.Helm = strings.TrimSpace(raw.Helm)
	}
	if meta.IsDefined("max_attempts") {
		c.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("non_interactive") {
		c.NonInteractive = raw.NonInteractive
	}
	if meta.IsDefined("trace") {
		c.Trace = strings.TrimSpace(raw.Trace)
	}
	if meta.IsDefined("log", "level") {
		c.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		c.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	for k, v := range raw.Vars {
		c.Vars[k] = v
	}
	return nil
}

// environment merges the .env file under the process environment; real
// variables win, as with godotenv.Load.
func environment(opts Options) (map[string]string, error) {
	env := map[string]string{}

	envFile, required := opts.EnvFile, true
	if envFile == "" {
		envFile, required = DefaultEnvFile, false
	}
	dotenv, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		for k, v := range dotenv {
			env[k] = v
		}
	case !required && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// mergeEnv overlays DEMOKIT_* variables.
func (c *Config) mergeEnv(env map[string]string) error {
	str := map[string]*string{
		"KUBECONFIG": &c.Kubeconfig,
		"CONTEXT":    &c.Context,
		"NAMESPACE":  &c.Namespace,
		"HELM":       &c.Helm,
		"TRACE":      &c.Trace,
		"LOG_LEVEL":  &c.Log.Level,
		"LOG_FORMAT": &c.Log.Format,
	}
	for name, dst := range str {
		if v, ok := env[EnvPrefix+name]; ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := env[EnvPrefix+"MAX_ATTEMPTS"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sMAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.MaxAttempts = n
	}
	if v, ok := env[EnvPrefix+"NON_INTERACTIVE"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sNON_INTERACTIVE: %w", EnvPrefix, err)
		}
		c.NonInteractive = b
	}

	for k, v := range env {
		if name, ok := strings.CutPrefix(k, VarPrefix); ok && name != "" {
			c.Vars[name] = v
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case logging.Auto, logging.JSON, logging.Text, logging.Tint:
	default:
		return fmt.Errorf("log.format must be one of auto, json, text, tint; got %q", c.Log.Format)
	}
	return nil
}

// SetVars overlays KEY=VALUE pairs, as given to --var.
func (c *Config) SetVars(pairs []string) error {
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("invalid --var %q: want KEY=VALUE", p)
		}
		c.Vars[k] = v
	}
	return nil
}

// VarKeys returns the configured var names, sorted.
func (c *Config) VarKeys() []string {
	keys := make([]string, 0, len(c.Vars))
	for k := range c.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package config loads and watches the keeper configuration file.
// Config is YAML with ${VAR} environment expansion; a missing file yields
// defaults so the server runs against local backends out of the box.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// LLMConfig selects the chat-completion backend. The endpoint must be
// OpenAI-compatible (Ollama, LM Studio, OpenAI itself).
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// PanesConfig controls the background pane updates.
type PanesConfig struct {
	AutoHistoryUpdate bool   `yaml:"auto_history_update"`
	AutoSceneUpdate   bool   `yaml:"auto_scene_update"`
	Timeout           string `yaml:"timeout"`
	Debounce          string `yaml:"debounce"`
}

// Config is the full file shape.
type Config struct {
	Listen             string      `yaml:"listen"`
	PublicDir          string      `yaml:"public_dir"`
	DataDir            string      `yaml:"data_dir"`
	LogLevel           string      `yaml:"log_level"`
	Autosave           string      `yaml:"autosave"`
	StableDiffusionURL string      `yaml:"stable_diffusion_url"`
	LLM                LLMConfig   `yaml:"llm"`
	Panes              PanesConfig `yaml:"panes"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:             ":8080",
		PublicDir:          "public",
		DataDir:            ".keeper",
		LogLevel:           "info",
		Autosave:           "@every 1m",
		StableDiffusionURL: "http://127.0.0.1:7860",
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			Model:   "gpt-oss:20b",
		},
		Panes: PanesConfig{
			AutoHistoryUpdate: true,
			AutoSceneUpdate:   true,
		},
	}
}

// Load reads and parses the config at path. A missing file is not an
// error; defaults are returned.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML over the defaults, expands ${VAR} references and
// validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expandEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields whose bad values would only surface much later.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return fmt.Errorf("config: llm.base_url is required")
	}
	if _, err := c.PaneTimeout(); err != nil {
		return err
	}
	if _, err := c.PaneDebounce(); err != nil {
		return err
	}
	return nil
}

// PaneTimeout returns the configured pane timeout, zero meaning "use the
// scheduler default".
func (c *Config) PaneTimeout() (time.Duration, error) {
	return parseDurationField("panes.timeout", c.Panes.Timeout)
}

// PaneDebounce returns the configured pane debounce, zero meaning "use the
// scheduler default".
func (c *Config) PaneDebounce() (time.Duration, error) {
	return parseDurationField("panes.debounce", c.Panes.Debounce)
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} in string fields with the environment value.
// Unset variables expand to the empty string.
func expandEnv(c *Config) {
	fields := []*string{
		&c.Listen, &c.PublicDir, &c.DataDir, &c.LogLevel, &c.Autosave,
		&c.StableDiffusionURL,
		&c.LLM.BaseURL, &c.LLM.Model, &c.LLM.APIKey,
	}
	for _, f := range fields {
		*f = envVarPattern.ReplaceAllStringFunc(*f, func(m string) string {
			name := envVarPattern.FindStringSubmatch(m)[1]
			return os.Getenv(name)
		})
	}
}

var (
	truthyStrings = map[string]struct{}{"1": {}, "true": {}, "yes": {}, "y": {}, "on": {}, "t": {}}
	falsyStrings  = map[string]struct{}{"0": {}, "false": {}, "no": {}, "n": {}, "off": {}, "f": {}}
)

// EnvFlag reads a boolean environment flag with a forgiving parser.
// Missing variables return def; unrecognized non-empty values read false,
// which avoids surprises in container environments where flags arrive in
// varying forms.
func EnvFlag(name string, def bool) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	val := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := truthyStrings[val]; ok {
		return true
	}
	if _, ok := falsyStrings[val]; ok {
		return false
	}
	return false
}

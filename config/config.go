package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"meetrec/analyzer"
	"meetrec/encoder"
	"meetrec/hotkey"
)

// Duration decodes from TOML strings such as "1s" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Provider          string   `toml:"provider"`
	Model             string   `toml:"model"`
	GeminiAPIKey      string   `toml:"gemini_api_key"`
	GroqAPIKey        string   `toml:"groq_api_key"`
	IncludeSystem     bool     `toml:"include_system"`
	IncludeMicrophone bool     `toml:"include_microphone"`
	Microphone        string   `toml:"microphone"`
	Encodings         []string `toml:"encodings"`
	ChunkInterval     Duration `toml:"chunk_interval"`
	ExportDir         string   `toml:"export_dir"`
	Prompt            string   `toml:"prompt"`
	Hotkey            string   `toml:"hotkey"`
}

func Default() Config {
	return Config{
		Provider:          "gemini",
		IncludeSystem:     true,
		IncludeMicrophone: true,
		Encodings:         []string{encoder.FLAC.MIMEType},
		ChunkInterval:     Duration{time.Second},
		ExportDir:         defaultExportDir(),
		Hotkey:            hotkey.Default,
	}
}

// Path returns MEETREC_CONFIG when set, else $XDG_CONFIG_HOME/meetrec/config.toml.
func Path() (string, error) {
	if p := os.Getenv("MEETREC_CONFIG"); p != "" {
		return p, nil
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "meetrec", "config.toml"), nil
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error. Unknown keys are returned so the caller can
// warn about typos.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	var unknown []string

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, nil, fmt.Errorf("reading %s: %w", path, err)
		default:
			for _, k := range md.Undecoded() {
				unknown = append(unknown, k.String())
			}
		}
	}

	cfg.ApplyEnv()
	cfg.ExportDir = expandTilde(cfg.ExportDir)
	return cfg, unknown, cfg.Validate()
}

func (c *Config) ApplyEnv() {
	if v := firstEnv("MEETREC_GEMINI_API_KEY", "GEMINI_API_KEY"); v != "" {
		c.GeminiAPIKey = v
	}
	if v := firstEnv("MEETREC_GROQ_API_KEY", "GROQ_API_KEY"); v != "" {
		c.GroqAPIKey = v
	}
	if v := os.Getenv("MEETREC_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("MEETREC_EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	if v := os.Getenv("MEETREC_HOTKEY"); v != "" {
		c.Hotkey = v
	}
	if v := os.Getenv("MEETREC_MICROPHONE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.IncludeMicrophone = b
		}
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "gemini", "google", "groq":
	default:
		return fmt.Errorf("config: unknown provider %q (want gemini or groq)", c.Provider)
	}
	if !c.IncludeSystem && !c.IncludeMicrophone {
		return errors.New("config: include_system and include_microphone are both false")
	}
	if c.ChunkInterval.Duration < 0 {
		return fmt.Errorf("config: negative chunk_interval %s", c.ChunkInterval.Duration)
	}
	if _, err := hotkey.Parse(c.Hotkey); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HotkeyCombo is the parsed global hotkey; Validate has already checked it.
func (c Config) HotkeyCombo() hotkey.Combo {
	combo, err := hotkey.Parse(c.Hotkey)
	if err != nil {
		return hotkey.MustParse(hotkey.Default)
	}
	return combo
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() string {
	if strings.EqualFold(c.Provider, "groq") {
		return c.GroqAPIKey
	}
	return c.GeminiAPIKey
}

func (c Config) Analyzer() analyzer.Config {
	return analyzer.Config{
		Provider:  c.Provider,
		Model:     c.Model,
		GeminiKey: c.GeminiAPIKey,
		GroqKey:   c.GroqAPIKey,
		Prompt:    c.Prompt,
	}
}

// Save writes cfg to path, creating the directory. Used by --setup to
// remember the chosen microphone.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func defaultExportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Meetings")
	}
	return "."
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

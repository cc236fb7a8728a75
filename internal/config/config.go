package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory when
// --config is not given.
const DefaultPath = "threadex.yaml"

// Discovery modes.
const (
	ModeShortCircuit = "short_circuit"
	ModeExhaustive   = "exhaustive"
)

// Config holds all threadex configuration.
type Config struct {
	// Account used for the interactive login.
	Account AccountConfig `yaml:"account"`

	// Where exported conversations and bookkeeping land.
	Output OutputConfig `yaml:"output"`

	// Chrome launch/connect settings.
	Browser BrowserConfig `yaml:"browser"`

	// Library list expansion.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Thread load correlation.
	Correlator CorrelatorConfig `yaml:"correlator"`

	// Per-item pacing.
	Export ExportConfig `yaml:"export"`

	// Optional post-export conversion.
	Convert ConvertConfig `yaml:"convert"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AccountConfig identifies the remote account.
type AccountConfig struct {
	Email string `yaml:"email"`
}

// OutputConfig configures on-disk persistence.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	DoneFile  string `yaml:"done_file"`
	IndexPath string `yaml:"index_path"` // SQLite export catalog; empty disables it
}

// BrowserConfig configures the Chrome session.
type BrowserConfig struct {
	ChromeBin         string   `yaml:"chrome_bin"`
	DebuggerURL       string   `yaml:"debugger_url"`
	Flags             []string `yaml:"flags"`
	UserDataDir       string   `yaml:"user_data_dir"` // persistent profile; empty uses a throwaway one
	Headless          bool     `yaml:"headless"`
	Stealth           bool     `yaml:"stealth"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	BaseURL           string   `yaml:"base_url"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	LoginTimeout      string   `yaml:"login_timeout"`
	SkipLogin         bool     `yaml:"skip_login"` // reuse an already logged-in debugger session
}

// DiscoveryConfig configures the library scroll loop.
type DiscoveryConfig struct {
	LibraryURL        string   `yaml:"library_url"`
	Mode              string   `yaml:"mode"` // short_circuit, exhaustive
	MaxScrollAttempts int      `yaml:"max_scroll_attempts"`
	MaxStall          int      `yaml:"max_stall"`
	SettleDelay       string   `yaml:"settle_delay"`
	SelectorTimeout   string   `yaml:"selector_timeout"`
	Selectors         []string `yaml:"selectors"`
}

// CorrelatorConfig configures thread loading.
type CorrelatorConfig struct {
	ThreadTimeout string `yaml:"thread_timeout"`
}

// ExportConfig configures the per-item loop.
type ExportConfig struct {
	PacingDelay string `yaml:"pacing_delay"`
}

// ConvertConfig configures the post-export converter subprocess.
type ConvertConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Python        string `yaml:"python"`
	ConverterPath string `yaml:"converter_path"`
	OutputDir     string `yaml:"output_dir"`
	Timeout       string `yaml:"timeout"`
}

// DefaultSelectors is the prioritized list of thread link selectors for the
// library page. The upstream UI changes often, so the list is ordered from
// most to least specific.
var DefaultSelectors = []string{
	`div[data-testid="thread-title"]`,
	`a[href*="/search/"]`,
	`a[href*="/thread/"]`,
	`[role="listitem"] a`,
	`.thread-item`,
	`div[class*="thread"] a`,
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:       ".",
			DoneFile:  "done.json",
			IndexPath: "",
		},

		Browser: BrowserConfig{
			Headless:          false, // login is interactive
			Stealth:           true,
			ViewportWidth:     1440,
			ViewportHeight:    900,
			BaseURL:           "https://www.perplexity.ai/",
			NavigationTimeout: "45s",
			LoginTimeout:      "120s",
		},

		Discovery: DiscoveryConfig{
			LibraryURL:        "https://www.perplexity.ai/library",
			Mode:              ModeShortCircuit,
			MaxScrollAttempts: 100,
			MaxStall:          5,
			SettleDelay:       "2s",
			SelectorTimeout:   "5s",
			Selectors:         append([]string(nil), DefaultSelectors...),
		},

		Correlator: CorrelatorConfig{
			ThreadTimeout: "45s",
		},

		Export: ExportConfig{
			PacingDelay: "2s",
		},

		Convert: ConvertConfig{
			Enabled: false,
			Python:  "python3",
			Timeout: "10m",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    ".threadex/logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if email := os.Getenv("THREADEX_EMAIL"); email != "" {
		c.Account.Email = email
	}
	if dir := os.Getenv("THREADEX_OUTPUT_DIR"); dir != "" {
		c.Output.Dir = dir
	}
	if path := os.Getenv("THREADEX_DONE_FILE"); path != "" {
		c.Output.DoneFile = path
	}
	if bin := os.Getenv("THREADEX_CHROME_BIN"); bin != "" {
		c.Browser.ChromeBin = bin
	}
	if url := os.Getenv("THREADEX_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetNavigationTimeout returns the page navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 45*time.Second)
}

// GetLoginTimeout returns how long the interactive login may take.
func (c *Config) GetLoginTimeout() time.Duration {
	return parseDuration(c.Browser.LoginTimeout, 120*time.Second)
}

// GetThreadTimeout returns how long a thread load waits for its API payload.
func (c *Config) GetThreadTimeout() time.Duration {
	return parseDuration(c.Correlator.ThreadTimeout, 45*time.Second)
}

// GetSettleDelay returns the wait after each library scroll.
func (c *Config) GetSettleDelay() time.Duration {
	return parseDuration(c.Discovery.SettleDelay, 2*time.Second)
}

// GetSelectorTimeout returns the per-selector readiness wait.
func (c *Config) GetSelectorTimeout() time.Duration {
	return parseDuration(c.Discovery.SelectorTimeout, 5*time.Second)
}

// GetPacingDelay returns the delay enforced after each exported item.
func (c *Config) GetPacingDelay() time.Duration {
	return parseDuration(c.Export.PacingDelay, 2*time.Second)
}

// GetConvertTimeout returns the converter subprocess timeout.
func (c *Config) GetConvertTimeout() time.Duration {
	return parseDuration(c.Convert.Timeout, 10*time.Minute)
}

// GetSelectors returns the configured selector strategies, or the defaults.
func (c *Config) GetSelectors() []string {
	if len(c.Discovery.Selectors) == 0 {
		return append([]string(nil), DefaultSelectors...)
	}
	return c.Discovery.Selectors
}

// GetConvertOutputDir returns the converter output directory, defaulting to
// <output>/logseq-notes.
func (c *Config) GetConvertOutputDir() string {
	if c.Convert.OutputDir != "" {
		return c.Convert.OutputDir
	}
	return filepath.Join(c.Output.Dir, "logseq-notes")
}

// ValidModes lists the supported discovery modes.
var ValidModes = []string{ModeShortCircuit, ModeExhaustive}

// Validate validates the configuration for an export run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Account.Email) == "" && !c.Browser.SkipLogin {
		return fmt.Errorf("account email not configured (use --email or THREADEX_EMAIL)")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output directory not configured")
	}
	if c.Output.DoneFile == "" {
		return fmt.Errorf("done file not configured")
	}

	validMode := false
	for _, m := range ValidModes {
		if c.Discovery.Mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid discovery mode: %s (valid: %v)", c.Discovery.Mode, ValidModes)
	}

	if c.Discovery.MaxScrollAttempts <= 0 {
		return fmt.Errorf("discovery.max_scroll_attempts must be positive, got %d", c.Discovery.MaxScrollAttempts)
	}
	if c.Discovery.MaxStall <= 0 {
		return fmt.Errorf("discovery.max_stall must be positive, got %d", c.Discovery.MaxStall)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"THREADEX_EMAIL", "THREADEX_OUTPUT_DIR", "THREADEX_DONE_FILE",
		"THREADEX_CHROME_BIN", "THREADEX_DEBUGGER_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Output.DoneFile != "done.json" {
		t.Errorf("expected DoneFile=done.json, got %s", cfg.Output.DoneFile)
	}
	if cfg.Discovery.Mode != ModeShortCircuit {
		t.Errorf("expected Mode=%s, got %s", ModeShortCircuit, cfg.Discovery.Mode)
	}
	if cfg.Discovery.MaxScrollAttempts != 100 {
		t.Errorf("expected MaxScrollAttempts=100, got %d", cfg.Discovery.MaxScrollAttempts)
	}
	if cfg.Discovery.MaxStall != 5 {
		t.Errorf("expected MaxStall=5, got %d", cfg.Discovery.MaxStall)
	}
	if got := cfg.GetThreadTimeout(); got != 45*time.Second {
		t.Errorf("expected thread timeout 45s, got %v", got)
	}
	if cfg.Browser.Headless {
		t.Error("expected headful browser by default")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "threadex.yaml")

	cfg := DefaultConfig()
	cfg.Account.Email = "me@example.com"
	cfg.Discovery.Mode = ModeExhaustive
	cfg.Correlator.ThreadTimeout = "10s"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Account.Email != "me@example.com" {
		t.Errorf("expected Email=me@example.com, got %s", loaded.Account.Email)
	}
	if loaded.Discovery.Mode != ModeExhaustive {
		t.Errorf("expected Mode=exhaustive, got %s", loaded.Discovery.Mode)
	}
	if got := loaded.GetThreadTimeout(); got != 10*time.Second {
		t.Errorf("expected thread timeout 10s, got %v", got)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADEX_EMAIL", "env@example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Output.Dir != "." {
		t.Errorf("expected default output dir, got %s", cfg.Output.Dir)
	}
	if cfg.Account.Email != "env@example.com" {
		t.Errorf("expected env email to apply without a config file, got %s", cfg.Account.Email)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("discovery: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADEX_OUTPUT_DIR", "/tmp/out")
	t.Setenv("THREADEX_DEBUGGER_URL", "ws://127.0.0.1:9222/devtools/browser/x")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Output.Dir != "/tmp/out" {
		t.Errorf("expected output dir override, got %s", cfg.Output.Dir)
	}
	if cfg.Browser.DebuggerURL != "ws://127.0.0.1:9222/devtools/browser/x" {
		t.Errorf("expected debugger url override, got %s", cfg.Browser.DebuggerURL)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for missing email")
	}

	cfg.Account.Email = "me@example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Discovery.Mode = "sideways"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown mode")
	}

	cfg.Discovery.Mode = ModeExhaustive
	cfg.Discovery.MaxStall = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max_stall")
	}

	skip := DefaultConfig()
	skip.Browser.SkipLogin = true
	if err := skip.Validate(); err != nil {
		t.Errorf("skip_login should not require an email: %v", err)
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discovery.SettleDelay = "soon"
	cfg.Export.PacingDelay = "-1s"

	if got := cfg.GetSettleDelay(); got != 2*time.Second {
		t.Errorf("expected fallback settle delay 2s, got %v", got)
	}
	if got := cfg.GetPacingDelay(); got != 2*time.Second {
		t.Errorf("expected fallback pacing delay 2s, got %v", got)
	}
}

func TestGetConvertOutputDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Dir = "exports"
	if got := cfg.GetConvertOutputDir(); got != filepath.Join("exports", "logseq-notes") {
		t.Errorf("unexpected default convert dir %s", got)
	}
	cfg.Convert.OutputDir = "notes"
	if got := cfg.GetConvertOutputDir(); got != "notes" {
		t.Errorf("expected explicit convert dir, got %s", got)
	}
}

func TestLoggingConfig_ToLogging(t *testing.T) {
	lc := LoggingConfig{
		Level:      "debug",
		Format:     "json",
		Dir:        "logs",
		DebugMode:  true,
		Categories: map[string]bool{"browser": false},
	}
	got := lc.ToLogging()
	if got.Level != "debug" || !got.JSONFormat || !got.DebugMode || got.Dir != "logs" {
		t.Errorf("unexpected logging config %+v", got)
	}
	if enabled, ok := got.Categories["browser"]; !ok || enabled {
		t.Errorf("expected browser category to stay disabled, got %v", got.Categories)
	}
	if (LoggingConfig{Format: "text"}).ToLogging().JSONFormat {
		t.Error("expected text format to map to console output")
	}
}

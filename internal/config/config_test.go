package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestConfigInitialization tests basic configuration initialization
func TestConfigInitialization(t *testing.T) {
	flags := CliFlags{}
	cfg, transport, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	// Verify default values were set
	if cfg.CachePath != DefaultCachePath {
		t.Errorf("Expected default cache path %q, got %q", DefaultCachePath, cfg.CachePath)
	}
	if cfg.GenerationURL == "" {
		t.Error("Expected generation URL to be set to default")
	}
	if cfg.InferenceURL == "" {
		t.Error("Expected inference URL to be set to default")
	}
	if cfg.Texture != DefaultTexture {
		t.Errorf("Expected default texture %q, got %q", DefaultTexture, cfg.Texture)
	}
	if cfg.APIClientTimeoutSec <= 0 {
		t.Error("Expected API client timeout to be positive")
	}
	if cfg.PollIntervalMs <= 0 {
		t.Error("Expected poll interval to be positive")
	}
	if transport == nil {
		t.Error("Expected a transport to be returned")
	}
}

// TestFlagOverrides tests that CLI flags override default values
func TestFlagOverrides(t *testing.T) {
	cachePath := t.TempDir()
	generationURL := "http://gen.example.com"
	pollInterval := 500
	flags := CliFlags{
		CachePath:      &cachePath,
		GenerationURL:  &generationURL,
		PollIntervalMs: &pollInterval,
	}

	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.CachePath != cachePath {
		t.Errorf("Expected cache path %q (from flags), got %q", cachePath, cfg.CachePath)
	}
	if cfg.GenerationURL != generationURL {
		t.Errorf("Expected generation URL %q (from flags), got %q", generationURL, cfg.GenerationURL)
	}
	if cfg.PollIntervalMs != 500 {
		t.Errorf("Expected poll interval 500 (from flags), got %d", cfg.PollIntervalMs)
	}
}

// TestConfigFile tests loading values from a TOML config file
func TestConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.toml")
	content := `
CachePath = "` + filepath.ToSlash(tmpDir) + `"
GenerationURL = "http://file.example.com"
LogLevel = "debug"
PollIntervalMs = 1000
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	flags := CliFlags{ConfigFilePath: &cfgPath}
	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.GenerationURL != "http://file.example.com" {
		t.Errorf("Expected generation URL from file, got %q", cfg.GenerationURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level debug from file, got %q", cfg.LogLevel)
	}
	if cfg.PollIntervalMs != 1000 {
		t.Errorf("Expected poll interval 1000 from file, got %d", cfg.PollIntervalMs)
	}
}

// TestFlagBeatsFile tests the precedence of flags over file values
func TestFlagBeatsFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.toml")
	content := `GenerationURL = "http://file.example.com"`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	flagURL := "http://flag.example.com"
	flags := CliFlags{
		ConfigFilePath: &cfgPath,
		GenerationURL:  &flagURL,
	}
	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.GenerationURL != flagURL {
		t.Errorf("Expected flag to beat file, got %q", cfg.GenerationURL)
	}
}

// TestEnvironmentOverride tests AVATARGEN-prefixed environment variables
func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("AVATARGEN_INFERENCEURL", "http://env.example.com")

	cfg, _, err := Initialize(CliFlags{})
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.InferenceURL != "http://env.example.com" {
		t.Errorf("Expected inference URL from environment, got %q", cfg.InferenceURL)
	}
}

// TestInvalidValuesFallBack tests that non-positive numeric settings are
// replaced with their defaults
func TestInvalidValuesFallBack(t *testing.T) {
	timeout := -5
	interval := 0
	flags := CliFlags{
		APIClientTimeoutSec: &timeout,
		PollIntervalMs:      &interval,
	}

	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.APIClientTimeoutSec != DefaultAPIClientTimeoutSec {
		t.Errorf("Expected timeout fallback %d, got %d", DefaultAPIClientTimeoutSec, cfg.APIClientTimeoutSec)
	}
	if cfg.PollIntervalMs != DefaultPollIntervalMs {
		t.Errorf("Expected poll interval fallback %d, got %d", DefaultPollIntervalMs, cfg.PollIntervalMs)
	}
}

// TestEmptyCachePathRejected tests validation of the cache path
func TestEmptyCachePathRejected(t *testing.T) {
	empty := ""
	flags := CliFlags{CachePath: &empty}

	_, _, err := Initialize(flags)
	if err == nil {
		t.Fatal("Expected error for empty cache path, got nil")
	}
}

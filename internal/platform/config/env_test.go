package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"FORMDESK_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("FORMDESK_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.env")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv returned error for missing file: %v", err)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "FORMDESK_DOTENV_FRESH=from-file\nFORMDESK_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("FORMDESK_DOTENV_SET", "from-env")
	t.Setenv("FORMDESK_DOTENV_FRESH", "")
	if err := os.Unsetenv("FORMDESK_DOTENV_FRESH"); err != nil {
		t.Fatalf("unset env: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("FORMDESK_DOTENV_FRESH"); got != "from-file" {
		t.Fatalf("FORMDESK_DOTENV_FRESH = %q, want %q", got, "from-file")
	}
	if got := os.Getenv("FORMDESK_DOTENV_SET"); got != "from-env" {
		t.Fatalf("FORMDESK_DOTENV_SET = %q, want %q", got, "from-env")
	}
}

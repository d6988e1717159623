package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigNoPathReturnsDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := defaultConfig()
	if cfg != want {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ftpd.toml")
	contents := `
listen = ":2200"
root = "/srv/ftp"
anon_write = true
pasv_min_port = 30000
pasv_max_port = 30100
login_throttle_policy = "ip"
login_throttle_window = "2m"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":2200" {
		t.Errorf("Listen = %q, want :2200", cfg.Listen)
	}
	if cfg.Root != "/srv/ftp" {
		t.Errorf("Root = %q, want /srv/ftp", cfg.Root)
	}
	if !cfg.AnonWrite {
		t.Error("expected AnonWrite = true")
	}
	if cfg.PasvMinPort != 30000 || cfg.PasvMaxPort != 30100 {
		t.Errorf("passive range = [%d, %d], want [30000, 30100]", cfg.PasvMinPort, cfg.PasvMaxPort)
	}
	if cfg.LoginThrottleWindow.Duration != 2*time.Minute {
		t.Errorf("LoginThrottleWindow = %v, want 2m", cfg.LoginThrottleWindow.Duration)
	}
	// Fields left unset in the file should retain their defaults.
	if cfg.MaxConnections != defaultConfig().MaxConnections {
		t.Errorf("MaxConnections = %d, want default %d", cfg.MaxConnections, defaultConfig().MaxConnections)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig("/nonexistent/ftpd.toml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParseThrottlePolicy(t *testing.T) {
	cases := map[string]bool{
		"":        true,
		"off":     true,
		"ip":      true,
		"user":    true,
		"ip+user": true,
		"bogus":   false,
	}
	for name, wantOK := range cases {
		if _, ok := parseThrottlePolicy(name); ok != wantOK {
			t.Errorf("parseThrottlePolicy(%q) ok = %v, want %v", name, ok, wantOK)
		}
	}
}

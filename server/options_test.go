package server

import (
	"crypto/tls"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testDriver(t *testing.T) Driver {
	t.Helper()
	driver, err := NewFSDriver(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSDriver: %v", err)
	}
	return driver
}

func TestDriverOptionRejectsSecondCall(t *testing.T) {
	driver := testDriver(t)

	s, err := NewServer(":0", WithDriver(driver))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if s.driver == nil {
		t.Fatal("driver was not stored")
	}

	if _, err := NewServer(":0", WithDriver(driver), WithDriver(driver)); err == nil {
		t.Error("expected an error when WithDriver is passed twice")
	}
}

func TestServerRequiresADriver(t *testing.T) {
	if _, err := NewServer(":0"); err == nil {
		t.Error("expected an error when no driver option is given")
	}
}

func TestWithTLSStoresConfig(t *testing.T) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	s := newTestServer(t, WithTLS(cfg))

	if s.tlsConfig == nil {
		t.Fatal("tlsConfig not set")
	}
	if s.tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %v, want TLS 1.2", s.tlsConfig.MinVersion)
	}
}

func TestWithLoggerReplacesDefault(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newTestServer(t, WithLogger(custom))

	if s.logger != custom {
		t.Error("custom logger was not installed")
	}
}

func TestWithMaxIdleTime(t *testing.T) {
	s := newTestServer(t, WithMaxIdleTime(10*time.Minute))
	if s.maxIdleTime != 10*time.Minute {
		t.Errorf("maxIdleTime = %v, want 10m", s.maxIdleTime)
	}
}

func TestWithMaxConnectionsAppliesBothLimits(t *testing.T) {
	s := newTestServer(t, WithMaxConnections(50, 10))
	if s.maxConnections != 50 {
		t.Errorf("maxConnections = %d, want 50", s.maxConnections)
	}
	if s.maxConnectionsPerIP != 10 {
		t.Errorf("maxConnectionsPerIP = %d, want 10", s.maxConnectionsPerIP)
	}
}

func TestWithMaxConnectionsZeroMeansUnlimited(t *testing.T) {
	s := newTestServer(t, WithMaxConnections(0, 0))
	if s.maxConnections != 0 || s.maxConnectionsPerIP != 0 {
		t.Errorf("expected both limits to stay 0, got %d/%d", s.maxConnections, s.maxConnectionsPerIP)
	}
}

func TestWithDisableMLSD(t *testing.T) {
	s := newTestServer(t, WithDisableMLSD(true))
	if !s.disableMLSD {
		t.Error("MLSD should be disabled")
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := newTestServer(t)

	checks := []struct {
		name string
		ok   bool
	}{
		{"logger set", s.logger != nil},
		{"idle timeout is 5m", s.maxIdleTime == 5*time.Minute},
		{"connection limit unset", s.maxConnections == 0},
		{"TLS disabled", s.tlsConfig == nil},
		{"MLSD enabled", !s.disableMLSD},
		{"welcome message default", s.welcomeMessage == "220 FTP Server Ready"},
		{"server name default", s.serverName == "UNIX Type: L8"},
		{"read timeout unset", s.readTimeout == 0},
		{"write timeout unset", s.writeTimeout == 0},
	}
	for _, c := range checks {
		if !c.ok {
			t.Errorf("default check failed: %s", c.name)
		}
	}
}

func TestWithWelcomeMessage(t *testing.T) {
	const msg = "220 Welcome to My FTP Server"
	s := newTestServer(t, WithWelcomeMessage(msg))
	if s.welcomeMessage != msg {
		t.Errorf("welcomeMessage = %q, want %q", s.welcomeMessage, msg)
	}
}

func TestWithServerName(t *testing.T) {
	const name = "Windows_NT"
	s := newTestServer(t, WithServerName(name))
	if s.serverName != name {
		t.Errorf("serverName = %q, want %q", s.serverName, name)
	}
}

func TestWithReadTimeout(t *testing.T) {
	s := newTestServer(t, WithReadTimeout(30*time.Second))
	if s.readTimeout != 30*time.Second {
		t.Errorf("readTimeout = %v, want 30s", s.readTimeout)
	}
}

func TestWithWriteTimeout(t *testing.T) {
	s := newTestServer(t, WithWriteTimeout(30*time.Second))
	if s.writeTimeout != 30*time.Second {
		t.Errorf("writeTimeout = %v, want 30s", s.writeTimeout)
	}
}

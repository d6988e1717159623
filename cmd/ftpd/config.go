package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// config is the shape of the TOML file passed via --config. Every field has
// a sane zero value so a config file only needs to set what it wants to
// change from the flag/CLI defaults.
type config struct {
	Listen string `toml:"listen"`

	Root        string `toml:"root"`
	AnonWrite   bool   `toml:"anon_write"`
	NoAnonymous bool   `toml:"no_anonymous"`
	Umask       uint32 `toml:"umask"`

	PublicHost  string `toml:"public_host"`
	PasvMinPort int    `toml:"pasv_min_port"`
	PasvMaxPort int    `toml:"pasv_max_port"`
	PasvPooled  bool   `toml:"pasv_pooled"`

	TLSCert     string `toml:"tls_cert"`
	TLSKey      string `toml:"tls_key"`
	TLSClientCA string `toml:"tls_client_ca"`

	MaxConnections      int `toml:"max_connections"`
	MaxConnectionsPerIP int `toml:"max_connections_per_ip"`

	BandwidthLimit        int64 `toml:"bandwidth_limit"`
	PerUserBandwidthLimit int64 `toml:"per_user_bandwidth_limit"`

	IdleTimeout  duration `toml:"idle_timeout"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`

	RedactIPs     bool `toml:"redact_ips"`
	ProxyProtocol bool `toml:"proxy_protocol"`

	LoginThrottlePolicy      string   `toml:"login_throttle_policy"`
	LoginThrottleMaxAttempts int      `toml:"login_throttle_max_attempts"`
	LoginThrottleWindow      duration `toml:"login_throttle_window"`
	LoginThrottleLockFor     duration `toml:"login_throttle_lock_for"`

	MetricsAddr string `toml:"metrics_addr"`

	WelcomeMessage string `toml:"welcome_message"`
	ServerName     string `toml:"server_name"`
}

// duration lets a TOML file write "30s"/"5m" instead of raw nanoseconds,
// following the same string-based marshaling BurntSushi/toml exposes for
// any type that implements encoding.TextUnmarshaler.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func defaultConfig() config {
	return config{
		Listen:                   ":2121",
		Root:                     ".",
		MaxConnections:           100,
		MaxConnectionsPerIP:      10,
		LoginThrottlePolicy:      "off",
		LoginThrottleMaxAttempts: 5,
		LoginThrottleWindow:      duration{5 * time.Minute},
		LoginThrottleLockFor:     duration{15 * time.Minute},
		ServerName:               "ftpd",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Command ftpd runs the goftpd server against a filesystem root, wiring
// every option server.Server exposes to either a TOML config file or the
// equivalent command-line flag.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/goftpd/ftpd/internal/switchboard"
	"github.com/goftpd/ftpd/internal/throttle"
	"github.com/goftpd/ftpd/metrics/gometrics"
	"github.com/goftpd/ftpd/server"
)

func main() {
	app := &cli.App{
		Name:  "ftpd",
		Usage: "run a goftpd FTP/FTPS server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load settings from a TOML file"},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "address to listen on"},
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "filesystem root to serve"},
			&cli.BoolFlag{Name: "anon-write", Usage: "allow anonymous users to write"},
			&cli.BoolFlag{Name: "no-anonymous", Usage: "disable anonymous login"},
			&cli.StringFlag{Name: "public-host", Usage: "address advertised in PASV replies"},
			&cli.IntFlag{Name: "pasv-min-port", Usage: "lower bound of the passive port range"},
			&cli.IntFlag{Name: "pasv-max-port", Usage: "upper bound of the passive port range"},
			&cli.StringFlag{Name: "tls-cert", Usage: "TLS certificate file, enables AUTH TLS"},
			&cli.StringFlag{Name: "tls-key", Usage: "TLS private key file"},
			&cli.StringFlag{Name: "tls-client-ca", Usage: "CA bundle for mutual TLS client certificates"},
			&cli.BoolFlag{Name: "proxy-protocol", Usage: "expect a PROXY protocol v1/v2 header on every connection"},
			&cli.BoolFlag{Name: "redact-ips", Usage: "mask client addresses in logs"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "address to serve a JSON metrics snapshot on"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress the startup banner"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("ftpd: %v", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	applyFlagOverrides(c, &cfg)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	if !c.Bool("quiet") {
		printBanner(cfg)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, server.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-sig:
		logger.Info("shutdown_signal_received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := srv.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown: %w", err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, server.ErrServerClosed) {
		result = multierror.Append(result, fmt.Errorf("serve: %w", err))
	}
	return result.ErrorOrNil()
}

func applyFlagOverrides(c *cli.Context, cfg *config) {
	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	if v := c.String("root"); v != "" {
		cfg.Root = v
	}
	if c.Bool("anon-write") {
		cfg.AnonWrite = true
	}
	if c.Bool("no-anonymous") {
		cfg.NoAnonymous = true
	}
	if v := c.String("public-host"); v != "" {
		cfg.PublicHost = v
	}
	if v := c.Int("pasv-min-port"); v != 0 {
		cfg.PasvMinPort = v
	}
	if v := c.Int("pasv-max-port"); v != 0 {
		cfg.PasvMaxPort = v
	}
	if v := c.String("tls-cert"); v != "" {
		cfg.TLSCert = v
	}
	if v := c.String("tls-key"); v != "" {
		cfg.TLSKey = v
	}
	if v := c.String("tls-client-ca"); v != "" {
		cfg.TLSClientCA = v
	}
	if c.Bool("proxy-protocol") {
		cfg.ProxyProtocol = true
	}
	if c.Bool("redact-ips") {
		cfg.RedactIPs = true
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
}

func buildServer(cfg config, logger *slog.Logger) (*server.Server, error) {
	fsOpts := []server.FSDriverOption{
		server.WithAnonWrite(cfg.AnonWrite),
		server.WithDisableAnonymous(cfg.NoAnonymous),
		server.WithSettings(&server.Settings{
			PublicHost:  cfg.PublicHost,
			PasvMinPort: cfg.PasvMinPort,
			PasvMaxPort: cfg.PasvMaxPort,
			Umask:       os.FileMode(cfg.Umask),
		}),
	}

	driver, err := server.NewFSDriver(cfg.Root, fsOpts...)
	if err != nil {
		return nil, fmt.Errorf("filesystem driver: %w", err)
	}

	collector := gometrics.New()
	if cfg.MetricsAddr != "" {
		startMetricsServer(cfg.MetricsAddr, collector, logger)
	}

	opts := []server.Option{
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithServerName(cfg.ServerName),
		server.WithMaxConnections(cfg.MaxConnections, cfg.MaxConnectionsPerIP),
		server.WithRedactIPs(cfg.RedactIPs),
		server.WithProxyProtocol(cfg.ProxyProtocol),
		server.WithMetricsCollector(collector),
	}
	if cfg.WelcomeMessage != "" {
		opts = append(opts, server.WithWelcomeMessage(cfg.WelcomeMessage))
	}
	if cfg.BandwidthLimit > 0 {
		opts = append(opts, server.WithBandwidthLimit(cfg.BandwidthLimit))
	}
	if cfg.PerUserBandwidthLimit > 0 {
		opts = append(opts, server.WithPerUserBandwidthLimit(cfg.PerUserBandwidthLimit))
	}
	if cfg.IdleTimeout.Duration > 0 {
		opts = append(opts, server.WithMaxIdleTime(cfg.IdleTimeout.Duration))
	}
	if cfg.ReadTimeout.Duration > 0 {
		opts = append(opts, server.WithReadTimeout(cfg.ReadTimeout.Duration))
	}
	if cfg.WriteTimeout.Duration > 0 {
		opts = append(opts, server.WithWriteTimeout(cfg.WriteTimeout.Duration))
	}
	if cfg.PasvMinPort > 0 && cfg.PasvMaxPort > 0 {
		mode := switchboard.OnDemand
		if cfg.PasvPooled {
			mode = switchboard.Pooled
		}
		opts = append(opts, server.WithPassivePortRange(cfg.PasvMinPort, cfg.PasvMaxPort, mode))
	}
	if policy, ok := parseThrottlePolicy(cfg.LoginThrottlePolicy); ok && policy != throttle.Off {
		opts = append(opts, server.WithLoginThrottle(policy, cfg.LoginThrottleMaxAttempts,
			cfg.LoginThrottleWindow.Duration, cfg.LoginThrottleLockFor.Duration))
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		var tlsOpts []server.TLSConfigOption
		if cfg.TLSClientCA != "" {
			tlsOpts = append(tlsOpts, server.WithClientCA(cfg.TLSClientCA))
		}
		tlsCfg, err := server.NewTLSConfig(cfg.TLSCert, cfg.TLSKey, tlsOpts...)
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		opts = append(opts, server.WithTLS(tlsCfg))
	}

	srv, err := server.NewServer(cfg.Listen, opts...)
	if err != nil {
		return nil, fmt.Errorf("new server: %w", err)
	}

	return srv, nil
}

func parseThrottlePolicy(name string) (throttle.Policy, bool) {
	switch name {
	case "", "off":
		return throttle.Off, true
	case "ip":
		return throttle.ByIP, true
	case "user":
		return throttle.ByUser, true
	case "ip+user":
		return throttle.ByIPAndUser, true
	default:
		return throttle.Off, false
	}
}

func printBanner(cfg config) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("goftpd")
	fmt.Printf("  listening on %s\n", cfg.Listen)
	fmt.Printf("  root:        %s\n", cfg.Root)
	if cfg.TLSCert != "" {
		color.Green("  TLS:         enabled (%s)", cfg.TLSCert)
	} else {
		color.Yellow("  TLS:         disabled")
	}
}

// ABOUTME: The serve command: starts the MCP endpoint with session management.
// ABOUTME: Flags override the YAML config; auth strategy is selected here.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anpkit/anp-bridge/internal/auth"
	"github.com/anpkit/anp-bridge/internal/config"
	"github.com/anpkit/anp-bridge/internal/didauth"
	"github.com/anpkit/anp-bridge/internal/mcp"
	"github.com/anpkit/anp-bridge/internal/session"
)

const banner = `
  __ _ _ __  _ __        | |__  _ __(_) __| | __ _  ___
 / _' | '_ \| '_ \ _____ | '_ \| '__| |/ _' |/ _' |/ _ \
| (_| | | | | |_) |_____|| |_) | |  | | (_| | (_| |  __/
 \__,_|_| |_| .__/       |_.__/|_|  |_|\__,_|\__, |\___|
            |_|                              |___/
`

type serveFlags struct {
	configPath      string
	host            string
	port            int
	logLevel        string
	authMode        string
	authToken       string
	verifyURL       string
	sessionTimeout  time.Duration
	cleanupInterval time.Duration
	didDocPath      string
	didKeyPath      string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the anp-bridge MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&flags.host, "host", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.authMode, "auth-mode", "", "auth strategy: none, token, remote")
	cmd.Flags().StringVar(&flags.authToken, "auth-token", "", "fixed bearer token (implies --auth-mode token)")
	cmd.Flags().StringVar(&flags.verifyURL, "verify-url", "", "remote verification endpoint (implies --auth-mode remote)")
	cmd.Flags().DurationVar(&flags.sessionTimeout, "session-timeout", 0, "idle session lifetime")
	cmd.Flags().DurationVar(&flags.cleanupInterval, "cleanup-interval", 0, "expired session sweep interval")
	cmd.Flags().StringVar(&flags.didDocPath, "did-document", "", "default DID document path")
	cmd.Flags().StringVar(&flags.didKeyPath, "did-private-key", "", "default DID private key path")

	return cmd
}

// loadConfig merges the YAML config (if any) with CLI flag overrides.
func loadConfig(flags *serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.host != "" {
		cfg.Server.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.authToken != "" {
		cfg.Auth.Mode = config.AuthModeToken
		cfg.Auth.Token = flags.authToken
	}
	if flags.verifyURL != "" {
		cfg.Auth.Mode = config.AuthModeRemote
		cfg.Auth.VerifyURL = flags.verifyURL
	}
	if flags.authMode != "" {
		cfg.Auth.Mode = config.AuthMode(flags.authMode)
	}
	if flags.sessionTimeout > 0 {
		cfg.Session.Timeout = flags.sessionTimeout
	}
	if flags.cleanupInterval > 0 {
		cfg.Session.CleanupInterval = flags.cleanupInterval
	}
	if flags.didDocPath != "" {
		cfg.DID.DocumentPath = flags.didDocPath
	}
	if flags.didKeyPath != "" {
		cfg.DID.PrivateKeyPath = flags.didKeyPath
	}

	// Environment fallbacks for the default credential, matching the
	// documented deployment knobs.
	if cfg.DID.DocumentPath == "" {
		cfg.DID.DocumentPath = os.Getenv("ANP_DID_DOCUMENT_PATH")
	}
	if cfg.DID.PrivateKeyPath == "" {
		cfg.DID.PrivateKeyPath = os.Getenv("ANP_DID_PRIVATE_KEY_PATH")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newResolver builds the credential resolver selected by the auth config.
func newResolver(cfg *config.Config, logger *slog.Logger) (auth.Resolver, error) {
	defaultCred := didauth.Credential{
		DocumentPath:   cfg.DID.DocumentPath,
		PrivateKeyPath: cfg.DID.PrivateKeyPath,
	}

	switch cfg.Auth.Mode {
	case config.AuthModeNone:
		return &auth.StaticResolver{Credential: defaultCred}, nil
	case config.AuthModeToken:
		return &auth.FixedTokenResolver{
			Secret:     cfg.Auth.Token,
			Credential: defaultCred,
			Logger:     logger,
		}, nil
	case config.AuthModeRemote:
		resolver := auth.NewRemoteResolver(cfg.Auth.VerifyURL, cfg.Auth.Timeout, logger)
		if cfg.Auth.APIKeyHeader != "" {
			resolver.Header = cfg.Auth.APIKeyHeader
		}
		return resolver, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	color.Cyan(banner)
	color.White("anp-bridge %s", version)
	fmt.Println()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	store := session.NewStore(session.StoreConfig{
		Timeout:    cfg.Session.Timeout,
		ANPTimeout: cfg.ANP.RequestTimeout,
		Logger:     logger,
	})
	janitor := session.NewJanitor(store, cfg.Session.CleanupInterval, logger)

	resolver, err := newResolver(cfg, logger)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(mcp.Config{
		Store:    store,
		Resolver: resolver,
		Logger:   logger,
		Version:  version,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	janitor.Start()
	defer janitor.Stop()

	logger.Info("starting anp-bridge",
		"addr", addr,
		"auth_mode", cfg.Auth.Mode,
		"session_timeout", cfg.Session.Timeout,
		"cleanup_interval", cfg.Session.CleanupInterval,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx := cmd.Context()
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	return nil
}

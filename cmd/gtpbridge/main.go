// Command gtpbridge connects an online Go server to one or more local GTP
// engine processes. It loads a YAML configuration file, spawns the
// configured engine pools, authenticates to the server, and serves games
// until signaled.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/tripwire/gtpbridge/internal/adminhttp"
	"github.com/tripwire/gtpbridge/internal/admission"
	"github.com/tripwire/gtpbridge/internal/config"
	"github.com/tripwire/gtpbridge/internal/enginepool"
	"github.com/tripwire/gtpbridge/internal/gtp"
	"github.com/tripwire/gtpbridge/internal/serverconn"
	"github.com/tripwire/gtpbridge/internal/session"
	"github.com/tripwire/gtpbridge/internal/translog"
)

func main() {
	configPath := flag.String("config", "/etc/gtpbridge/config.yaml", "path to the bridge's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gtpbridge: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pools, err := spawnPools(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to spawn engine pools", "error", err)
		os.Exit(1)
	}
	defer pools.KillAll()

	tlog, err := translog.Open(cfg.TranscriptDBPath)
	if err != nil {
		logger.Error("failed to open transcript log", "error", err)
		os.Exit(1)
	}
	defer tlog.Close()

	transport, err := serverconn.NewWSTransport(cfg.ServerURL, logger)
	if err != nil {
		logger.Error("failed to construct server transport", "error", err)
		os.Exit(1)
	}
	rest := serverconn.NewHTTPRESTClient(cfg.APIBaseURL, cfg.APIKey, logger)

	creds := session.Credentials{Username: cfg.Username, APIKey: cfg.APIKey, Hidden: cfg.Hidden}
	controller := session.New(creds, admitConfigFrom(cfg), transport, rest, pools, tlog, logger)

	adminJWTKey, err := loadAdminJWTKey(cfg.AdminJWTPublicKeyPath)
	if err != nil {
		logger.Error("failed to load admin JWT public key", "error", err)
		os.Exit(1)
	}
	adminRouter := adminhttp.NewRouter(controller, adminJWTKey)
	adminServer := &http.Server{
		Addr:         cfg.AdminHTTPAddr,
		Handler:      adminRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin http server listening", "addr", cfg.AdminHTTPAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server error", "error", err)
		}
	}()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- controller.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-runErrCh:
		switch {
		case err == nil || err == context.Canceled:
		case errors.Is(err, session.ErrAuthFailed):
			logger.Error("authentication rejected by server, exiting", "error", err)
			exitCode = 1
		default:
			logger.Error("session controller exited unexpectedly", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin http server shutdown error", "error", err)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logger.Info("gtpbridge exited cleanly")
}

// loadAdminJWTKey parses the RSA public key at path, if configured. An empty
// path disables the admin HTTP surface's JWT guard entirely.
func loadAdminJWTKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := pub.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%s: not an RSA public key", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: not a PKIX public key or certificate: %w", path, err)
	}
	rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s: certificate public key is not RSA", path)
	}
	return rsaKey, nil
}

func spawnPools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*enginepool.Set, error) {
	set := &enginepool.Set{}

	main, err := enginepool.New(ctx, enginepool.RoleMain, gtp.Spec{Name: "main", Argv: cfg.BotCommand, JSON: cfg.JSON}, cfg.PoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("main pool: %w", err)
	}
	set.Main = main

	if len(cfg.OpeningBot) > 0 {
		p, err := enginepool.New(ctx, enginepool.RoleOpening, gtp.Spec{Name: "opening", Argv: cfg.OpeningBot, JSON: cfg.JSON}, cfg.PoolSize, logger)
		if err != nil {
			return nil, fmt.Errorf("opening pool: %w", err)
		}
		set.Opening = p
	}
	if len(cfg.EndingBot) > 0 {
		p, err := enginepool.New(ctx, enginepool.RoleEnding, gtp.Spec{Name: "ending", Argv: cfg.EndingBot, JSON: cfg.JSON}, cfg.PoolSize, logger)
		if err != nil {
			return nil, fmt.Errorf("ending pool: %w", err)
		}
		set.Ending = p
	}
	if len(cfg.ResignBot) > 0 {
		p, err := enginepool.New(ctx, enginepool.RoleResignCheck, gtp.Spec{Name: "resign-check", Argv: cfg.ResignBot, JSON: cfg.JSON}, cfg.PoolSize, logger)
		if err != nil {
			return nil, fmt.Errorf("resign-check pool: %w", err)
		}
		set.ResignCheck = p
	}

	return set, nil
}

func admitConfigFrom(cfg *config.Config) admission.Config {
	systems := make(map[string]bool, len(cfg.AllowedTimeControlSystems))
	for _, s := range cfg.AllowedTimeControlSystems {
		systems[s] = true
	}
	blacklist := make(map[int64]bool, len(cfg.Blacklist))
	for _, id := range cfg.Blacklist {
		blacklist[id] = true
	}
	whitelist := make(map[int64]bool, len(cfg.Whitelist))
	for _, id := range cfg.Whitelist {
		whitelist[id] = true
	}

	return admission.Config{
		Blacklist:                 blacklist,
		Whitelist:                 whitelist,
		AllowedTimeControlSystems: systems,
		BoardSizes: admission.BoardSizePolicy{
			Mode:  cfg.AllowedBoardSizes.Mode,
			Sizes: cfg.AllowedBoardSizes.Sizes,
		},
		AllowHandicap: cfg.AllowHandicap,
		AllowUnranked: cfg.AllowUnranked,
		Blitz:         speedSettingsFrom(cfg.AllowedBlitzSettings),
		Live:          speedSettingsFrom(cfg.AllowedLiveSettings),
		Correspondence: speedSettingsFrom(cfg.AllowedCorrespondenceSettings),
	}
}

func speedSettingsFrom(s config.SpeedSettingsConfig) admission.SpeedSettings {
	toRange := func(r []int) admission.Range {
		if len(r) != 2 {
			return admission.Range{}
		}
		return admission.Range{Min: r[0], Max: r[1]}
	}
	return admission.SpeedSettings{
		Allowed:          s.Allowed,
		ConcurrentGames:  s.ConcurrentGames,
		PerMoveTimeRange: toRange(s.PerMoveTimeRange),
		MainTimeRange:    toRange(s.MainTimeRange),
		PeriodsRange:     toRange(s.PeriodsRange),
	}
}

func printBanner(cfg *config.Config) {
	bold := color.New(color.FgCyan, color.Bold)
	bold.Printf("gtpbridge")
	fmt.Printf(" starting as %s\n", cfg.Username)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case cfg.Verbosity >= 2:
		level = slog.LevelDebug
	case cfg.Debug:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

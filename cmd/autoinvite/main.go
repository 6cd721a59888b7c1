// Command autoinvite sends store invitations to every creator listed on a
// paginated back-office page, skipping creators already handled by an
// earlier run.
//
// Usage:
//
//	autoinvite -config config.yaml                    # run
//	autoinvite -config config.yaml -max-pages 3       # stop after three pages
//	autoinvite -config config.yaml -check             # validate the config and exit
//	autoinvite -config config.yaml -inspect '.card'   # count selector matches on the start page
//	autoinvite -config config.yaml -inspect "xpath://button[text()='下一页']"
//	autoinvite -config config.yaml -dump-dom debug/page.html -find-text 邀请带货
//
// The first SIGINT lets the item in progress finish and stops the run; a
// second one kills the process.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hazyhaar/autoinvite/bot"
	"github.com/hazyhaar/autoinvite/config"
	"github.com/hazyhaar/autoinvite/dbopen"
	"github.com/hazyhaar/autoinvite/idgen"
	"github.com/hazyhaar/autoinvite/internal/browser"
	"github.com/hazyhaar/autoinvite/ledger"
	"github.com/hazyhaar/autoinvite/observability"
	"github.com/hazyhaar/autoinvite/pager"
)

type flags struct {
	configPath string
	url        string
	maxPages   int
	logLevel   string
	check      bool
	inspect    string
	dumpDOM    string
	findText   string
	waitLogin  bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "path to the YAML (or legacy JSON) config file")
	flag.StringVar(&f.url, "url", "", "start page, overrides start_url")
	flag.IntVar(&f.maxPages, "max-pages", -1, "page cap, overrides max_pages (0 means no cap)")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&f.check, "check", false, "validate the config file and exit")
	flag.StringVar(&f.inspect, "inspect", "", "print the start page elements matching a selector (css, or by:value such as xpath://a) and exit")
	flag.StringVar(&f.dumpDOM, "dump-dom", "", "save the rendered start page to this file and exit")
	flag.StringVar(&f.findText, "find-text", "", "with -dump-dom, list elements containing this text")
	flag.BoolVar(&f.waitLogin, "wait-login", false, "after opening the start page, wait for Enter (log in by hand first)")
	flag.Parse()

	if f.check {
		if !config.Check(f.configPath, os.Stdout) {
			os.Exit(1)
		}
		return
	}

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(f, logger)
	if err != nil {
		logger.Error("autoinvite: config", "error", err)
		os.Exit(1)
	}

	if cfg.LogFile != "" {
		lf, err := openLogFile(cfg.LogFile)
		if err != nil {
			logger.Warn("autoinvite: log file unavailable, logging to stderr only", "path", cfg.LogFile, "error", err)
		} else {
			defer lf.Close()
			logger = slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stderr, lf), &slog.HandlerOptions{Level: level}))
		}
	}
	runID := idgen.RunID(time.Now)()
	logger = logger.With("run_id", runID)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		// Default handling is back in place: a second interrupt kills us.
		signal.Stop(sigs)
		logger.Warn("autoinvite: interrupt received, finishing the current item", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, logger, cfg, f, runID); err != nil {
		logger.Error("autoinvite: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(f flags, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.LoadFile(f.configPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("autoinvite: config file not found, using defaults", "path", f.configPath)
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	if f.url != "" {
		cfg.StartURL = f.url
	}
	if f.maxPages >= 0 {
		cfg.MaxPages = f.maxPages
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("autoinvite: config warning", "warning", w)
	}
	if err != nil {
		return nil, err
	}
	if cfg.StartURL == "" {
		return nil, errors.New("no start page: set start_url or pass -url")
	}
	return cfg, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, f flags, runID string) error {
	logger.Info("autoinvite: starting", "start_url", cfg.StartURL, "max_pages", cfg.MaxPages)

	mgr := browser.NewManager(browser.Config{
		RemoteURL:   cfg.RemoteURL,
		Headless:    cfg.Headless,
		XvfbDisplay: cfg.XvfbDisplay,
		WindowSize:  cfg.WindowSize,
		Logger:      logger,
	})
	b, err := mgr.Start(ctx)
	if err != nil {
		mgr.Close()
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn("autoinvite: browser close", "error", err)
		}
		logger.Info("autoinvite: browser closed")
	}()

	sess, err := browser.OpenSession(b, browser.SessionConfig{
		UserAgent:        cfg.UserAgent,
		PageLoadTimeout:  cfg.PageLoadTimeout.D(),
		ImplicitWait:     cfg.ImplicitWait.D(),
		ResourceBlocking: cfg.ResourceBlocking,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, cfg.StartURL); err != nil {
		return err
	}
	logger.Info("autoinvite: start page open", "url", sess.URL())
	if f.waitLogin {
		if err := waitForEnter(ctx, "Log in and open the list page in the browser window, then press Enter..."); err != nil {
			return err
		}
	}

	switch {
	case f.inspect != "":
		_, err := bot.Inspect(ctx, sess, f.inspect, os.Stdout)
		return err
	case f.dumpDOM != "":
		return bot.DumpDOM(ctx, sess, f.dumpDOM, f.findText, os.Stdout)
	}

	var dbOpts []dbopen.Option
	if logger.Enabled(ctx, slog.LevelDebug) {
		dbOpts = append(dbOpts, dbopen.WithTrace(logger))
	}
	store, err := ledger.OpenStore(cfg.RecordFile, dbOpts...)
	if err != nil {
		return err
	}
	led := ledger.Open(ctx, store, ledger.WithLogger(logger), ledger.WithRetryFailed(cfg.RetryFailed))
	defer led.Close()

	opts := bot.Options{Logger: logger}
	if cfg.EventDB != "" {
		events, db, err := observability.Open(cfg.EventDB, runID,
			observability.WithLogger(logger), observability.WithDBOptions(dbOpts...))
		if err != nil {
			logger.Warn("autoinvite: event log unavailable", "path", cfg.EventDB, "error", err)
		} else {
			defer db.Close()
			if n, err := observability.Cleanup(ctx, db, cfg.EventRetentionDays); err != nil {
				logger.Warn("autoinvite: event cleanup", "error", err)
			} else if n > 0 {
				logger.Info("autoinvite: old events pruned", "rows", n)
			}
			opts.Events = events
			opts.Metrics = observability.NewMetrics(db, runID, 50, logger)
		}
	}

	engine, err := bot.New(cfg, sess, led, opts)
	if err != nil {
		return err
	}
	rep := engine.Run(ctx, cfg.MaxPages)
	if rep.Reason == pager.StopFault {
		return rep.Err
	}
	return nil
}

func waitForEnter(ctx context.Context, prompt string) error {
	fmt.Println(prompt)
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(os.Stdin).ReadString('\n')
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}

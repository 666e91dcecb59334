// Command opsbridge runs the chat-to-CLI relay: it listens to the chat
// platform's event stream, manages Claude CLI sessions per thread, runs
// automated alert investigations, and serves a small operational API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/opsbridge/internal/chat"
	"github.com/asheshgoplani/opsbridge/internal/claude"
	"github.com/asheshgoplani/opsbridge/internal/config"
	"github.com/asheshgoplani/opsbridge/internal/logging"
	"github.com/asheshgoplani/opsbridge/internal/pager"
	"github.com/asheshgoplani/opsbridge/internal/session"
	"github.com/asheshgoplani/opsbridge/internal/store"
	"github.com/asheshgoplani/opsbridge/internal/web"
)

const Version = "0.3.1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "opsbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "config file path (default ~/.opsbridge/config.toml)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("opsbridge", Version)
		return nil
	}

	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		LogDir: cfg.Log.Dir,
		Level:  cfg.Log.Level,
	})
	defer logging.Shutdown()
	log := logging.Logger()
	log.Info("starting", slog.String("version", Version), slog.String("config", path))

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("home directory: %w", err)
	}
	db, err := store.Open(filepath.Join(home, config.DefaultDirName, "state.db"))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	launcher, err := claude.NewLauncher(claude.Options{
		Binary:  cfg.Claude.Binary,
		Model:   cfg.Claude.Model,
		WorkDir: cfg.Claude.WorkDir,
	})
	if err != nil {
		return err
	}
	runner := session.NewRunner(launcher)

	client := chat.NewClient(chat.ClientOptions{
		BaseURL:  cfg.Chat.APIURL,
		Token:    cfg.Chat.BotToken,
		PostRate: cfg.Chat.PostRate,
	})

	manager := session.NewManager(cfg.Session, cfg.Chat.BotUserID, client, runner, db)
	if n, err := manager.Restore(); err != nil {
		log.Warn("session_restore_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("warm_restart", slog.Int("sessions", n))
	}

	workflows := session.NewWorkflowManager(cfg.Session, client, runner, pager.NewClient(cfg.Pager.AckURL))
	router := chat.NewRouter(cfg.Chat.BotUserID, manager, workflows)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Live log-level changes via config reload; everything else needs a
	// restart.
	if watcher, err := config.NewWatcher(path, func(next *config.Config) {
		logging.SetLevel(next.Log.Level)
	}); err != nil {
		log.Warn("config_watch_unavailable", slog.String("error", err.Error()))
	} else {
		go watcher.Start()
		defer watcher.Stop()
	}

	events := chat.NewEventClient(cfg.Chat.WebsocketURL, cfg.Chat.BotToken, func(ev chat.Event) {
		router.Handle(ctx, ev)
	})
	srv := web.NewServer(web.Config{ListenAddr: cfg.Web.ListenAddr, Token: cfg.Web.Token}, manager)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return events.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	log.Info("shutting_down")
	manager.KillAll()
	workflows.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

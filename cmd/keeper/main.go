// Command keeper runs the Call of Cthulhu keeper server, or a terminal
// viewer for a running server's event stream.
//
// Usage:
//
//	keeper serve [-config keeper.yaml]
//	keeper watch [-url http://localhost:8080/api/events] [-session id]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/events"
	"github.com/keeperhq/keeper/internal/illustrate"
	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/server"
	"github.com/keeperhq/keeper/internal/session"
	"github.com/keeperhq/keeper/internal/store"
	"github.com/keeperhq/keeper/internal/watchui"
)

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "watch":
		err = runWatch(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve or watch)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "keeper.yaml", "path to config file")
	pretty := fs.Bool("pretty", config.EnvFlag("KEEPER_PRETTY_LOG", false), "human-readable log output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel, *pretty)

	conf, err := config.NewManager(*configPath, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := conf.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	db, err := store.Open(filepath.Join(cfg.DataDir, "keeper.db"), log)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := events.NewBroker(64)
	sessions := session.NewManager(session.Deps{
		LLM:    llm.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey),
		Images: illustrate.NewGenerator(cfg.StableDiffusionURL, cfg.PublicDir, log),
		Broker: broker,
		Store:  db,
		Config: conf.Current,
		Log:    log,
	})

	autosave := cron.New()
	if spec := cfg.Autosave; spec != "" {
		if _, err := autosave.AddFunc(spec, func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sessions.SnapshotAll(saveCtx)
		}); err != nil {
			return fmt.Errorf("autosave schedule %q: %w", spec, err)
		}
		autosave.Start()
		defer autosave.Stop()
	}

	srv := server.New(sessions, broker, conf.Current, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	sessions.CloseAll(shutdownCtx)
	broker.Close()
	return nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	rawURL := fs.String("url", "http://localhost:8080/api/events", "server events URL")
	sessionID := fs.String("session", "", "only show events for this session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	streamURL := *rawURL
	if *sessionID != "" {
		u, err := url.Parse(streamURL)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		q.Set("session", *sessionID)
		u.RawQuery = q.Encode()
		streamURL = u.String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(watchui.NewModel(streamURL), tea.WithAltScreen())
	go func() {
		if err := watchui.Stream(ctx, streamURL, p); err != nil && ctx.Err() == nil {
			// The model shows the error; quitting is up to the user.
			return
		}
	}()

	_, err := p.Run()
	return err
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var w = os.Stderr
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

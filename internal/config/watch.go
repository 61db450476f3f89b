package config

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	yaml "go.yaml.in/yaml/v3"
)

// Manager holds the current config and re-parses the file on change.
// Subscribers receive the new config only when the content actually
// changed and validated; bad edits are logged and ignored so a typo never
// takes the running server down.
type Manager struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	cfg *Config

	subsMu sync.Mutex
	subs   []chan *Config

	// lastHash avoids redundant publishes when editors fire several write
	// events without content changes.
	lastHash uint64
}

// NewManager loads the initial config from path.
func NewManager(path string, log zerolog.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:     path,
		log:      log.With().Str("component", "config").Logger(),
		cfg:      cfg,
		lastHash: hashConfig(cfg),
	}, nil
}

// Current returns the active config.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving each committed config change.
func (m *Manager) Subscribe() <-chan *Config {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	ch := make(chan *Config, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// Watch re-parses the config whenever the file changes, until ctx is done.
// Watching the parent directory also catches atomic rename-style saves.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug().Str("dir", dir).Msg("watching config")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.log.Error().Err(err).Msg("config change rejected")
		return
	}
	h := hashConfig(cfg)

	m.mu.Lock()
	if h == m.lastHash {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	m.lastHash = h
	m.mu.Unlock()

	m.log.Info().Msg("config reloaded")
	m.publish(cfg)
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

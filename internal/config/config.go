package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// Connection is one stored endpoint.
type Connection struct {
	URI         string `toml:"uri"`
	Autoconnect bool   `toml:"autoconnect"`
}

// fileConfig is the on-disk TOML shape.
type fileConfig struct {
	PollIntervalSeconds int          `toml:"poll_interval_seconds"`
	BackgroundPresence  bool         `toml:"background_presence"`
	Connections         []Connection `toml:"connections"`
}

const (
	defaultConfigPath  = "~/.config/virtui/config.toml"
	defaultPollSeconds = 3
	minPollSeconds     = 1
	rewatchDelay       = 100 * time.Millisecond
	selfWriteQuietTime = 250 * time.Millisecond
)

// Store is the persistent application configuration. Reads and writes go
// through the store; edits made externally to the file are picked up by
// Watch and announced through OnChange.
type Store struct {
	log  *zap.Logger
	path string

	mu        sync.Mutex
	cfg       fileConfig
	lastSave  time.Time
	nextSub   int
	onChange  map[int]func()
	closeOnce sync.Once
	closed    chan struct{}
}

// Load reads the config at path (the default location when path is
// empty), falling back to in-memory defaults when the file does not
// exist yet.
func Load(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		log:      log,
		path:     resolved,
		onChange: make(map[int]func()),
		closed:   make(chan struct{}),
	}
	s.cfg = defaults()
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaults() fileConfig {
	return fileConfig{PollIntervalSeconds: defaultPollSeconds}
}

// Path returns the resolved config file location.
func (s *Store) Path() string { return s.path }

func (s *Store) reload() error {
	bytes, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(bytes, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if cfg.PollIntervalSeconds < minPollSeconds {
		cfg.PollIntervalSeconds = defaultPollSeconds
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// save writes the current config back to disk, creating the parent
// directory on first save.
func (s *Store) save() {
	s.mu.Lock()
	cfg := s.cfg
	cfg.Connections = append([]Connection(nil), s.cfg.Connections...)
	s.lastSave = time.Now()
	s.mu.Unlock()

	bytes, err := toml.Marshal(cfg)
	if err != nil {
		s.log.Error("marshal config", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Error("create config dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.path, bytes, 0o600); err != nil {
		s.log.Error("write config", zap.Error(err))
	}
}

// PollInterval returns the background poll period.
func (s *Store) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.cfg.PollIntervalSeconds) * time.Second
}

// SetPollInterval stores and persists a new poll period.
func (s *Store) SetPollInterval(d time.Duration) {
	secs := int(d / time.Second)
	if secs < minPollSeconds {
		secs = minPollSeconds
	}
	s.mu.Lock()
	changed := s.cfg.PollIntervalSeconds != secs
	s.cfg.PollIntervalSeconds = secs
	s.mu.Unlock()
	if changed {
		s.save()
		s.fireChange()
	}
}

// BackgroundPresence reports whether the app stays resident with no
// windows open.
func (s *Store) BackgroundPresence() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.BackgroundPresence
}

// SetBackgroundPresence stores and persists the background-presence flag.
func (s *Store) SetBackgroundPresence(v bool) {
	s.mu.Lock()
	changed := s.cfg.BackgroundPresence != v
	s.cfg.BackgroundPresence = v
	s.mu.Unlock()
	if changed {
		s.save()
		s.fireChange()
	}
}

// Connections returns the stored endpoint list.
func (s *Store) Connections() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Connection(nil), s.cfg.Connections...)
}

// Connection looks up one stored endpoint by URI.
func (s *Store) Connection(uri string) (Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cfg.Connections {
		if c.URI == uri {
			return c, true
		}
	}
	return Connection{}, false
}

// RememberConnection adds or updates a stored endpoint.
func (s *Store) RememberConnection(uri string, autoconnect bool) {
	s.mu.Lock()
	found := false
	for i := range s.cfg.Connections {
		if s.cfg.Connections[i].URI == uri {
			s.cfg.Connections[i].Autoconnect = autoconnect
			found = true
			break
		}
	}
	if !found {
		s.cfg.Connections = append(s.cfg.Connections, Connection{URI: uri, Autoconnect: autoconnect})
	}
	s.mu.Unlock()
	s.save()
}

// ForgetConnection drops a stored endpoint. Unknown URIs are a no-op.
func (s *Store) ForgetConnection(uri string) {
	s.mu.Lock()
	kept := s.cfg.Connections[:0]
	removed := false
	for _, c := range s.cfg.Connections {
		if c.URI == uri {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	s.cfg.Connections = kept
	s.mu.Unlock()
	if removed {
		s.save()
	}
}

// OnChange registers a callback fired after the config changes, whether
// through the store's setters or an external file edit. The returned
// func unsubscribes.
func (s *Store) OnChange(fn func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.onChange[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.onChange, id)
		s.mu.Unlock()
	}
}

func (s *Store) fireChange() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.onChange))
	for _, fn := range s.onChange {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Watch follows the config file for external edits until Close. Editors
// typically replace the file rather than write it in place, so the watch
// is on the parent directory.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-s.closed:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				s.mu.Lock()
				self := time.Since(s.lastSave) < selfWriteQuietTime
				s.mu.Unlock()
				if self {
					continue
				}
				// Editors often emit a burst: rename, chmod, write. Let
				// the dust settle before reading.
				time.Sleep(rewatchDelay)
				if err := s.reload(); err != nil {
					s.log.Warn("reload config", zap.Error(err))
					continue
				}
				s.log.Debug("config reloaded from disk")
				s.fireChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

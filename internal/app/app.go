package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/virtadm/virtui/internal/config"
	"github.com/virtadm/virtui/internal/engine"
	"github.com/virtadm/virtui/internal/eventlog"
	"github.com/virtadm/virtui/internal/prefs"
	"github.com/virtadm/virtui/internal/state"
	"github.com/virtadm/virtui/internal/ui"
)

// Options configure one application run.
type Options struct {
	ConfigPath string // empty uses ~/.config/virtui/config.toml
	PrefsPath  string // empty uses ~/.config/virtui/prefs.toml

	// Startup command, mirroring the CLI flags.
	ConnectURI  string
	ShowWindow  string
	Domain      string
	NoAutostart bool

	Debug bool
}

// Run boots the engine and the TUI until the context is cancelled or the
// last window closes.
func Run(ctx context.Context, opts Options) (err error) {
	userPrefs, prefsErr := prefs.Load(opts.PrefsPath)

	logBuf := eventlog.NewBuffer(userPrefs.LogLines)
	var seedErr error
	if path, pathErr := logFilePath(); pathErr == nil {
		// History from the previous session, read before this run
		// starts appending to the same file.
		seedErr = eventlog.SeedFromFile(logBuf, path, userPrefs.LogLines)
	}
	logger, closeLog := buildLogger(logBuf, opts.Debug)
	defer func() { err = multierr.Append(err, closeLog()) }()
	if prefsErr != nil {
		logger.Warn("preferences unreadable, using defaults", zap.Error(prefsErr))
	}
	if seedErr != nil {
		logger.Warn("could not read previous session log", zap.Error(seedErr))
	}

	// Validate the startup command before anything is wired up, so a
	// typo in --show fails fast instead of after the screen clears.
	cmd, err := startupCommand(opts)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath, logger.Named("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer cfg.Close()
	if err := cfg.Watch(); err != nil {
		logger.Warn("config watching disabled", zap.Error(err))
	}

	store := &state.Store{}
	factory := ui.NewFactory(cfg)

	eng := engine.New(engine.Options{
		Log:      logger.Named("engine"),
		Config:   cfg,
		Store:    store,
		Windows:  factory,
		Errors:   factory,
		Presence: factory,
	})
	factory.Bind(eng)

	model := ui.NewModel(ui.ModelOptions{
		Engine:    eng,
		Store:     store,
		Logs:      logBuf,
		ThemeName: userPrefs.Theme,
	})
	prog := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	factory.Attach(prog)

	go eng.Run(ctx)
	eng.Start(cmd, opts.NoAutostart)

	_, runErr := prog.Run()

	// The engine exits on its own when the last window closes; make sure
	// it also winds down when the UI loop ends first.
	eng.ExitApp()
	<-eng.Done()

	return runErr
}

func startupCommand(opts Options) (*engine.Command, error) {
	if opts.ConnectURI == "" && opts.ShowWindow == "" && opts.Domain == "" {
		return nil, nil
	}
	kind, err := engine.ParseWindowKind(opts.ShowWindow)
	if err != nil {
		return nil, err
	}
	if opts.ConnectURI == "" {
		return nil, fmt.Errorf("--show and --domain require --connect")
	}
	return &engine.Command{URI: opts.ConnectURI, Window: kind, Domain: opts.Domain}, nil
}

// buildLogger tees structured logs to a file under the user data dir and
// to the in-memory buffer behind the log panel. The terminal is owned by
// the TUI, so nothing goes to stderr. File logging is best effort.
func buildLogger(buf *eventlog.Buffer, debug bool) (*zap.Logger, func() error) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{eventlog.NewCore(buf, level)}
	closeFile := func() error { return nil }

	if path, err := logFilePath(); err == nil {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
				encCfg := zap.NewProductionEncoderConfig()
				encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
				cores = append(cores, zapcore.NewCore(
					zapcore.NewConsoleEncoder(encCfg),
					zapcore.Lock(f),
					level,
				))
				closeFile = f.Close
			}
		}
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() error {
		return multierr.Append(logger.Sync(), closeFile())
	}
}

func logFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "virtui", "virtui.log"), nil
}

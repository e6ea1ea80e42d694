// Package app wires the application together.
//
// # Composition
//
// Run builds every long-lived piece in dependency order and tears them
// down in reverse:
//
//  1. Preferences and the event-log buffer, so logging exists before
//     anything can fail.
//  2. The zap logger, teed between a file under ~/.local/share/virtui
//     and the in-memory buffer behind the UI's log panel.
//  3. The config store, with filesystem watching for external edits.
//  4. The state store, the engine, and the UI factory. The factory
//     implements the engine's window, error, and presence interfaces,
//     so the engine never imports the UI package.
//  5. The bubbletea program, attached to the factory last so that any
//     windows the engine opened during startup are replayed to it.
//
// # Lifetimes
//
// The engine runs on its own goroutine and decides when the process is
// done: when the last window closes with no background presence, it
// cleans up and asks the UI to quit. If the UI loop ends first, for
// example on SIGINT, Run tells the engine to exit and waits for its
// worker to drain before returning.
//
// # Startup commands
//
// The --connect, --show, and --domain flags become a single engine
// command that is validated here, before the alternate screen is
// entered, and dispatched by the engine once its loop is running.
package app

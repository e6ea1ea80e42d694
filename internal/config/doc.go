// Package config persists virtui's application settings.
//
// # Overview
//
// The configuration lives in a small TOML file and covers three things:
// the background poll interval, the background-presence flag, and the
// list of stored connection endpoints with their autoconnect flags.
// Unlike a read-once config, the Store is live: the engine writes to it
// as the user adds and removes connections, and a filesystem watcher
// picks up edits made outside the application.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/virtui/config.toml (default)
//  3. If the config file doesn't exist, start from in-memory defaults
//  4. If the file exists but fields are missing, use defaults per field
//
// # TOML Format
//
// Example config.toml:
//
//	poll_interval_seconds = 3
//	background_presence = false
//
//	[[connections]]
//	uri = "qemu:///system"
//	autoconnect = true
//
// A poll interval below one second is treated as misconfiguration and
// replaced by the default.
//
// # Change Notification
//
// OnChange registers a callback fired after any effective change: a
// setter that actually altered a value, or an external file edit picked
// up by Watch. Redundant sets do not fire. Callbacks run on whichever
// goroutine caused the change, so subscribers that care about ordering
// hop to their own loop.
//
// # External Edits
//
// Watch uses fsnotify on the config file's parent directory, since most
// editors replace the file rather than writing in place. The store's
// own saves are recognized by timing and skipped, so the engine does not
// react to changes it made itself.
//
// # Error Handling
//
// Load returns errors for path expansion failures, unreadable files, and
// TOML parse errors. A missing file is not an error. Save failures are
// logged rather than returned: losing persistence is worth a warning,
// not worth interrupting the user's session.
package config

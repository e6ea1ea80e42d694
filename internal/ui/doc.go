// Package ui renders the terminal interface with bubbletea.
//
// # Architecture
//
// The engine owns all state and runs on its own goroutine; this package
// is a thin presentation layer over it. The two sides meet in Factory,
// which implements the engine's window, error-surface, and presence
// interfaces and translates each call into a message posted to the
// bubbletea program:
//
//	engine goroutine            bubbletea loop
//	----------------            --------------
//	Window.Show()        --->   openViewMsg
//	Window.Cleanup()     --->   closeViewMsg
//	DetailsWindow.
//	  ActivatePage()     --->   activatePageMsg
//	ShowError()          --->   errorMsg
//	AskRetain()          --->   retainMsg
//
// Input flows the other way: key handlers in Model call the engine's
// exported entry points, which post work onto the engine loop and
// return immediately. The model never mutates connection or guest
// state itself.
//
// # Windows
//
// Each engine window is backed by a windowAdapter holding an atomic
// visibility flag. The flag flips on Show and Cleanup from the engine
// side and on user dismissal from the UI side, and every transition
// updates the engine's window counter, so the counter stays truthful
// no matter which side closed the window.
//
// Open windows form a stack in the model, topmost last. The top window
// receives input; closing it reveals the one beneath, and an empty
// stack falls back to the manager listing.
//
// # Data
//
// Guest and connection data is read from the state store snapshot,
// refreshed once a second and on demand. Snapshots are deep copies, so
// rendering never races the engine.
package ui

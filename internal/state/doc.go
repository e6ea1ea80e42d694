// Package state provides the thread-safe snapshot store shared between
// the engine and the UI.
//
// # Overview
//
// The engine's foreground loop publishes a full Snapshot after every
// event that changes what the user should see: a poll completing, a
// connection changing state, a guest appearing or vanishing, the window
// counter moving. The UI reads snapshots on its own refresh schedule and
// renders whatever is latest.
//
//	Producer (engine loop):        Consumer (UI):
//	┌────────────────┐            ┌─────────────────┐
//	│ tick / events  │            │                 │
//	│      ↓         │            │                 │
//	│ store.Update() │───────────→│ store.Snapshot()│
//	│      ↓         │  (mutex)   │      ↓          │
//	│  repeat...     │            │  render views   │
//	└────────────────┘            └─────────────────┘
//
// # Concurrency Model
//
// Store uses a readers-writer lock: Update takes the write lock, Snapshot
// the read lock. There is exactly one writer (the engine loop) and any
// number of readers. The lock is held only while copying, never during
// polling or rendering.
//
// # Update Semantics
//
// Update replaces the whole connection view atomically, so the UI never
// observes a half-applied poll. RecordError is separate: a failed poll
// keeps the last good connection data on screen and annotates it with the
// failure, rather than blanking the display.
//
// # Defensive Copying
//
// Both Update and Snapshot deep-copy the connection and guest slices.
// The UI can mutate what it received (sorting for display, say) without
// corrupting the stored snapshot, and the engine can keep publishing
// without racing a render in progress.
//
// # Testing Considerations
//
// The zero value is ready to use:
//
//	store := &state.Store{}
//
// Snapshot on a never-updated store returns a zero Snapshot.
package state

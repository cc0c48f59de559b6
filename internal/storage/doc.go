package storage

// Package storage persists the engine's records: contacts, events, drafted
// messages, delivery jobs, and reminder dedup marks.
//
// Jobs are retained after completion; the engine never deletes delivery
// history. Non-terminal jobs surviving here are what the startup recovery
// rescan replays.

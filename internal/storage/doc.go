// Package storage persists the bot's runtime settings.
//
// It currently supports:
//   - Settings record load/save (channel id + insertion line)
//   - Audit log appends (operator actions that changed settings)
package storage

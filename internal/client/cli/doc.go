// Package cli provides the interactive OpenEmail command-line client.
//
// It wires configuration, the local database, the protocol client and the
// services into a REPL. Typical flow: restore the stored session (or
// register / log in), start the background sync watcher, then execute user
// commands until exit.
//
// Key features:
//   - Register / Login / Logout with locally stored credentials
//   - Send, reply, list, read, recall and delete messages
//   - Download attachments with part progress
//   - Manage contacts and the published profile
//   - Sync on demand and periodically in the background
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App, StartSyncWatcher, and runREPL for details.
package cli

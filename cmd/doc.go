// Package cmd implements the command-line interface for the ikv key-value store.
// Every command opens the store given by --path, runs its operations and closes it again.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value store operations (get, set, add, indexed writes, scan, etc.)
//   - lock: Commands for locking operations (acquire, release)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Flags can also be set through environment variables with the IKV_ prefix
// (e.g. IKV_PATH, IKV_LOG_LEVEL), which are also read from .env and .env.local.
//
// See ikv -help for a list of all commands.
package cmd

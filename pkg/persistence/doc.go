// Package persistence provides the key/value string storage the trust store
// uses to keep certificates across restarts.
//
// Three providers are available: MemoryProvider for tests and ephemeral
// identities, FileProvider for a plain JSON file, and SecureFileProvider
// which seals the same JSON document with a passphrase-derived key.
package persistence

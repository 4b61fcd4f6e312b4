// Package internal contains helpers that are private to credcore, currently
// secure random token material.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: server configuration loading (viper + godotenv)
//   - flows: pure-function orchestrators for every Engine operation
//   - hashpool: bounded worker pool for CPU-heavy password hashing
//   - httpapi: thin chi handlers over the Engine used by the reference server
//   - rate: Redis-backed failed-login and refresh counters
//   - security: startup summary of the effective security settings
//
// # What this package must NOT do
//
//   - Export types that appear in the public credcore API.
//   - Be imported by any package outside the credcore module.
package internal

// Package logx configures hwbot's structured logging.
//
// The package wraps zerolog behind a small value type (logx.Logger) to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and append-only
//   - Sinks and levels swappable at runtime (Service.Apply)
package logx

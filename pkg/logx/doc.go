// Package logx configures geoprobe's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An in-memory ring of recent warnings for the HTTP API (min-level + rate limiting)
package logx

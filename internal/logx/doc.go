// Package logx configures cadence's structured logging.
//
// This is a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A safe zero-value Logger (Nop()) so components can log before a real
//     logger is wired
package logx

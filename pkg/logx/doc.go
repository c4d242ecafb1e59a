// Package logx configures quizbot's structured logging.
//
// It wraps zerolog behind a small value-type Logger so components can carry
// fixed fields (comp=scheduler, chat_id=...) and so sinks can be swapped on
// config reload:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional log channel sink (min-level + rate limiting)
package logx

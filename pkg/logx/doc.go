// Package logx configures structured logging.
//
// logx.Logger is a small wrapper over zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON lines
//   - an optional Telegram sink forwards warnings to a log chat, rate limited
package logx

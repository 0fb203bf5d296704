// Package logx configures funbot's structured logging.
//
// Components take a logx.Logger (a thin wrapper over zerolog) so that:
//   - Console output stays readable (short timestamp and caller)
//   - File output is JSON-structured
//   - Warnings can be mirrored to a Telegram chat (min level plus rate limit)
package logx

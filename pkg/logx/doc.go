// Package logx is stoerbot's structured logging on top of zerolog.
//
// Console output is human readable with a short caller, the optional log
// file (the classic data/bot.log) gets JSON lines. Loggers handed out by a
// Service follow Service.Apply, so LOG_LEVEL changes apply without restart.
package logx

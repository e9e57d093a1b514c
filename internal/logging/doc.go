// Package logging sets up structured slog logging for qamatch commands.
//
// Without --debug, commands log human-readable text to stderr at the
// configured level. With --debug, JSON logs are also written to a rotating
// file under <data dir>/logs. The MCP server never writes logs to stderr
// or stdout because stdout carries the protocol stream.
package logging

// Package logx wraps zerolog behind a small structured-logging API.
//
// Components hold a logx.Logger value; the zero value is a safe no-op.
// A Service owns the sinks (console, file) and can re-apply config at
// runtime without invalidating loggers already handed out.
package logx

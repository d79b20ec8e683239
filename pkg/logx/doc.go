// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a value-type Logger with closure Fields so callers never touch
// zerolog directly, plus a Service that can swap sinks and levels at runtime
// when the config file changes.
package logx

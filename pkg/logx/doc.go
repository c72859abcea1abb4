// Package logx is naptimed's structured logging: a small value-type Logger
// over zerolog with readable console output, JSON file output, per-logger
// throttling for per-tick lines, and an in-memory tail of recent warnings.
package logx

// Package logger wraps zap behind a process-global sugared logger plus
// context helpers. Code takes a context.Context and logs through the
// package-level functions (InfoKV, WarnKV, ...), which pull the logger
// stored in the context or fall back to the global one. WithName and
// WithKV derive scoped loggers for subsystems.
package logger

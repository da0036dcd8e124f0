package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// coreWithLevel overrides the enabled level of a wrapped zapcore.Core.
type coreWithLevel struct {
	zapcore.Core

	level zapcore.Level
}

// Enabled reports whether the override level admits l.
func (c *coreWithLevel) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check attaches this core to the checked entry when its level is admitted.
//
//nolint:gocritic // AddCore takes the entry by value.
func (c *coreWithLevel) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With carries the override level onto the field-extended core.
//
//nolint:ireturn,nolintlint // zapcore.Core is the contract.
func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{
		c.Core.With(fields),
		c.level,
	}
}

// WithLevel returns a zap.Option that pins a derived logger to lvl
// regardless of the parent logger's level.
//
//nolint:ireturn,nolintlint // zap.Option is the contract.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(
		func(core zapcore.Core) zapcore.Core {
			return &coreWithLevel{core, lvl}
		})
}

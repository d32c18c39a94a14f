package logging

import "go.uber.org/zap/zapcore"

// newSampledCore samples entries below error level. Errors always reach core.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	return &errorBypassCore{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, cfg.Tick, cfg.Initial, cfg.Thereafter),
	}
}

// errorBypassCore sends error and above straight to the wrapped core and
// everything else through the sampler.
type errorBypassCore struct {
	zapcore.Core
	sampled zapcore.Core
}

func (c *errorBypassCore) With(fields []zapcore.Field) zapcore.Core {
	return &errorBypassCore{Core: c.Core.With(fields), sampled: c.sampled.With(fields)}
}

func (c *errorBypassCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return c.Core.Check(e, ce)
	}
	return c.sampled.Check(e, ce)
}

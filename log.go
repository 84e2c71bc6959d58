package pagekv

import "go.uber.org/zap"

// newLogger builds the module's structured logger using go.uber.org/zap. A
// nil cfg.Logger falls back to a no-op logger rather than stdout, so an
// embedding application is never forced to see this engine's log lines
// unless it asks for them.
func newLogger(cfg Config) *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

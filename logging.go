package synapse

import "go.uber.org/zap"

// newLogger builds the module's default structured logger. A caller may
// instead pass Config.Logger to use their own *zap.SugaredLogger; Init
// never reaches for a package-global logger.
func newLogger() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar().Named("synapse")
}

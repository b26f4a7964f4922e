package logger

import "go.uber.org/zap"

// New builds a named sugared logger for a component.
func New(name string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return l.Sugar().Named(name), nil
}

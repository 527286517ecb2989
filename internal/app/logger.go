package app

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
)

// NewLogger builds the service logger. Pretty logs use zap's development
// encoder; everything else is JSON.
func NewLogger(level string, pretty bool) (ectologger.Logger, func() error, error) {
	zcfg := zap.NewProductionConfig()
	if pretty {
		zcfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg.Level = lvl

	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zl, nil), zl.Sync, nil
}

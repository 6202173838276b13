package syncer

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func zaptestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
}

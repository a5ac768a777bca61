package logger

import (
	"testing"

	"smallbiznis-missions/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func TestFxEvent(t *testing.T) {
	log := zap.NewNop()

	dev := FxEvent(&config.Config{AppEnv: "development"}, log)
	require.IsType(t, &fxevent.ZapLogger{}, dev)

	prod := FxEvent(&config.Config{AppEnv: "production"}, log)
	require.Equal(t, fxevent.NopLogger, prod)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(ConfigParams{Cfg: &config.Config{AppEnv: "production", LogLevel: "loud"}})
	require.Error(t, err)
}

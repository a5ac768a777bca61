package exporters

import (
	"testing"

	"smallbiznis-missions/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownProtocol(t *testing.T) {
	cfg := &config.Config{}
	cfg.Otel.Addr = "127.0.0.1:4318"
	cfg.Otel.Protocol = "kafka"

	_, err := New(cfg)
	require.ErrorContains(t, err, "unsupported otel protocol")
}

func TestNewHTTP(t *testing.T) {
	cfg := &config.Config{}
	cfg.Otel.Addr = "127.0.0.1:4318"

	exp, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, exp)
}

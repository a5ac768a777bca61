package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, 24*time.Hour, cfg.Policy.DefaultTimeout)
	require.Equal(t, int64(10000), cfg.Policy.MinPayoutAmount)
	require.Equal(t, time.Minute, cfg.Sweeper.Interval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLICY_MIN_PAYOUT_AMOUNT", "2500")
	t.Setenv("DATABASE_TYPE", "sqlite")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	require.Equal(t, int64(2500), cfg.Policy.MinPayoutAmount)
	require.Equal(t, "sqlite", cfg.Database.Type)
}

func TestTimeoutFor(t *testing.T) {
	cfg := &Config{}
	cfg.Policy.DefaultTimeout = time.Hour
	cfg.Policy.Timeouts = map[string]time.Duration{"receipt-upload": 30 * time.Minute}

	require.Equal(t, 30*time.Minute, cfg.TimeoutFor("receipt-upload"))
	require.Equal(t, time.Hour, cfg.TimeoutFor("visit"))
}

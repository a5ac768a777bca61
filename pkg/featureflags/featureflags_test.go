package featureflags

import (
	"context"
	"testing"

	"smallbiznis-missions/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestUnconfiguredFallsBack(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	require.True(t, ff.Enabled(context.Background(), AutoVerification, "m-1", true))
	require.False(t, ff.Enabled(context.Background(), AutoVerification, "m-1", false))
}

func TestStatic(t *testing.T) {
	ff := Static{AutoVerification: false}
	require.False(t, ff.Enabled(context.Background(), AutoVerification, "m-1", true))
	require.True(t, ff.Enabled(context.Background(), PayoutsEnabled, "m-1", true))
}

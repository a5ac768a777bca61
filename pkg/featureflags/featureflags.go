package featureflags

import (
	"context"

	"smallbiznis-missions/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Flag names read by the services.
const (
	AutoVerification = "auto_verification"
	PayoutsEnabled   = "payouts_enabled"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	Enabled(ctx context.Context, flag, identifier string, fallback bool) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

// Enabled returns fallback when flagsmith is not configured or unreachable.
func (s *featureflag) Enabled(ctx context.Context, flag, identifier string, fallback bool) bool {
	if s.client == nil {
		return fallback
	}

	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		zap.L().Warn("failed to fetch feature flags", zap.String("flag", flag), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(flag)
	if err != nil {
		return fallback
	}
	return enabled
}

// Static is a fixed flag set, used when flags are driven from tests or config.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, flag, _ string, fallback bool) bool {
	if v, ok := s[flag]; ok {
		return v
	}
	return fallback
}

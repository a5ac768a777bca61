package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-missions/pkg/config"
	"smallbiznis-missions/pkg/db"
	"smallbiznis-missions/pkg/hashistack/secretmanager"
	"smallbiznis-missions/pkg/logger"
	"smallbiznis-missions/services/ledger"
	"smallbiznis-missions/services/participation"
	"smallbiznis-missions/services/payout"
	"smallbiznis-missions/services/quota"
	"smallbiznis-missions/services/sweeper"
	"smallbiznis-missions/services/verification"
)

var models = []any{
	&quota.MissionDay{},
	&participation.Participation{},
	&verification.VerificationEvidence{},
	&verification.VerificationResult{},
	&ledger.LedgerEntry{},
	&ledger.MemberBalance{},
	&payout.PayoutAccount{},
	&payout.PayoutRequest{},
	&sweeper.SweepRun{},
}

func main() {
	app := fx.New(
		secretmanager.Module(),
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	if err := app.Stop(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func migrate(db *gorm.DB, logger *zap.Logger) error {
	start := time.Now()
	if err := db.AutoMigrate(models...); err != nil {
		logger.Error("auto migrate failed", zap.Error(err))
		return err
	}
	logger.Info("schema migrated", zap.Int("models", len(models)), zap.Duration("took", time.Since(start)))
	return nil
}

package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a vault client configured from the standard VAULT_*
// environment. Without VAULT_ADDR it provides nothing and config falls back
// to plain environment values.
func Module() fx.Option {
	if os.Getenv("VAULT_ADDR") == "" {
		return fx.Options()
	}
	return fx.Module("secretmanager", fx.Provide(ProvideVault))
}

func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		zap.L().Error("failed to create vault client", zap.Error(err))
		return nil, err
	}

	return client, nil
}

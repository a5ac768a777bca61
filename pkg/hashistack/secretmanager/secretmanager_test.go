package secretmanager

import (
	"testing"

	vault "github.com/hashicorp/vault-client-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestModuleWithoutVault(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")

	var client *vault.Client
	app := fxtest.New(t,
		Module(),
		fx.Invoke(func(p struct {
			fx.In
			Vault *vault.Client `optional:"true"`
		}) {
			client = p.Vault
		}),
	)
	app.RequireStart().RequireStop()
	require.Nil(t, client)
}

func TestModuleWithVault(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")

	var client *vault.Client
	app := fxtest.New(t, Module(), fx.Populate(&client))
	app.RequireStart().RequireStop()
	require.NotNil(t, client)
}

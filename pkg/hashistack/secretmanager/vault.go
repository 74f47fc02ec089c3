package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a Vault client when VAULT_ADDR is set in the environment.
// It runs before config loading, so it reads the environment directly.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault returns a nil client when Vault is not configured.
func ProvideVault() (*vault.Client, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	zap.L().Info("vault client configured", zap.String("addr", os.Getenv("VAULT_ADDR")))
	return client, nil
}

package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/KeshavSoni17/halo-backend/pkg/config"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"
)

// ErrSecretNotFound is returned when no source holds the key
var ErrSecretNotFound = errors.New("secret not found")

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvManager reads secrets from environment variables
type EnvManager struct{}

// GetSecret maps "deepgram-api-key" or "deepgram.api_key" to DEEPGRAM_API_KEY
func (EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// NewManager returns a Vault-backed manager with environment fallback when
// Vault is enabled, and a plain environment manager otherwise.
func NewManager(cfg *config.Config, log *logger.Logger) (Manager, error) {
	if !cfg.Vault.Enabled {
		return EnvManager{}, nil
	}
	return NewVaultManager(VaultConfig{
		Address: cfg.Vault.Address,
		Token:   cfg.Vault.Token,
		Mount:   cfg.Vault.Mount,
		Path:    cfg.Vault.Path,
	}, log)
}

// ResolveCredentials fills in the upstream API keys and the field
// encryption key that were not set directly in the environment.
func ResolveCredentials(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) {
	targets := []struct {
		key string
		dst *string
	}{
		{"deepgram_api_key", &cfg.Deepgram.APIKey},
		{"anthropic_api_key", &cfg.Anthropic.APIKey},
		{"field_encryption_key", &cfg.Encryption.Key},
	}

	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		value, err := m.GetSecret(ctx, t.key)
		if err != nil {
			log.Warn("secret not resolved", "key", t.key, "error", err.Error())
			continue
		}
		*t.dst = value
	}
}

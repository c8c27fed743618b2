package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

// Common errors
var (
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address    string
	Token      string
	Namespace  string
	Mount      string
	Path       string
	Timeout    time.Duration
	MaxRetries int
}

// VaultManager reads secrets from a KV v2 mount, falling back to the environment
type VaultManager struct {
	client   *vault.Client
	config   VaultConfig
	fallback Manager
	cache    map[string]string
	mu       sync.RWMutex
	log      *logger.Logger
}

// NewVaultManager creates a new Vault manager instance
func NewVaultManager(config VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}
	if config.Mount == "" {
		config.Mount = "secret"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout
	vaultConfig.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}

	return &VaultManager{
		client:   client,
		config:   config,
		fallback: EnvManager{},
		cache:    make(map[string]string),
		log:      log.WithComponent("secrets"),
	}, nil
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	cached, found := m.cache[key]
	m.mu.RUnlock()
	if found {
		return cached, nil
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("secret not found in vault, falling back to environment", "key", key)
			return m.fallback.GetSecret(ctx, key)
		}
		return "", err
	}

	m.mu.Lock()
	m.cache[key] = value
	m.mu.Unlock()

	return value, nil
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	path := m.config.Mount + "/data/" + m.config.Path

	secret, err := m.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return "", ErrSecretNotFound
	}

	value, ok := data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}

	return value, nil
}
